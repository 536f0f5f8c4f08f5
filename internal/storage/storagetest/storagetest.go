// Package storagetest holds the behavior every storage.Repository must
// share, run by each backend's tests.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"spesebook/internal/core"
	"spesebook/internal/storage"
)

// Factory returns an empty repository; cleanup is registered on t.
type Factory func(t *testing.T) storage.Repository

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) core.Timestamp {
	return core.NewTimestamp(base.Add(offset))
}

func group(id string, offset time.Duration) core.Group {
	return core.Group{ID: id, Name: "Group " + id, CreatedAt: at(offset), TotalExpenses: core.Zero}
}

func entry(id, parent, amount string, date, created time.Duration) core.Entry {
	return core.Entry{
		ID:          id,
		ParentID:    parent,
		Description: "entry " + id,
		Amount:      core.MustMoney(amount),
		Category:    "food",
		Date:        at(date),
		CreatedAt:   at(created),
	}
}

// Run exercises the Repository contract against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("GroupRoundTrip", func(t *testing.T) { testGroupRoundTrip(t, newRepo(t)) })
	t.Run("GroupDuplicate", func(t *testing.T) { testGroupDuplicate(t, newRepo(t)) })
	t.Run("GroupOrder", func(t *testing.T) { testGroupOrder(t, newRepo(t)) })
	t.Run("UpdateGroupTotal", func(t *testing.T) { testUpdateGroupTotal(t, newRepo(t)) })
	t.Run("EntryLifecycle", func(t *testing.T) { testEntryLifecycle(t, newRepo(t)) })
	t.Run("EntryOrder", func(t *testing.T) { testEntryOrder(t, newRepo(t)) })
	t.Run("PurgeEntries", func(t *testing.T) { testPurgeEntries(t, newRepo(t)) })
	t.Run("Categories", func(t *testing.T) { testCategories(t, newRepo(t)) })
	t.Run("Restore", func(t *testing.T) { testRestore(t, newRepo(t)) })
}

func testGroupRoundTrip(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	g := group("2024-03", 0)
	if err := r.InsertGroup(ctx, g); err != nil {
		t.Fatalf("insert group: %v", err)
	}
	got, err := r.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if got.ID != g.ID || got.Name != g.Name || !got.CreatedAt.Equal(g.CreatedAt.Time) || !got.TotalExpenses.IsZero() {
		t.Fatalf("unexpected group: %+v", got)
	}

	if _, err := r.GetGroup(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := r.DeleteGroup(ctx, g.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	if err := r.DeleteGroup(ctx, g.ID); err != nil {
		t.Fatalf("delete absent group: %v", err)
	}
	if _, err := r.GetGroup(ctx, g.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func testGroupDuplicate(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	if err := r.InsertGroup(ctx, group("2024-03", 0)); err != nil {
		t.Fatalf("insert group: %v", err)
	}
	err := r.InsertGroup(ctx, group("2024-03", time.Hour))
	if !errors.Is(err, core.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func testGroupOrder(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	for _, g := range []core.Group{
		group("2024-01", 0),
		group("2024-03", 2*time.Hour),
		group("2024-02", time.Hour),
	} {
		if err := r.InsertGroup(ctx, g); err != nil {
			t.Fatalf("insert group %s: %v", g.ID, err)
		}
	}
	groups, err := r.ListGroups(ctx)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	want := []string{"2024-03", "2024-02", "2024-01"}
	if len(groups) != len(want) {
		t.Fatalf("expected %d groups, got %d", len(want), len(groups))
	}
	for i, id := range want {
		if groups[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, groups[i].ID)
		}
	}
}

func testUpdateGroupTotal(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	if err := r.InsertGroup(ctx, group("2024-03", 0)); err != nil {
		t.Fatalf("insert group: %v", err)
	}
	if err := r.InsertGroup(ctx, group("2024-04", 0)); err != nil {
		t.Fatalf("insert group: %v", err)
	}
	for _, e := range []core.Entry{
		entry("a", "2024-03", "10.50", 0, 0),
		entry("b", "2024-03", "0.1", 0, 0),
		entry("c", "2024-03", "0.2", 0, 0),
		entry("d", "2024-04", "99", 0, 0),
	} {
		if err := r.InsertEntry(ctx, e); err != nil {
			t.Fatalf("insert entry %s: %v", e.ID, err)
		}
	}

	g, err := r.UpdateGroupTotal(ctx, "2024-03")
	if err != nil {
		t.Fatalf("update total: %v", err)
	}
	if !g.TotalExpenses.Equal(core.MustMoney("10.80")) {
		t.Fatalf("expected total 10.80, got %s", g.TotalExpenses)
	}
	stored, err := r.GetGroup(ctx, "2024-03")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if !stored.TotalExpenses.Equal(core.MustMoney("10.80")) {
		t.Fatalf("expected stored total 10.80, got %s", stored.TotalExpenses)
	}

	if _, err := r.UpdateGroupTotal(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testEntryLifecycle(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	e := entry("e1", "2024-03", "12.34", 0, 0)
	if err := r.InsertEntry(ctx, e); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	if err := r.InsertEntry(ctx, e); !errors.Is(err, core.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	got, err := r.GetEntry(ctx, "e1")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Description != e.Description || !got.Amount.Equal(e.Amount) || !got.Date.Equal(e.Date.Time) {
		t.Fatalf("unexpected entry: %+v", got)
	}

	got.Description = "changed"
	if err := r.ReplaceEntry(ctx, got); err != nil {
		t.Fatalf("replace entry: %v", err)
	}
	if again, _ := r.GetEntry(ctx, "e1"); again.Description != "changed" {
		t.Fatalf("expected replaced description, got %q", again.Description)
	}
	if err := r.ReplaceEntry(ctx, entry("ghost", "2024-03", "1", 0, 0)); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on replace, got %v", err)
	}

	removed, ok, err := r.DeleteEntry(ctx, "e1")
	if err != nil || !ok {
		t.Fatalf("delete entry: ok=%v err=%v", ok, err)
	}
	if removed.ParentID != "2024-03" {
		t.Fatalf("expected removed entry parent, got %q", removed.ParentID)
	}
	if _, ok, err := r.DeleteEntry(ctx, "e1"); err != nil || ok {
		t.Fatalf("delete absent entry: ok=%v err=%v", ok, err)
	}
	if _, err := r.GetEntry(ctx, "e1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testEntryOrder(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	for _, e := range []core.Entry{
		entry("old", "g", "1", 0, 0),
		entry("new-early", "g", "1", 24*time.Hour, time.Minute),
		entry("new-late", "g", "1", 24*time.Hour, 2*time.Minute),
		entry("other", "h", "1", 48*time.Hour, 0),
	} {
		if err := r.InsertEntry(ctx, e); err != nil {
			t.Fatalf("insert entry %s: %v", e.ID, err)
		}
	}
	entries, err := r.ListEntriesByGroup(ctx, "g")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	want := []string{"new-late", "new-early", "old"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, entries[i].ID)
		}
	}

	empty, err := r.ListEntriesByGroup(ctx, "nothing")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", empty)
	}
}

func testPurgeEntries(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	if err := r.InsertGroup(ctx, group("g", 0)); err != nil {
		t.Fatalf("insert group: %v", err)
	}
	for _, e := range []core.Entry{
		entry("1", "g", "5", 0, 0),
		entry("2", "g", "5", 0, 0),
		entry("3", "h", "5", 0, 0),
	} {
		if err := r.InsertEntry(ctx, e); err != nil {
			t.Fatalf("insert entry %s: %v", e.ID, err)
		}
	}
	if _, err := r.UpdateGroupTotal(ctx, "g"); err != nil {
		t.Fatalf("update total: %v", err)
	}

	n, err := r.PurgeEntriesForGroup(ctx, "g")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 purged, got %d", n)
	}
	left, _ := r.ListEntriesByGroup(ctx, "h")
	if len(left) != 1 {
		t.Fatalf("expected other group untouched, got %d entries", len(left))
	}

	// Purging does not touch the stored total.
	g, err := r.GetGroup(ctx, "g")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if !g.TotalExpenses.Equal(core.MustMoney("10")) {
		t.Fatalf("expected total to stay 10, got %s", g.TotalExpenses)
	}
}

func testCategories(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	for _, name := range []string{"zeta", "Alpha", "beta", "alpha"} {
		c, err := core.NewCategory(name, false, at(0))
		if err != nil {
			t.Fatalf("new category: %v", err)
		}
		if name == "alpha" {
			// "alpha" collides with "Alpha" on id, so store it under another one.
			c.ID = "alpha-lower"
		}
		if err := r.InsertCategory(ctx, c); err != nil {
			t.Fatalf("insert category %q: %v", name, err)
		}
	}

	cats, err := r.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list categories: %v", err)
	}
	want := []string{"Alpha", "alpha", "beta", "zeta"}
	if len(cats) != len(want) {
		t.Fatalf("expected %d categories, got %d", len(want), len(cats))
	}
	for i, name := range want {
		if cats[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, cats[i].Name)
		}
	}

	dupID := core.Category{ID: "beta", Name: "Beta 2", CreatedAt: at(0)}
	if err := r.InsertCategory(ctx, dupID); !errors.Is(err, core.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey on id, got %v", err)
	}
	dupName := core.Category{ID: "other-id", Name: "zeta", CreatedAt: at(0)}
	if err := r.InsertCategory(ctx, dupName); !errors.Is(err, core.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey on name, got %v", err)
	}

	if n, err := r.CountCategories(ctx); err != nil || n != 4 {
		t.Fatalf("count: n=%d err=%v", n, err)
	}
	if err := r.DeleteCategory(ctx, "beta"); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	if err := r.DeleteCategory(ctx, "beta"); err != nil {
		t.Fatalf("delete absent category: %v", err)
	}
	if _, err := r.GetCategory(ctx, "beta"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testRestore(t *testing.T, r storage.Repository) {
	ctx := context.Background()
	if err := r.InsertGroup(ctx, group("stale", 0)); err != nil {
		t.Fatalf("insert group: %v", err)
	}
	if err := r.InsertEntry(ctx, entry("stale-entry", "stale", "3", 0, 0)); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	food, _ := core.NewCategory("Food", true, at(0))
	if err := r.InsertCategory(ctx, food); err != nil {
		t.Fatalf("insert category: %v", err)
	}

	imported := group("2024-05", 0)
	imported.TotalExpenses = core.MustMoney("7")
	travel, _ := core.NewCategory("Travel", false, at(0))
	foodAgain, _ := core.NewCategory("Food", false, at(time.Hour))

	err := r.Restore(ctx,
		[]core.Group{imported},
		[]core.Entry{entry("x", "2024-05", "7", 0, 0)},
		[]core.Category{travel, foodAgain})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	groups, _ := r.ListGroups(ctx)
	if len(groups) != 1 || groups[0].ID != "2024-05" || !groups[0].TotalExpenses.Equal(core.MustMoney("7")) {
		t.Fatalf("unexpected groups after restore: %+v", groups)
	}
	if _, err := r.GetEntry(ctx, "stale-entry"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected stale entry gone, got %v", err)
	}
	if _, err := r.GetEntry(ctx, "x"); err != nil {
		t.Fatalf("expected imported entry: %v", err)
	}

	cats, _ := r.ListCategories(ctx)
	if len(cats) != 2 {
		t.Fatalf("expected 2 categories, got %+v", cats)
	}
	kept, err := r.GetCategory(ctx, "food")
	if err != nil {
		t.Fatalf("get category: %v", err)
	}
	if !kept.IsDefault {
		t.Fatalf("expected existing Food category to be kept as default")
	}
}
