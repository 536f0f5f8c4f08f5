package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"spesebook/internal/amqp"
	"spesebook/internal/cache"
	"spesebook/internal/core"
	"spesebook/internal/log"
	"spesebook/internal/storage"
)

// ChangePublisher announces store mutations. *amqp.Client implements it.
type ChangePublisher interface {
	PublishChange(ctx context.Context, msg *amqp.ChangeMessage) error
}

// Recorder receives operation metrics. *metrics.Metrics implements it.
type Recorder interface {
	RecordOperation(operation string, err error, d time.Duration)
	IncrCacheHit(cache string)
	IncrCacheMiss(cache string)
	IncrChangePublished(outcome string)
}

const (
	categoriesCacheKey = "all"
	categoriesCacheTTL = 10 * time.Minute
)

// LedgerService implements the expense book operations on top of a
// record-level repository: groups, their entries and derived totals,
// categories, and snapshot export/import.
type LedgerService struct {
	repo       storage.Repository
	publisher  ChangePublisher
	metrics    Recorder
	logger     *log.Logger
	categories cache.Cache[[]core.Category]
	now        func() time.Time

	catMu  sync.Mutex
	catGen uint64 // bumped by every category write, guarded by catMu
}

type Option func(*LedgerService)

// WithPublisher sends a change message after every successful mutation.
func WithPublisher(p ChangePublisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

func WithMetrics(r Recorder) Option {
	return func(s *LedgerService) { s.metrics = r }
}

func WithLogger(l *log.Logger) Option {
	return func(s *LedgerService) { s.logger = l.WithComponent(log.ComponentLedger) }
}

// WithClock overrides the time source used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func NewLedgerService(repo storage.Repository, opts ...Option) *LedgerService {
	s := &LedgerService{
		repo:       repo,
		logger:     log.FromContext(context.Background()).WithComponent(log.ComponentLedger),
		categories: cache.NewLRUCache[[]core.Category](1, categoriesCacheTTL),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CategoryCache exposes the category read cache so a cache.Manager can
// expire it.
func (s *LedgerService) CategoryCache() cache.Cleaner {
	if c, ok := s.categories.(cache.Cleaner); ok {
		return c
	}
	return nil
}

func (s *LedgerService) timestamp() core.Timestamp {
	return core.NewTimestamp(s.now())
}

func (s *LedgerService) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, err, time.Since(start))
	}
}

// publish is best effort: the mutation already happened.
func (s *LedgerService) publish(ctx context.Context, collection, op, id, groupID string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishChange(ctx, amqp.NewChangeMessage(collection, op, id, groupID))
	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		s.metrics.IncrChangePublished(outcome)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to publish change message",
			"collection", collection,
			log.FieldOperation, op,
			"id", id,
			log.FieldError, err)
	}
}

// CreateGroup stores a new group. An empty id selects the current month.
func (s *LedgerService) CreateGroup(ctx context.Context, name, id string) (g core.Group, err error) {
	defer func(start time.Time) { s.observe(log.OpCreateGroup, start, err) }(time.Now())

	now := s.timestamp()
	if strings.TrimSpace(id) == "" {
		id = core.MonthGroupID(now.Time)
	}
	g = core.Group{
		ID:            strings.TrimSpace(id),
		Name:          strings.TrimSpace(name),
		CreatedAt:     now,
		TotalExpenses: core.Zero,
	}
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}
	if err := s.repo.InsertGroup(ctx, g); err != nil {
		return core.Group{}, fmt.Errorf("create group: %w", err)
	}

	s.logger.InfoContext(ctx, "Group created", log.FieldGroupID, g.ID, "name", g.Name)
	s.publish(ctx, amqp.CollectionGroups, amqp.OpCreate, g.ID, g.ID)
	return g, nil
}

// ListGroups returns every group, most recently created first.
func (s *LedgerService) ListGroups(ctx context.Context) (groups []core.Group, err error) {
	defer func(start time.Time) { s.observe(log.OpListGroups, start, err) }(time.Now())
	return s.repo.ListGroups(ctx)
}

func (s *LedgerService) GetGroup(ctx context.Context, id string) (g core.Group, err error) {
	defer func(start time.Time) { s.observe(log.OpGetGroup, start, err) }(time.Now())
	return s.repo.GetGroup(ctx, id)
}

// RecomputeGroupTotal re-sums the group's entries and persists the total.
func (s *LedgerService) RecomputeGroupTotal(ctx context.Context, id string) (g core.Group, err error) {
	defer func(start time.Time) { s.observe(log.OpRecomputeTotal, start, err) }(time.Now())

	g, err = s.repo.UpdateGroupTotal(ctx, id)
	if err != nil {
		return core.Group{}, fmt.Errorf("recompute total: %w", err)
	}
	s.logger.DebugContext(ctx, "Group total recomputed", log.FieldGroupID, id, log.FieldTotal, g.TotalExpenses.String())
	s.publish(ctx, amqp.CollectionGroups, amqp.OpRecompute, id, id)
	return g, nil
}

// DeleteGroup removes the group and all of its entries. Deleting an unknown
// group succeeds.
func (s *LedgerService) DeleteGroup(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe(log.OpDeleteGroup, start, err) }(time.Now())

	purged, err := s.repo.PurgeEntriesForGroup(ctx, id)
	if err != nil {
		return fmt.Errorf("delete group entries: %w", err)
	}
	if err := s.repo.DeleteGroup(ctx, id); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	s.logger.InfoContext(ctx, "Group deleted", log.FieldGroupID, id, "entries_removed", purged)
	s.publish(ctx, amqp.CollectionGroups, amqp.OpDelete, id, id)
	return nil
}

// CreateEntry stores a new entry and recomputes its group's total. The
// entry is kept even when the recompute fails because the group is gone.
func (s *LedgerService) CreateEntry(ctx context.Context, n core.NewEntry) (e core.Entry, err error) {
	defer func(start time.Time) { s.observe(log.OpCreateEntry, start, err) }(time.Now())

	if err := n.Validate(); err != nil {
		return core.Entry{}, err
	}

	now := s.timestamp()
	date := n.Date
	if date.IsZero() {
		date = now
	}
	e = core.Entry{
		ID:          core.NewEntryID(),
		ParentID:    n.ParentID,
		Description: strings.TrimSpace(n.Description),
		Amount:      n.Amount,
		Category:    n.Category,
		Date:        date,
		CreatedAt:   now,
	}
	if err := s.repo.InsertEntry(ctx, e); err != nil {
		return core.Entry{}, fmt.Errorf("create entry: %w", err)
	}
	s.publish(ctx, amqp.CollectionEntries, amqp.OpCreate, e.ID, e.ParentID)

	if _, err := s.repo.UpdateGroupTotal(ctx, e.ParentID); err != nil {
		return e, fmt.Errorf("recompute total after create: %w", err)
	}

	s.logger.InfoContext(ctx, "Entry created",
		log.NewFields().WithEntry(e.ID, e.ParentID, e.Amount.String(), e.Category).ToSlice()...)
	return e, nil
}

// ListEntriesByGroup returns the group's entries, latest date first.
func (s *LedgerService) ListEntriesByGroup(ctx context.Context, parentID string) (entries []core.Entry, err error) {
	defer func(start time.Time) { s.observe(log.OpListEntries, start, err) }(time.Now())
	return s.repo.ListEntriesByGroup(ctx, parentID)
}

func (s *LedgerService) GetEntry(ctx context.Context, id string) (e core.Entry, err error) {
	defer func(start time.Time) { s.observe(log.OpGetEntry, start, err) }(time.Now())
	return s.repo.GetEntry(ctx, id)
}

// UpdateEntry merges patch into the stored entry and recomputes the owning
// group. Moving an entry to another group recomputes both groups.
func (s *LedgerService) UpdateEntry(ctx context.Context, id string, patch core.EntryPatch) (e core.Entry, err error) {
	defer func(start time.Time) { s.observe(log.OpUpdateEntry, start, err) }(time.Now())

	if err := patch.Validate(); err != nil {
		return core.Entry{}, err
	}
	existing, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return core.Entry{}, fmt.Errorf("update entry: %w", err)
	}

	e = patch.Apply(existing)
	if e.ParentID != existing.ParentID {
		// Nothing moves into a group that does not exist.
		if _, err := s.repo.GetGroup(ctx, e.ParentID); err != nil {
			return core.Entry{}, fmt.Errorf("update entry: %w", err)
		}
	}
	if err := s.repo.ReplaceEntry(ctx, e); err != nil {
		return core.Entry{}, fmt.Errorf("update entry: %w", err)
	}
	s.publish(ctx, amqp.CollectionEntries, amqp.OpUpdate, e.ID, e.ParentID)

	if existing.ParentID != e.ParentID {
		if err := s.recomputeFormer(ctx, existing.ParentID); err != nil {
			return e, err
		}
	}
	if _, err := s.repo.UpdateGroupTotal(ctx, e.ParentID); err != nil {
		return e, fmt.Errorf("recompute total after update: %w", err)
	}
	return e, nil
}

// recomputeFormer refreshes the total of a group an entry just left. A
// group that no longer exists has no total to keep.
func (s *LedgerService) recomputeFormer(ctx context.Context, groupID string) error {
	_, err := s.repo.UpdateGroupTotal(ctx, groupID)
	if errors.Is(err, core.ErrNotFound) {
		s.logger.WarnContext(ctx, "Former group of entry no longer exists", log.FieldGroupID, groupID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recompute former group total: %w", err)
	}
	return nil
}

// DeleteEntry removes the entry and recomputes its former group's total.
// Deleting an unknown entry succeeds.
func (s *LedgerService) DeleteEntry(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe(log.OpDeleteEntry, start, err) }(time.Now())

	removed, ok, err := s.repo.DeleteEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if !ok {
		return nil
	}
	s.publish(ctx, amqp.CollectionEntries, amqp.OpDelete, removed.ID, removed.ParentID)

	if err := s.recomputeFormer(ctx, removed.ParentID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Entry deleted", log.FieldEntryID, id, log.FieldGroupID, removed.ParentID)
	return nil
}

// DuplicateEntry copies an entry under a fresh id and creation time.
func (s *LedgerService) DuplicateEntry(ctx context.Context, id string) (e core.Entry, err error) {
	defer func(start time.Time) { s.observe(log.OpDuplicateEntry, start, err) }(time.Now())

	src, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return core.Entry{}, fmt.Errorf("duplicate entry: %w", err)
	}

	e = src
	e.ID = core.NewEntryID()
	e.CreatedAt = s.timestamp()
	if err := s.repo.InsertEntry(ctx, e); err != nil {
		return core.Entry{}, fmt.Errorf("duplicate entry: %w", err)
	}
	s.publish(ctx, amqp.CollectionEntries, amqp.OpCreate, e.ID, e.ParentID)

	if _, err := s.repo.UpdateGroupTotal(ctx, e.ParentID); err != nil {
		return e, fmt.Errorf("recompute total after duplicate: %w", err)
	}
	return e, nil
}

// ListCategories returns categories alphabetically. Results are served from
// a short-lived cache invalidated by every category write.
func (s *LedgerService) ListCategories(ctx context.Context) (cats []core.Category, err error) {
	defer func(start time.Time) { s.observe(log.OpListCategories, start, err) }(time.Now())

	if cached, ok := s.categories.Get(categoriesCacheKey); ok {
		if s.metrics != nil {
			s.metrics.IncrCacheHit("categories")
		}
		return append([]core.Category(nil), cached...), nil
	}
	if s.metrics != nil {
		s.metrics.IncrCacheMiss("categories")
	}

	s.catMu.Lock()
	gen := s.catGen
	s.catMu.Unlock()

	cats, err = s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	// A write that landed during the read invalidates what was read.
	s.catMu.Lock()
	if s.catGen == gen {
		s.categories.Set(categoriesCacheKey, cats)
	}
	s.catMu.Unlock()
	return append([]core.Category(nil), cats...), nil
}

func (s *LedgerService) invalidateCategories() {
	s.catMu.Lock()
	s.catGen++
	s.categories.Purge()
	s.catMu.Unlock()
}

// CreateCategory adds a category whose id is derived from name.
func (s *LedgerService) CreateCategory(ctx context.Context, name string, isDefault bool) (c core.Category, err error) {
	defer func(start time.Time) { s.observe(log.OpCreateCategory, start, err) }(time.Now())

	c, err = core.NewCategory(name, isDefault, s.timestamp())
	if err != nil {
		return core.Category{}, err
	}
	if err := s.repo.InsertCategory(ctx, c); err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	s.invalidateCategories()

	s.publish(ctx, amqp.CollectionCategories, amqp.OpCreate, c.ID, "")
	return c, nil
}

// DeleteCategory removes a user category. Defaults are protected; unknown
// ids succeed.
func (s *LedgerService) DeleteCategory(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe(log.OpDeleteCategory, start, err) }(time.Now())

	c, err := s.repo.GetCategory(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if c.IsDefault {
		return fmt.Errorf("delete category %s: %w", id, core.ErrProtected)
	}
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.invalidateCategories()

	s.publish(ctx, amqp.CollectionCategories, amqp.OpDelete, id, "")
	return nil
}

// EnsureDefaultCategories seeds the default categories into a store that
// has none. It is safe to call on every start.
func (s *LedgerService) EnsureDefaultCategories(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe(log.OpSeedCategories, start, err) }(time.Now())

	n, err := s.repo.CountCategories(ctx)
	if err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if n > 0 {
		return nil
	}

	now := s.timestamp()
	for _, name := range core.DefaultCategoryNames {
		c, err := core.NewCategory(name, true, now)
		if err != nil {
			return err
		}
		if err := s.repo.InsertCategory(ctx, c); err != nil && !errors.Is(err, core.ErrDuplicateKey) {
			return fmt.Errorf("seed category %s: %w", name, err)
		}
	}
	s.invalidateCategories()

	s.logger.InfoContext(ctx, "Default categories seeded", "count", len(core.DefaultCategoryNames))
	return nil
}

// ExportSnapshot returns every group, every group's entries and every
// category in the export format.
func (s *LedgerService) ExportSnapshot(ctx context.Context) (snap core.Snapshot, err error) {
	defer func(start time.Time) { s.observe(log.OpExport, start, err) }(time.Now())

	groups, err := s.repo.ListGroups(ctx)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("export groups: %w", err)
	}
	entries := []core.Entry{}
	for _, g := range groups {
		es, err := s.repo.ListEntriesByGroup(ctx, g.ID)
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("export entries of %s: %w", g.ID, err)
		}
		entries = append(entries, es...)
	}
	cats, err := s.repo.ListCategories(ctx)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("export categories: %w", err)
	}

	return core.Snapshot{
		Parents:    groups,
		Entries:    entries,
		Categories: cats,
		ExportDate: s.now().UTC(),
		Version:    core.SchemaVersion,
	}, nil
}

// ImportSnapshot replaces all groups and entries with the snapshot's and
// merges its categories. Stored totals are taken as they are.
func (s *LedgerService) ImportSnapshot(ctx context.Context, snap core.Snapshot) (err error) {
	defer func(start time.Time) { s.observe(log.OpImport, start, err) }(time.Now())

	if err := snap.Validate(); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	if err := s.repo.Restore(ctx, snap.Parents, snap.Entries, snap.Categories); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	s.invalidateCategories()

	s.logger.InfoContext(ctx, "Snapshot imported",
		"groups", len(snap.Parents),
		"entries", len(snap.Entries),
		"version", snap.Version)
	s.publish(ctx, amqp.CollectionSnapshot, amqp.OpImport, "", "")
	return nil
}

// Ping reports whether the repository answers.
func (s *LedgerService) Ping(ctx context.Context) error {
	_, err := s.repo.CountCategories(ctx)
	return err
}

// Close closes the repository and, when it holds one, the publisher.
func (s *LedgerService) Close() error {
	var errs []error

	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %w", errors.Join(errs...))
	}
	return nil
}
