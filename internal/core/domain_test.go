package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMonthGroupID(t *testing.T) {
	got := MonthGroupID(time.Date(2024, time.January, 31, 23, 0, 0, 0, time.UTC))
	if got != "2024-01" {
		t.Fatalf("expected 2024-01, got %s", got)
	}
}

func TestNewEntryIDIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewEntryID()
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty id %q", id)
		}
		seen[id] = true
	}
}

func TestTimestampJSON(t *testing.T) {
	ts := TimestampFromMillis(1704067200123)
	b, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "1704067200123" {
		t.Fatalf("expected millis, got %s", b)
	}

	cases := map[string]int64{
		`1704067200123`:              1704067200123,
		`"1704067200123"`:            1704067200123,
		`"2024-01-01T00:00:00.123Z"`: 1704067200123,
		`null`:                       0,
	}
	for in, want := range cases {
		var got Timestamp
		if err := json.Unmarshal([]byte(in), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if got.Millis() != want {
			t.Fatalf("unmarshal %s: expected %d, got %d", in, want, got.Millis())
		}
	}

	var bad Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &bad); err == nil {
		t.Fatalf("expected error for unparseable timestamp")
	}
}

func TestNewEntryValidate(t *testing.T) {
	good := NewEntry{ParentID: "2024-01", Description: "Coffee", Amount: MustMoney("4.50")}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []struct {
		e    NewEntry
		want error
	}{
		{NewEntry{ParentID: "", Description: "a", Amount: MustMoney("1")}, ErrEmptyParent},
		{NewEntry{ParentID: "g", Description: " ", Amount: MustMoney("1")}, ErrEmptyDescription},
		{NewEntry{ParentID: "g", Description: "a", Amount: Zero}, ErrInvalidAmount},
		{NewEntry{ParentID: "g", Description: "a", Amount: MustMoney("-2")}, ErrInvalidAmount},
	}
	for i, tc := range bads {
		err := tc.e.Validate()
		if !errors.Is(err, ErrValidation) || !errors.Is(err, tc.want) {
			t.Fatalf("case %d expected %v, got %v", i, tc.want, err)
		}
	}
}

func TestEntryPatchApply(t *testing.T) {
	e := Entry{ID: "e1", ParentID: "2024-01", Description: "Coffee", Amount: MustMoney("4.50"), Category: "food"}
	desc := "Tea"
	amount := MustMoney("3")
	got := EntryPatch{Description: &desc, Amount: &amount}.Apply(e)

	if got.Description != "Tea" || !got.Amount.Equal(amount) {
		t.Fatalf("patched fields not applied: %+v", got)
	}
	if got.ID != "e1" || got.ParentID != "2024-01" || got.Category != "food" {
		t.Fatalf("untouched fields changed: %+v", got)
	}

	empty := ""
	if err := (EntryPatch{Description: &empty}).Validate(); !errors.Is(err, ErrEmptyDescription) {
		t.Fatalf("expected empty description error, got %v", err)
	}
}

func TestDescriptionRulesMatchForCreateAndPatch(t *testing.T) {
	long := strings.Repeat("x", MaxDescriptionLen+1)
	padded := "  " + strings.Repeat("x", MaxDescriptionLen) + "  "

	create := NewEntry{ParentID: "g", Description: long, Amount: MustMoney("1")}
	if err := create.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("create: expected validation error for long description, got %v", err)
	}
	if err := (EntryPatch{Description: &long}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("patch: expected validation error for long description, got %v", err)
	}

	create.Description = padded
	if err := create.Validate(); err != nil {
		t.Fatalf("create: padding should not count, got %v", err)
	}
	patch := EntryPatch{Description: &padded}
	if err := patch.Validate(); err != nil {
		t.Fatalf("patch: padding should not count, got %v", err)
	}
	if got := patch.Apply(Entry{Description: "old"}).Description; got != strings.TrimSpace(padded) {
		t.Fatalf("expected trimmed description, got %q", got)
	}
}
