package storage

import (
	"context"

	"spesebook/internal/core"
)

// Repository is the record-level store behind the ledger service: three
// collections keyed by id with the secondary lookups the service needs.
//
// Implementations report missing records with core.ErrNotFound, key and
// unique-name clashes with core.ErrDuplicateKey, and any other failure
// wrapped in core.ErrStorageFailure.
type Repository interface {
	InsertGroup(ctx context.Context, g core.Group) error
	GetGroup(ctx context.Context, id string) (core.Group, error)
	// ListGroups returns all groups, newest createdAt first.
	ListGroups(ctx context.Context) ([]core.Group, error)
	// DeleteGroup removes the group record only; absent ids are not an error.
	DeleteGroup(ctx context.Context, id string) error
	// UpdateGroupTotal re-sums the group's entries and persists the total
	// in one atomic step.
	UpdateGroupTotal(ctx context.Context, id string) (core.Group, error)

	InsertEntry(ctx context.Context, e core.Entry) error
	GetEntry(ctx context.Context, id string) (core.Entry, error)
	// ReplaceEntry overwrites an existing entry; core.ErrNotFound if absent.
	ReplaceEntry(ctx context.Context, e core.Entry) error
	// DeleteEntry removes the entry and returns what was removed. The bool
	// is false when there was nothing to remove.
	DeleteEntry(ctx context.Context, id string) (core.Entry, bool, error)
	// ListEntriesByGroup returns the group's entries, latest date first and
	// latest createdAt first among equal dates.
	ListEntriesByGroup(ctx context.Context, parentID string) ([]core.Entry, error)
	// PurgeEntriesForGroup removes every entry of the group without touching
	// any total, returning how many were removed.
	PurgeEntriesForGroup(ctx context.Context, parentID string) (int64, error)

	InsertCategory(ctx context.Context, c core.Category) error
	GetCategory(ctx context.Context, id string) (core.Category, error)
	// ListCategories returns categories ordered by name, case-insensitively.
	ListCategories(ctx context.Context) ([]core.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	CountCategories(ctx context.Context) (int, error)

	// Restore replaces every group and entry with the given ones and merges
	// categories additively, skipping ids or names already present.
	Restore(ctx context.Context, groups []core.Group, entries []core.Entry, categories []core.Category) error

	Close() error
}
