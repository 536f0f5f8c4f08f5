package core

import (
	"fmt"
	"strings"
)

// Category is a reusable expense label. Defaults are seeded once and can
// never be deleted.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt Timestamp `json:"createdAt"`
}

// DefaultCategoryNames are seeded into an empty store.
var DefaultCategoryNames = []string{
	"Food",
	"Transport",
	"Housing",
	"Utilities",
	"Health",
	"Entertainment",
	"Shopping",
	"Education",
	"Other",
}

// CategoryID derives the category key from its display name: surrounding
// whitespace is trimmed, letters are lowercased and every whitespace run
// becomes a single "-".
func CategoryID(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// NewCategory builds a category record for name.
func NewCategory(name string, isDefault bool, at Timestamp) (Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: %w", ErrValidation, ErrEmptyName)
	}
	return Category{
		ID:        CategoryID(name),
		Name:      name,
		IsDefault: isDefault,
		CreatedAt: at,
	}, nil
}
