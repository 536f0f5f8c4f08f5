package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	// Timestamp is a point in time that travels as epoch milliseconds.
	Timestamp struct {
		time.Time
	}

	// Group is a monthly bucket of expenses. TotalExpenses is derived
	// from the group's entries and kept denormalized for listing.
	Group struct {
		ID            string    `json:"id"`
		Name          string    `json:"name"`
		CreatedAt     Timestamp `json:"createdAt"`
		TotalExpenses Money     `json:"totalExpenses"`
	}

	// Entry is a single expense line belonging to one group.
	Entry struct {
		ID          string    `json:"id"`
		ParentID    string    `json:"parentId"`
		Description string    `json:"description"`
		Amount      Money     `json:"amount"`
		Category    string    `json:"category"` // free-text label, not a foreign key
		Date        Timestamp `json:"date"`
		CreatedAt   Timestamp `json:"createdAt"`
	}

	// NewEntry carries the caller-supplied fields of an entry to create.
	// A zero Date means "now".
	NewEntry struct {
		ParentID    string
		Description string
		Amount      Money
		Category    string
		Date        Timestamp
	}

	// EntryPatch holds the fields to merge into a stored entry; nil fields
	// are left untouched.
	EntryPatch struct {
		ParentID    *string    `json:"parentId,omitempty"`
		Description *string    `json:"description,omitempty"`
		Amount      *Money     `json:"amount,omitempty"`
		Category    *string    `json:"category,omitempty"`
		Date        *Timestamp `json:"date,omitempty"`
	}
)

// NewTimestamp truncates t to millisecond precision, the resolution
// timestamps are stored and exported with.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: time.UnixMilli(t.UnixMilli()).UTC()}
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// TimestampFromMillis builds a Timestamp from epoch milliseconds.
func TimestampFromMillis(ms int64) Timestamp {
	return Timestamp{Time: time.UnixMilli(ms).UTC()}
}

// Millis returns the epoch milliseconds of t, or 0 for the zero value.
func (t Timestamp) Millis() int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(t.Millis(), 10)), nil
}

// UnmarshalJSON accepts epoch milliseconds or an RFC 3339 string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*t = Timestamp{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(str, 10, 64); err == nil {
			*t = TimestampFromMillis(ms)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", str, err)
		}
		*t = NewTimestamp(parsed)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", s, err)
	}
	*t = TimestampFromMillis(int64(f))
	return nil
}

// MonthGroupID returns the canonical id of the monthly group containing t.
func MonthGroupID(t time.Time) string {
	return t.Format("2006-01")
}

// NewEntryID returns a fresh globally unique entry id.
func NewEntryID() string {
	return uuid.New().String()
}

func (g Group) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyID)
	}
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyName)
	}
	return nil
}

func (e NewEntry) Validate() error {
	if strings.TrimSpace(e.ParentID) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyParent)
	}
	if err := validateDescription(e.Description); err != nil {
		return err
	}
	if err := e.Amount.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// Validate checks the fields a patch would set; absent fields are not checked.
func (p EntryPatch) Validate() error {
	if p.ParentID != nil && strings.TrimSpace(*p.ParentID) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyParent)
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return err
		}
	}
	if p.Amount != nil {
		if err := p.Amount.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return nil
}

// MaxDescriptionLen caps an entry description, counted after trimming.
const MaxDescriptionLen = 200

func validateDescription(d string) error {
	d = strings.TrimSpace(d)
	if d == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyDescription)
	}
	if len(d) > MaxDescriptionLen {
		return fmt.Errorf("%w: description too long (max %d characters)", ErrValidation, MaxDescriptionLen)
	}
	return nil
}

// Apply merges the patch into e and returns the result. The description is
// trimmed the same way a new entry's is.
func (p EntryPatch) Apply(e Entry) Entry {
	if p.ParentID != nil {
		e.ParentID = *p.ParentID
	}
	if p.Description != nil {
		e.Description = strings.TrimSpace(*p.Description)
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	return e
}
