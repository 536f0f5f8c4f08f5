package core

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the version of the store layout that exports carry:
// version 1 held groups and entries, version 2 added categories.
const SchemaVersion = 2

// Snapshot is the full exported representation of the store.
//
// Parents and Entries are nil when the key was absent from the decoded
// document, which ImportSnapshot rejects. An empty list is valid.
type Snapshot struct {
	Parents    []Group    `json:"parents"`
	Entries    []Entry    `json:"entries"`
	Categories []Category `json:"categories,omitempty"`
	ExportDate time.Time  `json:"exportDate"`
	Version    int        `json:"version"`
}

// Validate checks that both record lists are present.
func (s Snapshot) Validate() error {
	if s.Parents == nil || s.Entries == nil {
		return ErrInvalidFormat
	}
	return nil
}

// DecodeSnapshot parses an export document. Malformed JSON is reported as
// ErrInvalidFormat.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, &FormatError{Err: err}
	}
	return s, nil
}

// FormatError wraps a decoding failure so it matches ErrInvalidFormat.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return "invalid snapshot format: " + e.Err.Error()
}

func (e *FormatError) Is(target error) bool {
	return target == ErrInvalidFormat
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
