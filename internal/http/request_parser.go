package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"spesebook/internal/core"
)

const (
	maxBodyBytes   = 1 << 20  // JSON API requests
	maxImportBytes = 32 << 20 // snapshot uploads
)

// errBadRequest marks malformed request bodies; it maps to 400.
var errBadRequest = errors.New("bad request")

// decodeJSON reads a single JSON object from r into dst, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: body larger than %d bytes", errBadRequest, maxErr.Limit)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errBadRequest)
		default:
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON object", errBadRequest)
	}
	return nil
}

// amountField accepts an amount as a JSON number or as a string using
// either '.' or ',' as decimal separator.
type amountField struct {
	raw json.RawMessage
}

func (a *amountField) UnmarshalJSON(data []byte) error {
	a.raw = append(a.raw[:0], data...)
	return nil
}

func (a amountField) present() bool {
	return len(a.raw) > 0 && !bytes.Equal(a.raw, []byte("null"))
}

func (a amountField) money() (core.Money, error) {
	if !a.present() {
		return core.Money{}, fmt.Errorf("%w: %w", core.ErrValidation, core.ErrInvalidAmount)
	}
	s := string(a.raw)
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(a.raw, &s); err != nil {
			return core.Money{}, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	m, err := core.ParseMoney(s)
	if err != nil {
		return core.Money{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	return m, nil
}

type createGroupRequest struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type createEntryRequest struct {
	Description string         `json:"description"`
	Amount      amountField    `json:"amount"`
	Category    string         `json:"category"`
	Date        core.Timestamp `json:"date"`
}

func (req createEntryRequest) toNewEntry(groupID string) (core.NewEntry, error) {
	amount, err := req.Amount.money()
	if err != nil {
		return core.NewEntry{}, err
	}
	return core.NewEntry{
		ParentID:    groupID,
		Description: sanitizeInput(req.Description),
		Amount:      amount,
		Category:    sanitizeInput(req.Category),
		Date:        req.Date,
	}, nil
}

type updateEntryRequest struct {
	ParentID    *string         `json:"parentId"`
	Description *string         `json:"description"`
	Amount      *amountField    `json:"amount"`
	Category    *string         `json:"category"`
	Date        *core.Timestamp `json:"date"`
}

func (req updateEntryRequest) toPatch() (core.EntryPatch, error) {
	patch := core.EntryPatch{
		ParentID: req.ParentID,
		Date:     req.Date,
	}
	if req.Description != nil {
		d := sanitizeInput(*req.Description)
		patch.Description = &d
	}
	if req.Category != nil {
		c := sanitizeInput(*req.Category)
		patch.Category = &c
	}
	if req.Amount != nil {
		m, err := req.Amount.money()
		if err != nil {
			return core.EntryPatch{}, err
		}
		patch.Amount = &m
	}
	return patch, nil
}

type createCategoryRequest struct {
	Name string `json:"name"`
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
