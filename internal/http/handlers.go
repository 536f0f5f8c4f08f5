package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"spesebook/internal/core"
	"spesebook/internal/log"
)

// Ledger is the expense book the API exposes. *services.LedgerService
// implements it.
type Ledger interface {
	CreateGroup(ctx context.Context, name, id string) (core.Group, error)
	ListGroups(ctx context.Context) ([]core.Group, error)
	GetGroup(ctx context.Context, id string) (core.Group, error)
	RecomputeGroupTotal(ctx context.Context, id string) (core.Group, error)
	DeleteGroup(ctx context.Context, id string) error

	CreateEntry(ctx context.Context, n core.NewEntry) (core.Entry, error)
	ListEntriesByGroup(ctx context.Context, parentID string) ([]core.Entry, error)
	GetEntry(ctx context.Context, id string) (core.Entry, error)
	UpdateEntry(ctx context.Context, id string, patch core.EntryPatch) (core.Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	DuplicateEntry(ctx context.Context, id string) (core.Entry, error)

	ListCategories(ctx context.Context) ([]core.Category, error)
	CreateCategory(ctx context.Context, name string, isDefault bool) (core.Category, error)
	DeleteCategory(ctx context.Context, id string) error

	ExportSnapshot(ctx context.Context) (core.Snapshot, error)
	ImportSnapshot(ctx context.Context, snap core.Snapshot) error

	Ping(ctx context.Context) error
}

// Groups

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.ledger.ListGroups(r.Context())
	if err != nil {
		writeServiceError(w, r, log.OpListGroups, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, log.OpCreateGroup, err)
		return
	}
	g, err := s.ledger.CreateGroup(r.Context(), sanitizeInput(req.Name), sanitizeInput(req.ID))
	if err != nil {
		writeServiceError(w, r, log.OpCreateGroup, err)
		return
	}
	w.Header().Set("Location", "/api/groups/"+g.ID)
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.ledger.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, log.OpGetGroup, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, log.OpDeleteGroup, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecomputeGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.ledger.RecomputeGroupTotal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, log.OpRecomputeTotal, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// Entries

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.ListEntriesByGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, log.OpListEntries, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, log.OpCreateEntry, err)
		return
	}
	n, err := req.toNewEntry(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, log.OpCreateEntry, err)
		return
	}
	e, err := s.ledger.CreateEntry(r.Context(), n)
	if err != nil {
		writeServiceError(w, r, log.OpCreateEntry, err)
		return
	}
	w.Header().Set("Location", "/api/entries/"+e.ID)
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.ledger.GetEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, log.OpGetEntry, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req updateEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, log.OpUpdateEntry, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeServiceError(w, r, log.OpUpdateEntry, err)
		return
	}
	e, err := s.ledger.UpdateEntry(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, r, log.OpUpdateEntry, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, log.OpDeleteEntry, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuplicateEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.ledger.DuplicateEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, log.OpDuplicateEntry, err)
		return
	}
	w.Header().Set("Location", "/api/entries/"+e.ID)
	writeJSON(w, http.StatusCreated, e)
}

// Categories

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.ledger.ListCategories(r.Context())
	if err != nil {
		writeServiceError(w, r, log.OpListCategories, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req createCategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, log.OpCreateCategory, err)
		return
	}
	c, err := s.ledger.CreateCategory(r.Context(), sanitizeInput(req.Name), false)
	if err != nil {
		writeServiceError(w, r, log.OpCreateCategory, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, log.OpDeleteCategory, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Snapshot

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ledger.ExportSnapshot(r.Context())
	if err != nil {
		writeServiceError(w, r, log.OpExport, err)
		return
	}
	name := fmt.Sprintf("spese-backup-%s.json", snap.ExportDate.UTC().Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeServiceError(w, r, log.OpImport, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	snap, err := core.DecodeSnapshot(data)
	if err != nil {
		writeServiceError(w, r, log.OpImport, err)
		return
	}
	if err := s.ledger.ImportSnapshot(r.Context(), snap); err != nil {
		writeServiceError(w, r, log.OpImport, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"parents":    len(snap.Parents),
		"entries":    len(snap.Entries),
		"categories": len(snap.Categories),
	})
}

// Probes

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok", "offline": "ok"}
	status := http.StatusOK
	if err := s.ledger.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if s.offline != nil && s.offline.Active() == nil {
		checks["offline"] = "no active worker"
	}
	stats := s.tracer.GetStats()
	writeJSON(w, status, map[string]any{
		"status":   http.StatusText(status),
		"checks":   checks,
		"requests": map[string]int64{
			"total":            stats.TotalRequests,
			"last_duration_ms": stats.LastDurationMs,
		},
	})
}
