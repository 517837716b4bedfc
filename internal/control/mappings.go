package control

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"project-tachyon/internal/apierr"
	"project-tachyon/internal/storage"
)

// handleListMappings implements GET /mappings: the full Source
// Routing table (spec §4.B).
func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListRoutingEntries()
	if err != nil {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mappings": entries})
}

type upsertMappingRequest struct {
	SourceTag        string `json:"source_tag"`
	DestinationFolder string `json:"destination_folder"`
	PreferredQuality string `json:"preferred_quality"`
	AccessRestricted bool   `json:"access_restricted"`
}

// handleUpsertMapping implements POST /mappings: create or update the
// routing row for a source_tag.
func (s *Server) handleUpsertMapping(w http.ResponseWriter, r *http.Request) {
	var req upsertMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceTag == "" {
		writeError(w, apierr.Validation("source_tag is required"))
		return
	}

	entry := &storage.SourceRoutingEntry{
		SourceTag:         req.SourceTag,
		DestinationFolder: req.DestinationFolder,
		PreferredQuality:  req.PreferredQuality,
		AccessRestricted:  req.AccessRestricted,
	}
	if err := s.store.UpsertRoutingEntry(entry); err != nil {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleDeleteMapping implements DELETE /mappings/{id}.
func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeError(w, apierr.Validation("invalid mapping id"))
		return
	}
	if err := s.store.DeleteRoutingEntry(uint(id)); err != nil && err != storage.ErrNotFound {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
