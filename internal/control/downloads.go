package control

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"project-tachyon/internal/analytics"
	"project-tachyon/internal/apierr"
	"project-tachyon/internal/eventbus"
	"project-tachyon/internal/storage"
)

type listResponse struct {
	Downloads []storage.Job `json:"downloads"`
	Total     int64         `json:"total"`
	HasMore   bool          `json:"has_more"`
}

// handleListDownloads implements GET /downloads (spec §6), applying
// the exclude_mapping_ids → source_tag resolution the teacher's
// get_downloads_data never needed (the Python original had no access-
// restriction concept at list time).
func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var excludeTags []string
	if raw := q.Get("exclude_mapping_ids"); raw != "" {
		ids := make([]uint, 0)
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if n, err := strconv.ParseUint(part, 10, 64); err == nil {
				ids = append(ids, uint(n))
			}
		}
		tags, err := s.store.ResolveSourceTagsForMappingIDs(ids)
		if err != nil {
			writeError(w, apierr.StorageFailure(err))
			return
		}
		excludeTags = tags
	}

	filter := storage.ListFilter{
		ExcludeSourceTags: excludeTags,
		Search:            q.Get("search"),
		Filter:            defaultString(q.Get("filter"), "all"),
		SortBy:            defaultString(q.Get("sort_by"), "created_at"),
		SortOrder:         defaultString(q.Get("sort_order"), "desc"),
		Limit:             atoiOrDefault(q.Get("limit"), 50),
		Offset:            atoiOrDefault(q.Get("offset"), 0),
	}

	rows, total, hasMore, err := s.store.List(filter)
	if err != nil {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Downloads: rows, Total: total, HasMore: hasMore})
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func atoiOrDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

type statsResponse struct {
	storage.Stats
	Disk analytics.DiskUsage `json:"disk"`
}

// handleStats implements GET /stats, supplementing the job counters
// with host disk usage (spec §1's "metrics scrape endpoint" bordering
// interface, extended here since an operator watching disk-bound
// downloads wants this alongside job counts, not behind a second
// request).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStats()
	if err != nil {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: st, Disk: analytics.GetDiskUsage(s.routing.BaseDir())})
}

type retryRequest struct {
	ID uint `json:"id"`
}

// handleRetry implements POST /retry {id} (spec §6, §7 "retry on a
// failed or stopped job resumes (URL) or restarts (chat)"). Grounded
// on original_source/backend/web_app's api_retry, generalized from its
// inline yt-dlp-vs-Telegram branch to the typed storage.JobKind field.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		writeError(w, apierr.Validation("id is required"))
		return
	}

	job, err := s.store.GetJobByID(req.ID)
	if err != nil {
		writeError(w, apierr.NotFound("job"))
		return
	}
	if job.Status != storage.StatusFailed && job.Status != storage.StatusStopped {
		writeError(w, apierr.ErrInvalidRetryState)
		return
	}

	patch := map[string]interface{}{
		"status": storage.StatusDownloading,
		"speed":  0.0,
		"error":  "",
	}
	if job.Kind == storage.JobKindChat {
		// Open Question #1 (SPEC_FULL.md §9): a chat retry cannot
		// re-fetch the original inbound message, so it can only flip
		// the stored status back to downloading; no Worker relaunch
		// happens here, and nothing later attaches a Worker to this
		// row: the Chat Intake only inserts new jobs, and its insert
		// for an already-stored message id fails.
		patch["progress"] = 0.0
	}
	if err := s.store.UpdateByExternalID(job.ExternalID, patch); err != nil {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	s.bus.Publish(eventbus.TopicStatus, map[string]interface{}{"external_id": job.ExternalID, "status": storage.StatusDownloading})

	if job.Kind == storage.JobKindURL {
		refreshed, err := s.store.GetJobByExternalID(job.ExternalID)
		if err == nil {
			s.urls.AdjustOnResume(r.Context(), refreshed, "")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type stopRequest struct {
	ExternalID string `json:"external_id"`
}

// handleStop implements POST /stop {external_id}. Idempotent: a second
// stop on an already-stopped job still returns success (spec §8).
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalID == "" {
		writeError(w, apierr.Validation("external_id is required"))
		return
	}

	s.cancelAndWait(req.ExternalID)

	if err := s.store.UpdateByExternalID(req.ExternalID, map[string]interface{}{
		"status": storage.StatusStopped,
		"speed":  0.0,
	}); err != nil && err != storage.ErrNotFound {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	s.bus.Publish(eventbus.TopicStatus, map[string]interface{}{"external_id": req.ExternalID, "status": storage.StatusStopped})
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type deleteRequest struct {
	ExternalID string `json:"external_id"`
}

// handleDelete implements POST /delete {external_id}: cancel any
// running Worker, soft-delete the row, emit `deleted` (spec §6, §7).
// Idempotent after the first call.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalID == "" {
		writeError(w, apierr.Validation("external_id is required"))
		return
	}

	s.cancelAndWait(req.ExternalID)

	if err := s.store.SoftDeleteByExternalID(req.ExternalID); err != nil && err != storage.ErrNotFound {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	s.bus.Publish(eventbus.TopicDeleted, map[string]interface{}{"external_id": req.ExternalID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// workerAckTimeout bounds how long stop and delete wait for a cancelled
// Worker to finish before answering anyway.
const workerAckTimeout = 6 * time.Second

// cancelAndWait cancels externalID's running Worker, if any, and waits
// up to workerAckTimeout for it to release its registry entry.
func (s *Server) cancelAndWait(externalID string) {
	if !s.registry.Cancel(externalID) {
		return
	}
	done := make(chan struct{})
	go func() {
		s.registry.Wait(externalID)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(workerAckTimeout):
	}
}
