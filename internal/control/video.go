package control

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"project-tachyon/internal/apierr"
	"project-tachyon/internal/routing"
	"project-tachyon/internal/storage"
)

// resolveJobFile reconstructs a job's on-disk path the same way the
// file-existence sweep does (internal/jobqueue.Sweeper.runOnce): the
// Job record persists only a filename, so the directory is re-derived
// from the routing table using the job's source_tag.
func (s *Server) resolveJobFile(job *storage.Job) (string, error) {
	mediaKind := routing.MediaDocuments
	if job.Kind == storage.JobKindURL {
		mediaKind = routing.MediaVideos
	}
	destDir, err := s.routing.ResolveDestination(job.SourceTag, mediaKind)
	if err != nil {
		return "", err
	}
	return filepath.Join(destDir, job.File), nil
}

func (s *Server) jobByIDParam(r *http.Request) (*storage.Job, error) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return nil, apierr.Validation("invalid job id")
	}
	return s.store.GetJobByID(uint(id))
}

type videoCheckResponse struct {
	Exists bool  `json:"exists"`
	Size   int64 `json:"size"`
}

// handleVideoCheck implements GET /video/check/:id: whether the job's
// file currently exists on disk, without transferring it.
func (s *Server) handleVideoCheck(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobByIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := s.resolveJobFile(job)
	if err != nil {
		writeError(w, apierr.StorageFailure(err))
		return
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		writeJSON(w, http.StatusOK, videoCheckResponse{Exists: false})
		return
	}
	writeJSON(w, http.StatusOK, videoCheckResponse{Exists: true, Size: info.Size()})
}

// handleVideoStream implements GET /video/stream/:id with HTTP Range
// support (spec §6, §8 scenario 5): http.ServeContent already
// implements byte-range semantics (206, Content-Range, Accept-Ranges)
// against an io.ReaderSeeker, so this handler's job is purely locating
// the file and opening it — the range arithmetic itself is stdlib's,
// not hand-rolled, since net/http is the one dependency every example
// in the pack already carries for exactly this.
func (s *Server) handleVideoStream(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobByIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := s.resolveJobFile(job)
	if err != nil {
		writeError(w, apierr.StorageFailure(err))
		return
	}

	f, openErr := os.Open(path)
	if openErr != nil {
		writeError(w, apierr.NotFound("file"))
		return
	}
	defer f.Close()

	info, statErr := f.Stat()
	if statErr != nil {
		writeError(w, apierr.StorageFailure(statErr))
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, job.File, info.ModTime(), f)
}
