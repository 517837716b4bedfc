package control

import (
	"encoding/json"
	"net/http"

	"project-tachyon/internal/apierr"
	"project-tachyon/internal/extractor"
	"project-tachyon/internal/urlintake"
)

type urlCheckRequest struct {
	URL string `json:"url"`
}

type urlCheckResponse struct {
	Title        string              `json:"title"`
	Ext          string              `json:"ext"`
	Formats      []extractor.Format  `json:"formats"`
	BestFormatID string              `json:"best_format_id"`
}

// handleURLCheck implements POST /url/check {url} (spec §4.E Probe).
// Grounded on original_source's api_check_url, reusing the same
// request/response shape.
func (s *Server) handleURLCheck(w http.ResponseWriter, r *http.Request) {
	var req urlCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, apierr.Validation("url is required"))
		return
	}

	result, err := s.urls.Probe(r.Context(), req.URL)
	if err != nil {
		writeError(w, classifyProbeErrorForWire(err))
		return
	}
	writeJSON(w, http.StatusOK, urlCheckResponse{
		Title:        result.Title,
		Ext:          result.Ext,
		Formats:      result.Formats,
		BestFormatID: result.BestFormatID,
	})
}

func classifyProbeErrorForWire(err error) error {
	var probeErr *extractor.ProbeError
	if e, ok := err.(*extractor.ProbeError); ok {
		probeErr = e
	}
	if probeErr == nil {
		return apierr.Validation(apierr.FriendlyTransportError(err))
	}
	switch probeErr.Kind {
	case extractor.FailureUnsupported:
		return apierr.Validation("url is not supported by the extractor")
	case extractor.FailureUnavailable:
		return apierr.NotFound("video")
	case extractor.FailureRestricted:
		return apierr.NotConfigured("a cookies file is required for this source")
	default:
		return apierr.Validation(apierr.FriendlyTransportError(probeErr.Err))
	}
}

type urlDownloadRequest struct {
	URL        string `json:"url"`
	FormatID   string `json:"format_id"`
	Title      string `json:"title"`
	Ext        string `json:"ext"`
	Filesize   int64  `json:"filesize"`
	Resolution string `json:"resolution"`
}

type urlDownloadResponse struct {
	ExternalID string `json:"external_id"`
}

// handleURLDownload implements POST /url/download (spec §4.E Start).
func (s *Server) handleURLDownload(w http.ResponseWriter, r *http.Request) {
	var req urlDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, apierr.Validation("url is required"))
		return
	}

	externalID, err := s.urls.Start(r.Context(), urlintake.StartParams{
		URL:            req.URL,
		ChosenFormatID: req.FormatID,
		Title:          req.Title,
		Ext:            req.Ext,
		Filesize:       req.Filesize,
		Resolution:     req.Resolution,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, urlDownloadResponse{ExternalID: externalID})
}
