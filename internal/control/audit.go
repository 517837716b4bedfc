package control

import "net/http"

// handleAuditLog exposes the Audit Logger's recent entries as a
// bordering interface (spec §1).
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := atoiOrDefault(r.URL.Query().Get("limit"), 100)
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": s.audit.Recent(limit)})
}
