package control

import (
	"encoding/json"
	"net/http"

	"project-tachyon/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError translates a typed apierr condition into the {error}
// body and status code spec §7's "Client error" taxonomy calls for.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.HTTPStatus(err), map[string]string{"error": err.Error()})
}
