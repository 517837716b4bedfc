package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRecordsAndServesMetrics(t *testing.T) {
	r := New()
	r.RecordStarted("url")
	r.RecordTerminal("done", "url", 1024, 1.5)
	r.RecordRetry("chat")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "downloads_started_total")
	require.Contains(t, rec.Body.String(), "download_retries_total")
}
