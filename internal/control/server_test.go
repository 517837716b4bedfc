package control

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"project-tachyon/internal/audit"
	"project-tachyon/internal/config"
	"project-tachyon/internal/eventbus"
	"project-tachyon/internal/extractor"
	"project-tachyon/internal/jobs"
	"project-tachyon/internal/metrics"
	"project-tachyon/internal/routing"
	"project-tachyon/internal/storage"
	"project-tachyon/internal/urlintake"
)

func newTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	bus := eventbus.New()
	cfg := config.NewManager(store)
	registry := jobs.NewRegistry()
	rt := routing.New(store, dir)
	adapter := extractor.New("echo")
	urls := urlintake.New(store, bus, registry, rt, adapter, func() string { return "" }, nil, nil, cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	auditLogger, err := audit.New(dir, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { auditLogger.Close() })

	s := New(store, cfg, bus, registry, rt, urls, auditLogger, metrics.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s, store
}

func seedUser(t *testing.T, store *storage.Store, username, password string) *storage.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	u := &storage.User{Username: username, PasswordHash: string(hash)}
	require.NoError(t, store.CreateUser(u))
	return u
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestLoginSucceedsAndIssuesUsableToken(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "operator", "correct-horse")

	rec := doJSON(t, srv, http.MethodPost, "/auth/login", "", loginRequest{Username: "operator", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.Equal(t, "operator", resp.User.Username)

	verifyRec := doJSON(t, srv, http.MethodGet, "/auth/verify", resp.Token, nil)
	require.Equal(t, http.StatusOK, verifyRec.Code)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "operator", "correct-horse")

	rec := doJSON(t, srv, http.MethodPost, "/auth/login", "", loginRequest{Username: "operator", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/downloads", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func tokenFor(t *testing.T, srv *Server, store *storage.Store) string {
	t.Helper()
	u := seedUser(t, store, "operator", "correct-horse")
	tok, err := srv.issueToken(u)
	require.NoError(t, err)
	return tok
}

func TestStopIsIdempotent(t *testing.T) {
	srv, store := newTestServer(t)
	token := tokenFor(t, srv, store)

	job := &storage.Job{ExternalID: "123", Kind: storage.JobKindChat, SourceTag: "chat", File: "a.bin", Status: storage.StatusDownloading}
	require.NoError(t, store.CreateJob(job))

	rec1 := doJSON(t, srv, http.MethodPost, "/stop", token, stopRequest{ExternalID: "123"})
	require.Equal(t, http.StatusOK, rec1.Code)
	rec2 := doJSON(t, srv, http.MethodPost, "/stop", token, stopRequest{ExternalID: "123"})
	require.Equal(t, http.StatusOK, rec2.Code)

	got, err := store.GetJobByExternalID("123")
	require.NoError(t, err)
	require.Equal(t, storage.StatusStopped, got.Status)
}

func TestDeleteIsIdempotentAndExcludesFromListing(t *testing.T) {
	srv, store := newTestServer(t)
	token := tokenFor(t, srv, store)

	job := &storage.Job{ExternalID: "456", Kind: storage.JobKindChat, SourceTag: "chat", File: "b.bin", Status: storage.StatusDone}
	require.NoError(t, store.CreateJob(job))

	rec1 := doJSON(t, srv, http.MethodPost, "/delete", token, deleteRequest{ExternalID: "456"})
	require.Equal(t, http.StatusOK, rec1.Code)
	rec2 := doJSON(t, srv, http.MethodPost, "/delete", token, deleteRequest{ExternalID: "456"})
	require.Equal(t, http.StatusOK, rec2.Code)

	listRec := doJSON(t, srv, http.MethodGet, "/downloads", token, nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &resp))
	for _, d := range resp.Downloads {
		require.NotEqual(t, "456", d.ExternalID)
	}
}

func TestRetryRejectsNonTerminalJob(t *testing.T) {
	srv, store := newTestServer(t)
	token := tokenFor(t, srv, store)

	job := &storage.Job{ExternalID: "789", Kind: storage.JobKindChat, SourceTag: "chat", File: "c.bin", Status: storage.StatusDownloading}
	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJobByExternalID("789")
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/retry", token, retryRequest{ID: got.ID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVideoStreamHonorsRangeRequests(t *testing.T) {
	srv, store := newTestServer(t)
	token := tokenFor(t, srv, store)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/clip.mp4", bytes.Repeat([]byte{0x42}, 1000), 0o644))

	entry := &storage.SourceRoutingEntry{SourceTag: "example", DestinationFolder: dir}
	require.NoError(t, store.UpsertRoutingEntry(entry))

	job := &storage.Job{ExternalID: "url-1", Kind: storage.JobKindURL, SourceTag: "example", File: "clip.mp4", Status: storage.StatusDone}
	require.NoError(t, store.CreateJob(job))
	got, err := store.GetJobByExternalID("url-1")
	require.NoError(t, err)

	path := "/video/stream/" + strconv.FormatUint(uint64(got.ID), 10) + "?token=" + token
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, 100, rec.Body.Len())
	require.Equal(t, "bytes 0-99/1000", rec.Header().Get("Content-Range"))
}
