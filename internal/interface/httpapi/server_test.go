package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposage/reposage/internal/core/query"
	"github.com/reposage/reposage/internal/core/queue"
	"github.com/reposage/reposage/internal/core/webhook"
)

const testSecret = "hook-secret"

type memLedger struct {
	seen map[string]bool
}

func (m *memLedger) Record(ctx context.Context, deliveryID string) (bool, error) {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[deliveryID] {
		return false, nil
	}
	m.seen[deliveryID] = true
	return true, nil
}

type memQueue struct {
	jobs []queue.Job
	err  error
}

func (m *memQueue) Enqueue(ctx context.Context, job queue.Job) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

type stubAnswerer struct {
	opts    query.Options
	content string
	err     error
}

func (s *stubAnswerer) Answer(ctx context.Context, queryText string, opts query.Options) (string, error) {
	s.opts = opts
	return s.content, s.err
}

type stubLister struct {
	namespaces []string
	err        error
}

func (s *stubLister) Namespaces(ctx context.Context) ([]string, error) {
	return s.namespaces, s.err
}

func newTestServer(q *memQueue, answerer *stubAnswerer, lister *stubLister) *Server {
	gin.SetMode(gin.TestMode)
	receiver := webhook.NewReceiver(testSecret, &memLedger{}, q)
	return NewServer(receiver, answerer, lister)
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushBody() []byte {
	return []byte(`{
		"ref": "refs/heads/main",
		"before": "aaa111",
		"after": "bbb222",
		"repository": {"full_name": "acme/alpha", "clone_url": "https://github.com/acme/alpha.git"},
		"pusher": {"name": "dev"}
	}`)
}

func postWebhook(srv *Server, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestWebhookEnqueues(t *testing.T) {
	q := &memQueue{}
	srv := newTestServer(q, &stubAnswerer{}, &stubLister{})

	body := pushBody()
	w := postWebhook(srv, body, map[string]string{
		"X-GitHub-Event":      "push",
		"X-GitHub-Delivery":   "delivery-1",
		"X-Hub-Signature-256": sign(body),
	})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, "acme/alpha", q.jobs[0].Repository)
}

func TestWebhookDuplicateReturns202(t *testing.T) {
	q := &memQueue{}
	srv := newTestServer(q, &stubAnswerer{}, &stubLister{})
	body := pushBody()
	headers := map[string]string{
		"X-GitHub-Event":      "push",
		"X-GitHub-Delivery":   "delivery-1",
		"X-Hub-Signature-256": sign(body),
	}

	w := postWebhook(srv, body, headers)
	assert.Equal(t, http.StatusOK, w.Code)

	w = postWebhook(srv, body, headers)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, q.jobs, 1)
}

func TestWebhookBadSignatureReturns403(t *testing.T) {
	srv := newTestServer(&memQueue{}, &stubAnswerer{}, &stubLister{})

	w := postWebhook(srv, pushBody(), map[string]string{
		"X-GitHub-Event":      "push",
		"X-GitHub-Delivery":   "delivery-1",
		"X-Hub-Signature-256": "sha256=deadbeef",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookBadPayloadReturns400(t *testing.T) {
	srv := newTestServer(&memQueue{}, &stubAnswerer{}, &stubLister{})

	body := []byte(`{not json`)
	w := postWebhook(srv, body, map[string]string{
		"X-GitHub-Event":      "push",
		"X-GitHub-Delivery":   "delivery-1",
		"X-Hub-Signature-256": sign(body),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookEnqueueFailureReturns500(t *testing.T) {
	srv := newTestServer(&memQueue{err: fmt.Errorf("queue down")}, &stubAnswerer{}, &stubLister{})

	body := pushBody()
	w := postWebhook(srv, body, map[string]string{
		"X-GitHub-Event":      "push",
		"X-GitHub-Delivery":   "delivery-1",
		"X-Hub-Signature-256": sign(body),
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestQueryEndpoint(t *testing.T) {
	answerer := &stubAnswerer{content: "The chunker lives in src/chunker.py."}
	srv := newTestServer(&memQueue{}, answerer, &stubLister{})

	body, _ := json.Marshal(QueryRequest{
		Query:         "where is the chunker?",
		Repositories:  []string{"acme/alpha"},
		TopK:          7,
		PerNamespaceK: 3,
		MinScore:      0.4,
	})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "The chunker lives in src/chunker.py.", resp.Content)

	assert.Equal(t, []string{"acme/alpha"}, answerer.opts.Repositories)
	assert.Equal(t, 7, answerer.opts.TopK)
	assert.Equal(t, 3, answerer.opts.PerNamespaceK)
	assert.Equal(t, 0.4, answerer.opts.MinScore)
}

func TestQueryRequiresQueryField(t *testing.T) {
	srv := newTestServer(&memQueue{}, &stubAnswerer{}, &stubLister{})

	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryFailureReturns500(t *testing.T) {
	srv := newTestServer(&memQueue{}, &stubAnswerer{err: fmt.Errorf("store down")}, &stubLister{})

	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte(`{"query": "q"}`)))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRepositoriesEndpoint(t *testing.T) {
	srv := newTestServer(&memQueue{}, &stubAnswerer{}, &stubLister{
		namespaces: []string{"acme--alpha", "acme--beta"},
	})

	req := httptest.NewRequest(http.MethodGet, "/repositories", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp RepositoriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"acme/alpha", "acme/beta"}, resp.Repositories)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(&memQueue{}, &stubAnswerer{}, &stubLister{})

	req := httptest.NewRequest(http.MethodOptions, "/query", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&memQueue{}, &stubAnswerer{}, &stubLister{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
