package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/formsync/internal/api"
	"github.com/notifyhub/formsync/internal/domain"
	"github.com/notifyhub/formsync/internal/mapper"
	"github.com/notifyhub/formsync/internal/metrics"
	"github.com/notifyhub/formsync/internal/provider"
	"github.com/notifyhub/formsync/internal/ratelimiter"
	"github.com/notifyhub/formsync/internal/repository"
	"github.com/notifyhub/formsync/internal/service"
	"github.com/notifyhub/formsync/internal/worker"
)

type fixture struct {
	srv  *httptest.Server
	repo *repository.MemoryQueueRepository
	prov *provider.MockProvider
}

func newFixture(t *testing.T, healthCheck func(context.Context) error) *fixture {
	t.Helper()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hooks := m.WorkerHooks()

	repo := repository.NewMemoryQueueRepository()
	prov := provider.NewMockProvider()
	creds := provider.StaticCredentials{Key: "key-us1"}

	reconciler := worker.NewResultReconciler(repo, prov, nil, logger, hooks)
	poller := worker.NewStatusPoller(repo, prov, creds, ratelimiter.Unlimited{}, reconciler, 0, logger, hooks)
	polls := worker.NewPollRegistry(poller, time.Hour, logger)
	t.Cleanup(polls.Stop)
	submitter := worker.NewBatchSubmitter(repo, prov, creds, mapper.Mailchimp{}, ratelimiter.Unlimited{}, polls,
		worker.SubmitterConfig{MaxBatchOperations: domain.MaxBatchOperations, MaxAttempts: domain.MaxAttempts}, logger, hooks)
	dispatcher := worker.NewDispatcher(repo, submitter, 1000, 2, logger, hooks)
	svc := service.NewQueueService(repo, dispatcher, logger, m.OnEnqueued)

	srv := httptest.NewServer(api.NewRouter(svc, reg, healthCheck, logger))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, repo: repo, prov: prov}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

const submission = `{"form_id":"contact","submission_data":{"email":"jane@example.com"},"settings":{"audience_id":"X"}}`

func TestRouter_SubmitLookupAndDrain(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/api/v1/submissions", submission)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Fatal("expected a correlation id on the response")
	}
	var item domain.QueueItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		t.Fatal(err)
	}
	if item.ID == 0 || item.Status != domain.StatusPending {
		t.Fatalf("unexpected item %+v", item)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/submissions/1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on lookup, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/queue/drain", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on drain, got %d", resp.StatusCode)
	}
	var report worker.DrainReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Selected != 1 || f.prov.SubmissionCount() != 1 {
		t.Fatalf("expected one item drained, got %+v", report)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/queue/stats", "")
	var stats domain.QueueStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 || stats.Processing != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRouter_ErrorMapping(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"malformed json", http.MethodPost, "/api/v1/submissions", "{", http.StatusBadRequest},
		{"no destination", http.MethodPost, "/api/v1/submissions", `{"form_id":"f","submission_data":{"email":"a@b.c"},"settings":{}}`, http.StatusUnprocessableEntity},
		{"bad priority", http.MethodPost, "/api/v1/submissions", `{"form_id":"f","submission_data":{"email":"a@b.c"},"settings":{"audience_id":"X"},"priority":"urgent"}`, http.StatusUnprocessableEntity},
		{"unknown item", http.MethodGet, "/api/v1/submissions/42", "", http.StatusNotFound},
		{"non-numeric id", http.MethodGet, "/api/v1/submissions/abc", "", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if resp := f.do(t, tc.method, tc.path, tc.body); resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestRouter_StatsStoreErrorIsInternal(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.StatsErr = errors.New("db down")

	if resp := f.do(t, http.MethodGet, "/api/v1/queue/stats", ""); resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	if resp := f.do(t, http.MethodGet, "/health", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy, got %d", resp.StatusCode)
	}

	f.do(t, http.MethodPost, "/api/v1/submissions", submission)
	resp := f.do(t, http.MethodGet, "/metrics", "")
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `formsync_items_enqueued_total{priority="normal"} 1`) {
		t.Fatal("expected enqueue counter in scrape output")
	}

	sick := newFixture(t, func(context.Context) error { return errors.New("connection refused") })
	if resp := sick.do(t, http.MethodGet, "/health", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the store is unreachable, got %d", resp.StatusCode)
	}
}
