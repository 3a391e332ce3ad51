package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 3000, RequestTimeout: 10 * time.Second},
		Crawl: config.CrawlConfig{
			MaxDepthDefault:   2,
			MaxPagesDefault:   5,
			SameDomainDefault: true,
		},
		Queue: config.QueueConfig{
			Backend:           "memory",
			Prefix:            "crawl-queue-",
			DLQSuffix:         "-dlq",
			VisibilityTimeout: 20 * time.Second,
			MaxReceiveCount:   2,
		},
		Store:      config.StoreConfig{Backend: "memory"},
		Storage:    config.StorageConfig{Backend: "memory", Prefix: "pages"},
		Cache:      config.CacheConfig{CrawlTTL: time.Second, RunningTTL: time.Second, CrawlSize: 16},
		Seen:       config.SeenConfig{Backend: "memory"},
		Events: config.EventsConfig{
			Backend:      "memory",
			Topic:        "crawl-events",
			Journal:      true,
			MaxBatch:     10,
			MaxBatchWait: 10 * time.Millisecond,
		},
		Job:        config.JobConfig{MaxNum: 10},
		Balancer:   config.BalancerConfig{Policy: "oldest"},
		Completion: config.CompletionConfig{AdmitConcurrency: 2},
		Telemetry:  config.TelemetryConfig{ServiceName: "crawl-frontier-test"},
	}
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, &buf))
	return rec
}

func TestBuildInMemoryServesFullCycle(t *testing.T) {
	app, err := BuildWithLogger(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	h := app.Handler()

	rec := do(t, h, http.MethodPost, "/crawl", map[string]any{"start_url": "http://a.example/"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var crawl struct {
		ID       string `json:"id"`
		MaxPages int    `json:"max_pages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &crawl))
	require.Equal(t, 5, crawl.MaxPages)

	rec = do(t, h, http.MethodGet, "/job?num=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var jobs []struct {
		PageID   string `json:"page_id"`
		CrawlID  string `json:"crawl_id"`
		URL      string `json:"url"`
		DeleteID string `json:"delete_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	require.Equal(t, "http://a.example/", jobs[0].URL)

	rec = do(t, h, http.MethodPut, "/page/"+jobs[0].PageID, map[string]any{
		"content": "<html></html>",
		"links":   []string{"http://a.example/next", "http://other.example/"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"admitted":1`)

	rec = do(t, h, http.MethodDelete, "/crawl/"+crawl.ID+"/job/"+jobs[0].DeleteID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/page/"+jobs[0].PageID+"?hydrate=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<html></html>")

	rec = do(t, h, http.MethodGet, "/job?crawl="+crawl.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http://a.example/next")

	rec = do(t, h, http.MethodDelete, "/crawl/"+crawl.ID+"?hard=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"stopped"`)

	rec = do(t, h, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var journal struct {
		Events []struct {
			Type string `json:"type"`
		} `json:"events"`
	}
	require.Eventually(t, func() bool {
		rec := do(t, h, http.MethodGet, "/crawl/"+crawl.ID+"/events", nil)
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &journal) != nil {
			return false
		}
		return len(journal.Events) == 3
	}, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, "crawl.submitted", journal.Events[0].Type)
	require.Equal(t, "page.completed", journal.Events[1].Type)
	require.Equal(t, "crawl.stopped", journal.Events[2].Type)
}

func TestSetupPolicyRejectsUnknown(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Balancer.Policy = "weighted"
	_, err := setupPolicy(&App{cfg: cfg, logger: zap.NewNop()})
	require.ErrorContains(t, err, "unknown balancer policy")
}

func TestSetupPublisherDisabled(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig()
	cfg.Events.Backend = "none"
	pub, err := setupPublisher(context.Background(), &App{cfg: cfg, logger: zap.NewNop()})
	require.NoError(t, err)
	require.Nil(t, pub)
}

func TestMigrateRunsStoreAndQueueSchemas(t *testing.T) {
	t.Parallel()

	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	cfg := memoryConfig()
	cfg.Store.Backend = "postgres"
	cfg.Queue.Backend = "postgres"
	cfg.Database.CrawlTable = "crawls"
	cfg.Database.PageTable = "pages"
	cfg.Database.EventTable = "crawl_events"
	cfg.Queue.TablePrefix = "frontier"

	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS crawls",
		"CREATE INDEX IF NOT EXISTS crawls_status_idx",
		"CREATE TABLE IF NOT EXISTS pages",
		"CREATE INDEX IF NOT EXISTS pages_crawl_url_idx",
		"CREATE TABLE IF NOT EXISTS crawl_events",
		"CREATE INDEX IF NOT EXISTS crawl_events_crawl_seq_idx",
		"CREATE TABLE IF NOT EXISTS frontier_queues",
		"CREATE TABLE IF NOT EXISTS frontier_messages",
		"CREATE INDEX IF NOT EXISTS frontier_messages_visible_idx",
		"CREATE UNIQUE INDEX IF NOT EXISTS frontier_messages_receipt_idx",
	} {
		pool.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, migrate(context.Background(), pool, cfg, zap.NewNop()))
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestMigrateSkipsWithoutPostgres(t *testing.T) {
	t.Parallel()

	require.NoError(t, Migrate(context.Background(), memoryConfig(), zap.NewNop()))
}
