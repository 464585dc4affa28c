package litellm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// proxy serves /model/info with the given names and counts the hits.
func proxy(t *testing.T, names ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model/info" || r.Method != http.MethodGet {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer mk" {
			t.Errorf("authorization = %q", got)
		}
		hits.Add(1)
		data := make([]Model, len(names))
		for i, n := range names {
			data[i] = Model{ModelName: n, Provider: "openrouter"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]Model{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestListModels(t *testing.T) {
	srv, _ := proxy(t, "primary", "backup")
	models, err := NewClient(srv.URL+"/", "mk").ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[1].ModelName != "backup" || models[1].Provider != "openrouter" {
		t.Fatalf("models = %+v", models)
	}
}

func TestMissingModels_KeepsOrderAndSkipsEmpty(t *testing.T) {
	srv, _ := proxy(t, "primary", "backup")
	missing, err := NewClient(srv.URL, "mk").MissingModels(context.Background(), []string{"gone", "primary", "", "also-gone", "backup"})
	if err != nil {
		t.Fatalf("MissingModels: %v", err)
	}
	if strings.Join(missing, ",") != "gone,also-gone" {
		t.Fatalf("missing = %v", missing)
	}
}

func TestMissingModels_CachesCatalog(t *testing.T) {
	srv, hits := proxy(t, "primary")
	c := NewClient(srv.URL, "mk")
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.MissingModels(ctx, []string{"primary"}); err != nil {
				t.Errorf("MissingModels: %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := c.MissingModels(ctx, []string{"primary"}); err != nil {
		t.Fatal(err)
	}
	// Concurrent first lookups may race the cache fill, never more than
	// one request per caller and usually just one in total.
	first := hits.Load()
	if first < 1 || first > 8 {
		t.Fatalf("hits = %d", first)
	}

	now = now.Add(catalogTTL)
	if _, err := c.MissingModels(ctx, []string{"primary"}); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != first+1 {
		t.Fatalf("expired catalog not refreshed: hits %d -> %d", first, hits.Load())
	}
}

func TestMissingModels_ProxyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").MissingModels(context.Background(), []string{"primary"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestHealthDetailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"healthy_endpoints": [{"model": "primary", "api_base": "https://openrouter.ai/api/v1"}],
			"unhealthy_endpoints": [{"model": "backup", "error": "ConnectionError"}],
			"healthy_count": 1,
			"unhealthy_count": 1
		}`))
	}))
	defer srv.Close()

	report, err := NewClient(srv.URL, "").HealthDetailed(context.Background())
	if err != nil {
		t.Fatalf("HealthDetailed: %v", err)
	}
	if report.HealthyCount != 1 || report.HealthyEndpoints[0].APIBase == "" || report.UnhealthyEndpoints[0].Model != "backup" {
		t.Fatalf("report = %+v", report)
	}
}

func TestHealthDetailed_ProxyDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "").HealthDetailed(context.Background()); err == nil {
		t.Fatal("expected error from a 503 proxy")
	}
}
