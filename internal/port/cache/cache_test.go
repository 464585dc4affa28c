package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Strob0t/ForgeBot/internal/adapter/nats"
	"github.com/Strob0t/ForgeBot/internal/adapter/natskv"
	"github.com/Strob0t/ForgeBot/internal/adapter/ristretto"
	"github.com/Strob0t/ForgeBot/internal/adapter/tiered"
	"github.com/Strob0t/ForgeBot/internal/config"
	"github.com/Strob0t/ForgeBot/internal/port/cache"
)

func TestCompliance(t *testing.T) {
	impls := map[string]func(t *testing.T) cache.Cache{
		"ristretto": func(t *testing.T) cache.Cache {
			c, err := ristretto.New(1)
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(c.Close)
			return c
		},
		"tiered l1 only": func(t *testing.T) cache.Cache {
			l1, err := ristretto.New(1)
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(l1.Close)
			return tiered.New(l1, nil, time.Minute)
		},
		"natskv": func(t *testing.T) cache.Cache {
			url := os.Getenv("NATS_URL")
			if url == "" {
				t.Skip("requires NATS_URL")
			}
			q, err := nats.Connect(context.Background(), config.NATS{URL: url})
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = q.Close() })
			kv, err := q.KeyValue(context.Background(), "forgebot-compliance", time.Minute)
			if err != nil {
				t.Fatal(err)
			}
			return natskv.New(kv)
		},
	}
	for name, open := range impls {
		t.Run(name, func(t *testing.T) {
			runCompliance(t, open(t))
		})
	}
}

// runCompliance checks the behavior the issue summary relies on from every
// tier: read-your-write, misses without error, idempotent deletes.
func runCompliance(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()
	summary := []byte(`[{"code":"truncated","count":3}]`)

	steps := []struct {
		name string
		run  func(t *testing.T)
	}{
		{"miss", func(t *testing.T) {
			if _, found, err := c.Get(ctx, "issues.recent.1.1"); err != nil || found {
				t.Fatalf("Get = %v, %v", found, err)
			}
		}},
		{"read your write", func(t *testing.T) {
			if err := c.Set(ctx, "issues.recent.20.5", summary, time.Minute); err != nil {
				t.Fatal(err)
			}
			got, found, err := c.Get(ctx, "issues.recent.20.5")
			if err != nil || !found || string(got) != string(summary) {
				t.Fatalf("Get = %q, %v, %v", got, found, err)
			}
		}},
		{"overwrite", func(t *testing.T) {
			_ = c.Set(ctx, "issues.recent.20.5", []byte("[]"), time.Minute)
			got, _, _ := c.Get(ctx, "issues.recent.20.5")
			if string(got) != "[]" {
				t.Fatalf("Get after overwrite = %q", got)
			}
		}},
		{"delete", func(t *testing.T) {
			if err := c.Delete(ctx, "issues.recent.20.5"); err != nil {
				t.Fatal(err)
			}
			if _, found, _ := c.Get(ctx, "issues.recent.20.5"); found {
				t.Fatal("entry survived Delete")
			}
		}},
		{"delete missing", func(t *testing.T) {
			if err := c.Delete(ctx, "issues.recent.never"); err != nil {
				t.Fatalf("Delete of a missing key: %v", err)
			}
		}},
	}
	for _, s := range steps {
		t.Run(s.name, s.run)
	}
}
