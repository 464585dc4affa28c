package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/ForgeBot/internal/adapter/tiered"
)

const summaryKey = "issues.recent.20.5"

var errBroker = errors.New("nats: connection closed")

// tier is an in-memory cache.Cache that records TTLs and can be made to fail.
type tier struct {
	data map[string][]byte
	ttls map[string]time.Duration
	down bool
}

func newTier(seed map[string]string) *tier {
	t := &tier{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
	for k, v := range seed {
		t.data[k] = []byte(v)
	}
	return t
}

func (t *tier) Get(_ context.Context, key string) ([]byte, bool, error) {
	if t.down {
		return nil, false, errBroker
	}
	v, ok := t.data[key]
	return v, ok, nil
}

func (t *tier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if t.down {
		return errBroker
	}
	t.data[key], t.ttls[key] = value, ttl
	return nil
}

func (t *tier) Delete(_ context.Context, key string) error {
	if t.down {
		return errBroker
	}
	delete(t.data, key)
	return nil
}

func TestCache_Get(t *testing.T) {
	tests := []struct {
		name       string
		l1, l2     map[string]string
		l2Down     bool
		want       string
		wantFound  bool
		backfilled bool
	}{
		{name: "l1 hit", l1: map[string]string{summaryKey: "[l1]"}, l2: map[string]string{summaryKey: "[l2]"}, want: "[l1]", wantFound: true},
		{name: "l2 hit backfills l1", l2: map[string]string{summaryKey: "[l2]"}, want: "[l2]", wantFound: true, backfilled: true},
		{name: "miss everywhere"},
		{name: "l2 down reads as miss", l2Down: true},
		{name: "l2 down does not hide l1", l1: map[string]string{summaryKey: "[l1]"}, l2Down: true, want: "[l1]", wantFound: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l1, l2 := newTier(tt.l1), newTier(tt.l2)
			l2.down = tt.l2Down
			c := tiered.New(l1, l2, time.Minute)

			got, found, err := c.Get(context.Background(), summaryKey)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if found != tt.wantFound || string(got) != tt.want {
				t.Fatalf("Get = %q, %v; want %q, %v", got, found, tt.want, tt.wantFound)
			}
			if tt.backfilled {
				if string(l1.data[summaryKey]) != tt.want || l1.ttls[summaryKey] != time.Minute {
					t.Fatalf("l1 backfill = %q ttl %v", l1.data[summaryKey], l1.ttls[summaryKey])
				}
			}
		})
	}
}

func TestCache_SetCapsL1TTL(t *testing.T) {
	l1, l2 := newTier(nil), newTier(nil)
	c := tiered.New(l1, l2, time.Minute)

	if err := c.Set(context.Background(), summaryKey, []byte("[]"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if l1.ttls[summaryKey] != time.Minute || l2.ttls[summaryKey] != time.Hour {
		t.Fatalf("ttls l1 %v l2 %v", l1.ttls[summaryKey], l2.ttls[summaryKey])
	}

	// A shorter caller TTL wins on L1 too.
	if err := c.Set(context.Background(), summaryKey, []byte("[]"), time.Second); err != nil {
		t.Fatal(err)
	}
	if l1.ttls[summaryKey] != time.Second {
		t.Fatalf("l1 ttl = %v", l1.ttls[summaryKey])
	}
}

func TestCache_L2OutageIsInvisible(t *testing.T) {
	l1, l2 := newTier(nil), newTier(nil)
	l2.down = true
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, summaryKey, []byte("[]"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := l1.data[summaryKey]; !ok {
		t.Fatal("value missing from l1")
	}
	if err := c.Delete(ctx, summaryKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := l1.data[summaryKey]; ok {
		t.Fatal("l1 entry survived Delete")
	}
}

func TestCache_L1FailureSurfaces(t *testing.T) {
	l1 := newTier(nil)
	l1.down = true
	c := tiered.New(l1, newTier(nil), time.Minute)

	if _, _, err := c.Get(context.Background(), summaryKey); !errors.Is(err, errBroker) {
		t.Fatalf("Get err = %v", err)
	}
	if err := c.Set(context.Background(), summaryKey, nil, time.Minute); !errors.Is(err, errBroker) {
		t.Fatalf("Set err = %v", err)
	}
}

func TestCache_WithoutL2(t *testing.T) {
	l1 := newTier(nil)
	c := tiered.New(l1, nil, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, summaryKey, []byte("[]"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if got, found, err := c.Get(ctx, summaryKey); err != nil || !found || string(got) != "[]" {
		t.Fatalf("Get = %q, %v, %v", got, found, err)
	}
	if err := c.Delete(ctx, summaryKey); err != nil {
		t.Fatal(err)
	}
}
