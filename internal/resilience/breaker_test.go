package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errUpstream = errors.New("upstream 503")
	errBadInput = errors.New("bad request")
)

// testBreaker returns a breaker on a fake clock and the function that moves it.
func testBreaker(maxFailures int) (*Breaker, func(time.Duration)) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker("test", maxFailures, time.Minute)
	b.now = func() time.Time { return now }
	return b, func(d time.Duration) { now = now.Add(d) }
}

func fail(b *Breaker, n int, err error) {
	for range n {
		_ = b.Execute(func() error { return err })
	}
}

func TestBreaker_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		run     func(b *Breaker, advance func(time.Duration))
		want    State
		callsOK bool
	}{
		{
			name:    "closed below threshold",
			run:     func(b *Breaker, _ func(time.Duration)) { fail(b, 2, errUpstream) },
			want:    StateClosed,
			callsOK: true,
		},
		{
			name: "opens at threshold",
			run:  func(b *Breaker, _ func(time.Duration)) { fail(b, 3, errUpstream) },
			want: StateOpen,
		},
		{
			name: "success resets the count",
			run: func(b *Breaker, _ func(time.Duration)) {
				fail(b, 2, errUpstream)
				_ = b.Execute(func() error { return nil })
				fail(b, 2, errUpstream)
			},
			want:    StateClosed,
			callsOK: true,
		},
		{
			name: "half-open after cooldown",
			run: func(b *Breaker, advance func(time.Duration)) {
				fail(b, 3, errUpstream)
				advance(time.Minute)
			},
			want:    StateHalfOpen,
			callsOK: true,
		},
		{
			name: "failed probe reopens",
			run: func(b *Breaker, advance func(time.Duration)) {
				fail(b, 3, errUpstream)
				advance(time.Minute)
				fail(b, 1, errUpstream)
			},
			want: StateOpen,
		},
		{
			name: "successful probe closes",
			run: func(b *Breaker, advance func(time.Duration)) {
				fail(b, 3, errUpstream)
				advance(time.Minute)
				_ = b.Execute(func() error { return nil })
			},
			want:    StateClosed,
			callsOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, advance := testBreaker(3)
			tt.run(b, advance)
			if got := b.State(); got != tt.want {
				t.Fatalf("state = %s, want %s", got, tt.want)
			}
			err := b.Execute(func() error { return nil })
			if tt.callsOK != (err == nil) {
				t.Fatalf("Execute err = %v, want allowed=%v", err, tt.callsOK)
			}
		})
	}
}

func TestBreaker_ClassifierIgnoresClientErrors(t *testing.T) {
	b, _ := testBreaker(2)
	b.WithClassifier(func(err error) bool { return !errors.Is(err, errBadInput) })

	fail(b, 5, errBadInput)
	if b.Open() {
		t.Fatal("uncounted errors opened the circuit")
	}
	fail(b, 2, errUpstream)
	if !b.Open() {
		t.Fatal("counted errors should open the circuit")
	}
}

func TestBreaker_UncountedProbeFailureKeepsProbing(t *testing.T) {
	b, advance := testBreaker(1)
	b.WithClassifier(func(err error) bool { return !errors.Is(err, errBadInput) })
	fail(b, 1, errUpstream)
	advance(time.Minute)

	fail(b, 1, errBadInput)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("next probe rejected: %v", err)
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	b, advance := testBreaker(1)
	fail(b, 1, errUpstream)
	advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("concurrent call during probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after probe = %s", got)
	}
}
