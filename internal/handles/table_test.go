package handles

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type closer struct {
	closed atomic.Int32
	err    error
}

func (c *closer) Close() error {
	c.closed.Add(1)
	return c.err
}

func TestCreateLookupRelease(t *testing.T) {
	t.Parallel()

	tab := New[*closer]()
	c := &closer{}
	h := tab.Create(c)
	if !h.Valid() {
		t.Fatalf("invalid handle %d", h)
	}
	lease, err := tab.Lookup(h)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if lease.Value != c {
		t.Fatalf("lease holds the wrong value")
	}
	lease.Done()
	lease.Done()

	if err := tab.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if c.closed.Load() != 1 {
		t.Fatalf("closed %d times", c.closed.Load())
	}
	if _, err := tab.Lookup(h); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup after release: %v", err)
	}
	if err := tab.Release(h); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double release: %v", err)
	}
	if err := tab.Release(0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("release of zero: %v", err)
	}
}

func TestHandlesAreUniqueAndNeverReused(t *testing.T) {
	t.Parallel()

	tab := New[*closer]()
	seen := map[Handle]bool{}
	for range 100 {
		h := tab.Create(&closer{})
		if h == 0 || seen[h] {
			t.Fatalf("handle %d reused or zero", h)
		}
		seen[h] = true
		if err := tab.Release(h); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}
	if tab.Len() != 0 {
		t.Fatalf("Len = %d", tab.Len())
	}
}

func TestLookupFailsFastWhenBusy(t *testing.T) {
	t.Parallel()

	tab := New[*closer]()
	h := tab.Create(&closer{})
	lease, err := tab.Lookup(h)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := tab.Lookup(h); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	lease.Done()
	again, err := tab.Lookup(h)
	if err != nil {
		t.Fatalf("Lookup after Done: %v", err)
	}
	again.Done()
}

func TestDistinctHandlesDoNotBlock(t *testing.T) {
	t.Parallel()

	tab := New[*closer]()
	a := tab.Create(&closer{})
	b := tab.Create(&closer{})
	la, err := tab.Lookup(a)
	if err != nil {
		t.Fatalf("Lookup a: %v", err)
	}
	defer la.Done()
	lb, err := tab.Lookup(b)
	if err != nil {
		t.Fatalf("Lookup b while a is leased: %v", err)
	}
	lb.Done()
	if err := tab.Release(b); err != nil {
		t.Fatalf("Release b: %v", err)
	}
}

func TestReleaseWaitsForLease(t *testing.T) {
	t.Parallel()

	tab := New[*closer]()
	c := &closer{}
	h := tab.Create(c)
	lease, err := tab.Lookup(h)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	released := make(chan error, 1)
	go func() { released <- tab.Release(h) }()

	// New lookups fail as soon as the release starts, before it finishes.
	deadline := time.Now().Add(time.Second)
	for tab.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("release never removed the handle")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := tab.Lookup(h); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup during release: %v", err)
	}
	select {
	case <-released:
		t.Fatalf("release finished while the lease was held")
	case <-time.After(20 * time.Millisecond):
	}
	if c.closed.Load() != 0 {
		t.Fatalf("value closed under an active lease")
	}

	lease.Done()
	if err := <-released; err != nil {
		t.Fatalf("Release: %v", err)
	}
	if c.closed.Load() != 1 {
		t.Fatalf("closed %d times", c.closed.Load())
	}
}

func TestConcurrentLeasesOnOneHandle(t *testing.T) {
	t.Parallel()

	tab := New[*closer]()
	h := tab.Create(&closer{})
	var (
		wg     sync.WaitGroup
		active atomic.Int32
		busy   atomic.Int32
	)
	for range 32 {
		wg.Go(func() {
			for range 100 {
				lease, err := tab.Lookup(h)
				if errors.Is(err, ErrBusy) {
					busy.Add(1)
					continue
				}
				if err != nil {
					t.Errorf("Lookup: %v", err)
					return
				}
				if n := active.Add(1); n != 1 {
					t.Errorf("%d leases active at once", n)
				}
				active.Add(-1)
				lease.Done()
			}
		})
	}
	wg.Wait()
	if err := tab.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	tab := New[*closer]()
	boom := errors.New("boom")
	values := []*closer{{}, {err: boom}, {}}
	var hs []Handle
	for _, v := range values {
		hs = append(hs, tab.Create(v))
	}
	if got := tab.Handles(); !slices.Equal(got, hs) {
		t.Fatalf("Handles = %v, want %v", got, hs)
	}
	if err := tab.CloseAll(); !errors.Is(err, boom) {
		t.Fatalf("CloseAll error = %v", err)
	}
	for i, v := range values {
		if v.closed.Load() != 1 {
			t.Fatalf("value %d closed %d times", i, v.closed.Load())
		}
	}
	if tab.Len() != 0 {
		t.Fatalf("Len = %d after CloseAll", tab.Len())
	}
}
