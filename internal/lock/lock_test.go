package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/tbourn/pos-coordinator/internal/clock"
	"github.com/tbourn/pos-coordinator/internal/domain"
)

// ----- Fake store -----

type memStore struct {
	mu       sync.Mutex
	rows     map[string]domain.DistributedLock
	attempts int
	err      error
}

func newMemStore() *memStore { return &memStore{rows: map[string]domain.DistributedLock{}} }

func (s *memStore) TryAcquireLock(_ context.Context, _ *gorm.DB, id, owner string, now, exp time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil {
		return false, s.err
	}
	if cur, ok := s.rows[id]; ok && !cur.Expired(now) {
		return false, nil
	}
	s.rows[id] = domain.DistributedLock{LockID: id, Owner: owner, LockedAt: now, ExpiresAt: exp}
	return true, nil
}

func (s *memStore) ExtendLock(_ context.Context, _ *gorm.DB, id, owner string, now, exp time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[id]
	if !ok || cur.Owner != owner || cur.Expired(now) {
		return false, nil
	}
	cur.ExpiresAt = exp
	s.rows[id] = cur
	return true, nil
}

func (s *memStore) ReleaseLock(_ context.Context, _ *gorm.DB, id, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[id]
	if !ok || cur.Owner != owner {
		return false, nil
	}
	delete(s.rows, id)
	return true, nil
}

func (s *memStore) SweepExpiredLocks(_ context.Context, _ *gorm.DB, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if r.Expired(now) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListLocks(_ context.Context, _ *gorm.DB) ([]domain.DistributedLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DistributedLock, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out, nil
}

var start = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestLocker(s Store) (*Locker, *clock.Fake) {
	clk := clock.NewFake(start)
	return New(nil, s, clk, time.Millisecond), clk
}

// ----- Tests -----

func TestAttempts(t *testing.T) {
	cases := []struct {
		ttl, delay time.Duration
		want       int
	}{
		{60 * time.Second, 500 * time.Millisecond, 120},
		{10 * time.Minute, 500 * time.Millisecond, 1200},
		{1250 * time.Millisecond, 500 * time.Millisecond, 2},
		{100 * time.Millisecond, 500 * time.Millisecond, 1},
		{time.Second, 0, 1},
	}
	for _, tc := range cases {
		if got := Attempts(tc.ttl, tc.delay); got != tc.want {
			t.Fatalf("Attempts(%v,%v)=%d want %d", tc.ttl, tc.delay, got, tc.want)
		}
	}
}

func TestAcquire_SuccessSetsOwnerAndExpiry(t *testing.T) {
	s := newMemStore()
	l, _ := newTestLocker(s)
	before := testutil.ToFloat64(acquireTotal.WithLabelValues("acquired"))

	lk, err := l.Acquire(context.Background(), "job", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lk.ID != "job" || lk.Owner == "" || !lk.ExpiresAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected lock: %+v", lk)
	}
	if s.rows["job"].Owner != lk.Owner {
		t.Fatalf("stored owner %q != returned %q", s.rows["job"].Owner, lk.Owner)
	}
	if got := testutil.ToFloat64(acquireTotal.WithLabelValues("acquired")) - before; got != 1 {
		t.Fatalf("acquired counter delta = %v", got)
	}
}

func TestAcquire_OwnerTokensAreUnique(t *testing.T) {
	s := newMemStore()
	l, _ := newTestLocker(s)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		lk, err := l.Acquire(context.Background(), fmt.Sprintf("k%d", i), time.Minute)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if seen[lk.Owner] {
			t.Fatalf("duplicate owner token %q", lk.Owner)
		}
		seen[lk.Owner] = true
	}
}

func TestAcquire_ContentionExhaustsAttempts(t *testing.T) {
	s := newMemStore()
	l, _ := newTestLocker(s)
	if _, err := l.Acquire(context.Background(), "job", time.Minute); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	s.attempts = 0

	_, err := l.Acquire(context.Background(), "job", 5*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("want ErrLockTimeout, got %v", err)
	}
	if s.attempts != 5 {
		t.Fatalf("attempts = %d, want floor(5ms/1ms)=5", s.attempts)
	}
}

func TestAcquire_WithAttemptsOneFailsFast(t *testing.T) {
	s := newMemStore()
	l, _ := newTestLocker(s)
	l.Acquire(context.Background(), "job", time.Minute)
	s.attempts = 0

	_, err := l.Acquire(context.Background(), "job", 10*time.Minute, WithAttempts(1))
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("want ErrLockTimeout, got %v", err)
	}
	if s.attempts != 1 {
		t.Fatalf("attempts = %d, want 1", s.attempts)
	}
}

func TestAcquire_StoreErrorIsNotRetried(t *testing.T) {
	s := newMemStore()
	s.err = errors.New("db down")
	l, _ := newTestLocker(s)

	_, err := l.Acquire(context.Background(), "job", time.Second)
	if err == nil || errors.Is(err, ErrLockTimeout) {
		t.Fatalf("want store error, got %v", err)
	}
	if !errors.Is(err, s.err) {
		t.Fatalf("store error not wrapped: %v", err)
	}
	if s.attempts != 1 {
		t.Fatalf("store error retried %d times", s.attempts)
	}
}

func TestAcquire_ExpiredLockIsTakenOver(t *testing.T) {
	s := newMemStore()
	l, clk := newTestLocker(s)
	first, _ := l.Acquire(context.Background(), "job", time.Second)

	clk.Advance(2 * time.Second)
	second, err := l.Acquire(context.Background(), "job", time.Second, WithAttempts(1))
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if second.Owner == first.Owner {
		t.Fatalf("owner token reused")
	}

	// The original holder can no longer release it.
	ok, err := l.Release(context.Background(), "job", first.Owner)
	if err != nil || ok {
		t.Fatalf("stale release: ok=%v err=%v", ok, err)
	}
	if s.rows["job"].Owner != second.Owner {
		t.Fatalf("stale release removed the new holder's row")
	}
}

func TestReleaseThenReacquireImmediately(t *testing.T) {
	s := newMemStore()
	l, _ := newTestLocker(s)
	lk, _ := l.Acquire(context.Background(), "job", time.Minute)

	before := testutil.ToFloat64(releaseTotal.WithLabelValues("released"))
	ok, err := l.Release(context.Background(), "job", lk.Owner)
	if err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	if got := testutil.ToFloat64(releaseTotal.WithLabelValues("released")) - before; got != 1 {
		t.Fatalf("released counter delta = %v", got)
	}
	if _, err := l.Acquire(context.Background(), "job", time.Minute, WithAttempts(1)); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
}

func TestExtend(t *testing.T) {
	s := newMemStore()
	l, clk := newTestLocker(s)
	lk, _ := l.Acquire(context.Background(), "job", time.Minute)

	ok, err := l.Extend(context.Background(), "job", "someone-else", time.Hour)
	if err != nil || ok {
		t.Fatalf("foreign extend: ok=%v err=%v", ok, err)
	}
	if !s.rows["job"].ExpiresAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("foreign extend changed expiry")
	}

	clk.Advance(30 * time.Second)
	ok, err = l.Extend(context.Background(), "job", lk.Owner, 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("owner extend: ok=%v err=%v", ok, err)
	}
	if want := start.Add(30*time.Second + 10*time.Minute); !s.rows["job"].ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", s.rows["job"].ExpiresAt, want)
	}

	clk.Advance(time.Hour)
	if ok, _ := l.Extend(context.Background(), "job", lk.Owner, time.Minute); ok {
		t.Fatalf("extend of an expired lock must fail")
	}
}

func TestSweepExpiredAndList(t *testing.T) {
	s := newMemStore()
	l, clk := newTestLocker(s)
	l.Acquire(context.Background(), "short", time.Second)
	l.Acquire(context.Background(), "long", time.Hour)

	clk.Advance(time.Minute)
	n, err := l.SweepExpired(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	rows, _ := l.List(context.Background())
	if len(rows) != 1 || rows[0].LockID != "long" {
		t.Fatalf("rows after sweep: %+v", rows)
	}
}

func TestAcquire_ConcurrentCallersSingleWinner(t *testing.T) {
	s := newMemStore()
	l, _ := newTestLocker(s)

	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "race", time.Minute, WithAttempts(1)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d, want 1", wins)
	}
}

func TestAcquire_ContextCanceledStopsWaiting(t *testing.T) {
	s := newMemStore()
	l, _ := newTestLocker(s)
	l.Acquire(context.Background(), "job", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Acquire(ctx, "job", time.Minute, WithRetryDelay(time.Hour), WithAttempts(5))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
