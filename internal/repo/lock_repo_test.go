package repo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestTryAcquireLock_FreshThenContended(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ok, err := TryAcquireLock(ctx, db, "job", "owner-a", t0, t0.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ok, err = TryAcquireLock(ctx, db, "job", "owner-b", t0.Add(time.Second), t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second acquire err: %v", err)
	}
	if ok {
		t.Fatalf("second acquire must fail while the lock is valid")
	}

	l, err := GetLock(ctx, db, "job")
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	if l.Owner != "owner-a" || !l.ExpiresAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("row should be untouched by the losing acquire: %+v", l)
	}
}

func TestTryAcquireLock_ExpiredTakeover(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if ok, _ := TryAcquireLock(ctx, db, "job", "owner-a", t0, t0.Add(time.Second)); !ok {
		t.Fatalf("seed acquire failed")
	}

	later := t0.Add(5 * time.Second)
	ok, err := TryAcquireLock(ctx, db, "job", "owner-b", later, later.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("takeover: ok=%v err=%v", ok, err)
	}
	l, _ := GetLock(ctx, db, "job")
	if l.Owner != "owner-b" || !l.LockedAt.Equal(later) {
		t.Fatalf("takeover did not overwrite the row: %+v", l)
	}
}

func TestReleaseLock_OwnerGuard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	TryAcquireLock(ctx, db, "job", "owner-a", t0, t0.Add(time.Minute))

	ok, err := ReleaseLock(ctx, db, "job", "intruder")
	if err != nil || ok {
		t.Fatalf("release by wrong owner: ok=%v err=%v", ok, err)
	}
	if _, err := GetLock(ctx, db, "job"); err != nil {
		t.Fatalf("row must survive a foreign release: %v", err)
	}

	ok, err = ReleaseLock(ctx, db, "job", "owner-a")
	if err != nil || !ok {
		t.Fatalf("release by owner: ok=%v err=%v", ok, err)
	}
	if _, err := GetLock(ctx, db, "job"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after release, got %v", err)
	}

	// Immediately acquirable again.
	if ok, _ := TryAcquireLock(ctx, db, "job", "owner-b", t0.Add(time.Second), t0.Add(time.Minute)); !ok {
		t.Fatalf("acquire after release should succeed")
	}
}

func TestExtendLock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	TryAcquireLock(ctx, db, "job", "owner-a", t0, t0.Add(time.Minute))

	ok, err := ExtendLock(ctx, db, "job", "intruder", t0.Add(time.Second), t0.Add(10*time.Minute))
	if err != nil || ok {
		t.Fatalf("extend by wrong owner: ok=%v err=%v", ok, err)
	}
	l, _ := GetLock(ctx, db, "job")
	if !l.ExpiresAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("expires_at changed by foreign extend: %v", l.ExpiresAt)
	}

	ok, err = ExtendLock(ctx, db, "job", "owner-a", t0.Add(time.Second), t0.Add(10*time.Minute))
	if err != nil || !ok {
		t.Fatalf("extend by owner: ok=%v err=%v", ok, err)
	}
	l, _ = GetLock(ctx, db, "job")
	if !l.ExpiresAt.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("expires_at not extended: %v", l.ExpiresAt)
	}

	// Past the deadline the owner can no longer extend.
	ok, err = ExtendLock(ctx, db, "job", "owner-a", t0.Add(11*time.Minute), t0.Add(20*time.Minute))
	if err != nil || ok {
		t.Fatalf("extend after expiry: ok=%v err=%v", ok, err)
	}
}

func TestSweepExpiredLocks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	TryAcquireLock(ctx, db, "a", "o", t0, t0.Add(time.Second))
	TryAcquireLock(ctx, db, "b", "o", t0, t0.Add(2*time.Second))
	TryAcquireLock(ctx, db, "c", "o", t0, t0.Add(time.Hour))

	n, err := SweepExpiredLocks(ctx, db, t0.Add(time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	rows, _ := ListLocks(ctx, db)
	if len(rows) != 1 || rows[0].LockID != "c" {
		t.Fatalf("remaining rows: %+v", rows)
	}
}

func TestTryAcquireLock_ConcurrentRace_SingleWinner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const n = 16
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := TryAcquireLock(ctx, db, "race", fmt.Sprintf("owner-%d", i), t0, t0.Add(time.Minute))
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestTryAcquireLock_IsSingleConditionalUpsert(t *testing.T) {
	db, mock := newMockDB(t)

	stmt := `^INSERT INTO "distributed_locks" \("lock_id","owner","locked_at","expires_at"\) VALUES \(\$1,\$2,\$3,\$4\) ` +
		`ON CONFLICT \("lock_id"\) DO UPDATE SET .+ WHERE "distributed_locks"\."expires_at" <= \$5`

	mock.ExpectExec(stmt).
		WithArgs("calibrate-all-menu-stocks", "owner-a", Any{}, Any{}, Any{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).
		WithArgs("calibrate-all-menu-stocks", "owner-b", Any{}, Any{}, Any{}).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	ok, err := TryAcquireLock(ctx, db, "calibrate-all-menu-stocks", "owner-a", t0, t0.Add(10*time.Minute))
	if err != nil || !ok {
		t.Fatalf("first: ok=%v err=%v", ok, err)
	}
	ok, err = TryAcquireLock(ctx, db, "calibrate-all-menu-stocks", "owner-b", t0, t0.Add(10*time.Minute))
	if err != nil || ok {
		t.Fatalf("second: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReleaseAndExtend_AreConditionalStatements(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "distributed_locks" WHERE lock_id = $1 AND owner = $2`)).
		WithArgs("job", "owner-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "distributed_locks" SET "expires_at"=$1 WHERE lock_id = $2 AND owner = $3 AND expires_at > $4`)).
		WithArgs(Any{}, "job", "owner-a", Any{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	if ok, err := ReleaseLock(ctx, db, "job", "owner-a"); err != nil || ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	if ok, err := ExtendLock(ctx, db, "job", "owner-a", t0, t0.Add(time.Minute)); err != nil || !ok {
		t.Fatalf("extend: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
