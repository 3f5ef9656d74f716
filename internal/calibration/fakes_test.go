package calibration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pos-coordinator/internal/clock"
	"github.com/tbourn/pos-coordinator/internal/config"
	"github.com/tbourn/pos-coordinator/internal/domain"
	"github.com/tbourn/pos-coordinator/internal/lock"
	"github.com/tbourn/pos-coordinator/internal/repo"
)

var t0 = time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)

// memRepo is an in-memory Repo with per-item failure injection.
type memRepo struct {
	mu     sync.Mutex
	items  map[string]*domain.MenuItem
	lines  map[string][]domain.RecipeIngredient
	stocks map[string]*domain.MenuStock

	failGet    map[string]error
	failWrite  map[string]error
	failUpdate map[string]error
	failReset  map[string]error
	streamErr  error

	forced []string
}

func newMemRepo() *memRepo {
	return &memRepo{
		items:      map[string]*domain.MenuItem{},
		lines:      map[string][]domain.RecipeIngredient{},
		stocks:     map[string]*domain.MenuStock{},
		failGet:    map[string]error{},
		failWrite:  map[string]error{},
		failUpdate: map[string]error{},
		failReset:  map[string]error{},
	}
}

func (r *memRepo) addItem(id string, active bool) {
	r.items[id] = &domain.MenuItem{ID: id, OutletID: "O1", Name: "item " + id, IsActive: active}
}

func (r *memRepo) addLine(id string, rawStock, qty float64) {
	r.lines[id] = append(r.lines[id], domain.RecipeIngredient{
		Quantity:    qty,
		IsDefault:   true,
		RawMaterial: domain.RawMaterial{Stock: rawStock},
	})
}

func (r *memRepo) setManual(id string, manual *int) {
	r.stocks[id] = &domain.MenuStock{MenuItemID: id, ManualStock: manual}
}

func (r *memRepo) StreamMenuItems(_ context.Context, _ *gorm.DB, batchSize int, fn func([]domain.MenuItem) error) error {
	if r.streamErr != nil {
		return r.streamErr
	}
	r.mu.Lock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	for len(ids) > 0 {
		n := batchSize
		if n > len(ids) {
			n = len(ids)
		}
		batch := make([]domain.MenuItem, 0, n)
		for _, id := range ids[:n] {
			batch = append(batch, domain.MenuItem{ID: id})
		}
		if err := fn(batch); err != nil {
			return err
		}
		ids = ids[n:]
	}
	return nil
}

func (r *memRepo) GetMenuItem(_ context.Context, _ *gorm.DB, id string) (*domain.MenuItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failGet[id]; err != nil {
		return nil, err
	}
	it, ok := r.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (r *memRepo) DefaultIngredients(_ context.Context, _ *gorm.DB, id string) ([]domain.RecipeIngredient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines[id], nil
}

func (r *memRepo) UpdateMenuItemAvailability(_ context.Context, _ *gorm.DB, id string, active bool, stock int, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failUpdate[id]; err != nil {
		return err
	}
	it, ok := r.items[id]
	if !ok {
		return repo.ErrNotFound
	}
	it.IsActive = active
	it.AvailableStock = stock
	return nil
}

func (r *memRepo) GetStock(_ context.Context, _ *gorm.DB, id string) (*domain.MenuStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stocks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s
	if s.ManualStock != nil {
		m := *s.ManualStock
		cp.ManualStock = &m
	}
	return &cp, nil
}

func (r *memRepo) ResetNegativeManualStock(_ context.Context, _ *gorm.DB, id string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stocks[id]
	if !ok || s.ManualStock == nil || *s.ManualStock >= 0 {
		return false, nil
	}
	zero := 0
	s.ManualStock = &zero
	return true, nil
}

func (r *memRepo) WriteCurrentStock(_ context.Context, _ *gorm.DB, id string, calculated, current int, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failWrite[id]; err != nil {
		return err
	}
	if current < 0 {
		return fmt.Errorf("%w: current_stock %d", repo.ErrStockConflict, current)
	}
	s, ok := r.stocks[id]
	if !ok {
		s = &domain.MenuStock{MenuItemID: id}
		r.stocks[id] = s
	}
	s.CalculatedStock = calculated
	s.CurrentStock = current
	return nil
}

func (r *memRepo) ForceResetStock(_ context.Context, _ *gorm.DB, id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forced = append(r.forced, id)
	s, ok := r.stocks[id]
	if !ok {
		s = &domain.MenuStock{MenuItemID: id}
		r.stocks[id] = s
	}
	s.CurrentStock = 0
	if s.ManualStock != nil && *s.ManualStock < 0 {
		zero := 0
		s.ManualStock = &zero
	}
	return nil
}

func (r *memRepo) ListNegativeManualStocks(_ context.Context, _ *gorm.DB) ([]domain.MenuStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MenuStock
	for _, s := range r.stocks {
		if s.ManualStock != nil && *s.ManualStock < 0 {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MenuItemID < out[j].MenuItemID })
	return out, nil
}

func (r *memRepo) ResetNegativeManualStockWithParent(_ context.Context, _ *gorm.DB, id string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failReset[id]; err != nil {
		return false, err
	}
	s, ok := r.stocks[id]
	if !ok || s.ManualStock == nil || *s.ManualStock >= 0 {
		return false, nil
	}
	zero := 0
	s.ManualStock = &zero
	s.CurrentStock = s.CalculatedStock
	if it, ok := r.items[id]; ok {
		it.AvailableStock = s.CurrentStock
		it.IsActive = s.CurrentStock > 0
	}
	return true, nil
}

// memLocker hands out locks that are free in its table; held ids contend.
type memLocker struct {
	mu       sync.Mutex
	held     map[string]string
	acquired []string
	released []string
	extended []string
	optCount map[string]int
	seq      int
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]string{}, optCount: map[string]int{}}
}

func (l *memLocker) Acquire(_ context.Context, id string, _ time.Duration, opts ...lock.AcquireOption) (*lock.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.optCount[id] = len(opts)
	if _, busy := l.held[id]; busy {
		return nil, fmt.Errorf("%w: %s", lock.ErrLockTimeout, id)
	}
	l.seq++
	owner := fmt.Sprintf("owner-%d", l.seq)
	l.held[id] = owner
	l.acquired = append(l.acquired, id)
	return &lock.Lock{ID: id, Owner: owner}, nil
}

func (l *memLocker) Release(_ context.Context, id, owner string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] != owner {
		return false, nil
	}
	delete(l.held, id)
	l.released = append(l.released, id)
	return true, nil
}

func (l *memLocker) Extend(_ context.Context, id, owner string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] != owner {
		return false, nil
	}
	l.extended = append(l.extended, id)
	return true, nil
}

func (l *memLocker) hold(id string) {
	l.mu.Lock()
	l.held[id] = "someone-else"
	l.mu.Unlock()
}

func (l *memLocker) isHeld(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}

func newTestService(r *memRepo, l *memLocker) (*Service, *clock.Fake) {
	clk := clock.NewFake(t0)
	s := NewService(nil, r, l, clk, config.CalibrationConfig{
		BatchSize:  25,
		ItemDelay:  50 * time.Millisecond,
		BatchDelay: 500 * time.Millisecond,
	})
	return s, clk
}

func intPtr(v int) *int { return &v }
