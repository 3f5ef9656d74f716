package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tbourn/pos-coordinator/internal/domain"
)

func TestStreamMenuItems_BatchesAndProjection(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 30; i++ {
		seedMenuItem(t, db, fmt.Sprintf("m%02d", i), i%2 == 0, i)
	}

	var sizes []int
	var seen []string
	err := StreamMenuItems(context.Background(), db, 25, func(batch []domain.MenuItem) error {
		sizes = append(sizes, len(batch))
		for _, m := range batch {
			if m.Category != "" || m.OutletID != "" {
				t.Fatalf("unprojected column loaded: %+v", m)
			}
			seen = append(seen, m.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("StreamMenuItems: %v", err)
	}
	if len(sizes) != 2 || sizes[0] != 25 || sizes[1] != 5 {
		t.Fatalf("batch sizes = %v, want [25 5]", sizes)
	}
	if len(seen) != 30 || seen[0] != "m00" || seen[29] != "m29" {
		t.Fatalf("unexpected order: first=%s last=%s n=%d", seen[0], seen[len(seen)-1], len(seen))
	}
}

func TestStreamMenuItems_CallbackErrorStops(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 6; i++ {
		seedMenuItem(t, db, fmt.Sprintf("m%d", i), true, 1)
	}
	boom := errors.New("boom")
	calls := 0
	err := StreamMenuItems(context.Background(), db, 2, func([]domain.MenuItem) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("callback ran %d times after error", calls)
	}
}

func TestDefaultIngredients_OnlyDefaultLines(t *testing.T) {
	db := newTestDB(t)
	seedMenuItem(t, db, "latte", true, 0)
	db.Create(&domain.RawMaterial{ID: "milk", Name: "Milk", Unit: "ml", Stock: 1000})
	db.Create(&domain.RawMaterial{ID: "syrup", Name: "Syrup", Unit: "ml", Stock: 0})
	db.Create(&domain.Recipe{ID: "r1", MenuItemID: "latte", Name: "Latte"})
	db.Create(&domain.RecipeIngredient{RecipeID: "r1", RawMaterialID: "milk", Quantity: 200, IsDefault: true})
	db.Create(&domain.RecipeIngredient{RecipeID: "r1", RawMaterialID: "syrup", Quantity: 10, IsDefault: false})

	lines, err := DefaultIngredients(context.Background(), db, "latte")
	if err != nil {
		t.Fatalf("DefaultIngredients: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("want 1 default line, got %d", len(lines))
	}
	if lines[0].RawMaterial.ID != "milk" || lines[0].RawMaterial.Stock != 1000 {
		t.Fatalf("raw material not preloaded: %+v", lines[0].RawMaterial)
	}

	none, err := DefaultIngredients(context.Background(), db, "no-recipe")
	if err != nil || len(none) != 0 {
		t.Fatalf("item without recipe: lines=%v err=%v", none, err)
	}
}

func TestGetMenuItemAndUpdateAvailability(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedMenuItem(t, db, "m1", false, 0)

	if err := UpdateMenuItemAvailability(ctx, db, "m1", true, 7, t0); err != nil {
		t.Fatalf("update: %v", err)
	}
	m, err := GetMenuItem(ctx, db, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !m.IsActive || m.AvailableStock != 7 {
		t.Fatalf("availability not written: %+v", m)
	}

	if err := UpdateMenuItemAvailability(ctx, db, "ghost", true, 1, t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := GetMenuItem(ctx, db, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
