package calibration

import (
	"math"

	"github.com/tbourn/pos-coordinator/internal/domain"
)

// YieldCalculator turns the default recipe lines of a menu item into the
// number of portions the current raw material stock can produce.
type YieldCalculator interface {
	Portions(lines []domain.RecipeIngredient) int
}

// RecipeYield is the stock-limited yield: the smallest whole number of
// portions over all default lines. Lines with no positive quantity do not
// limit anything; an item without such lines yields zero.
type RecipeYield struct{}

// Portions implements YieldCalculator.
func (RecipeYield) Portions(lines []domain.RecipeIngredient) int {
	best := -1
	for _, ln := range lines {
		if !ln.IsDefault || ln.Quantity <= 0 {
			continue
		}
		stock := ln.RawMaterial.Stock
		if stock < 0 {
			stock = 0
		}
		n := int(math.Floor(stock/ln.Quantity + 1e-9))
		if best < 0 || n < best {
			best = n
		}
	}
	if best < 0 {
		return 0
	}
	return best
}
