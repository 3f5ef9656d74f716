// Package domain defines the persistence models of the coordination core:
// menu items with their stock records and recipes, raw materials, the
// distributed job lock row, and the device directory consulted when a
// printer or display registers. These types are mapped with GORM.
package domain

import (
	"time"
)

// MenuItem is a sellable product of an outlet. Calibration owns IsActive and
// AvailableStock; every other field is maintained by the back office.
type MenuItem struct {
	ID             string    `json:"id"              gorm:"type:varchar(64);primaryKey"`
	OutletID       string    `json:"outlet_id"       gorm:"type:varchar(64);not null;index:idx_menu_outlet"`
	Name           string    `json:"name"            gorm:"type:varchar(255);not null"`
	Category       string    `json:"category"        gorm:"type:varchar(64)"`
	Workstation    string    `json:"workstation"     gorm:"type:varchar(32)"`
	IsActive       bool      `json:"is_active"       gorm:"not null;default:false"`
	AvailableStock int       `json:"available_stock" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for MenuItem.
func (MenuItem) TableName() string { return "menu_items" }

// MenuStock is the stock record of one menu item.
//
// Fields:
//   - CalculatedStock: portions producible from default recipe ingredients.
//   - ManualStock: operator override; nil or zero means "not set". Negative
//     values are invalid and get reset to zero by calibration.
//   - CurrentStock: the value served to the till (manual when set, else calculated).
type MenuStock struct {
	MenuItemID       string     `json:"menu_item_id"       gorm:"type:varchar(64);primaryKey"`
	CalculatedStock  int        `json:"calculated_stock"   gorm:"not null;default:0"`
	ManualStock      *int       `json:"manual_stock"`
	CurrentStock     int        `json:"current_stock"      gorm:"not null;default:0;check:chk_menu_stocks_current,current_stock >= 0"`
	LastCalibratedAt *time.Time `json:"last_calibrated_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	MenuItem MenuItem `json:"-" gorm:"foreignKey:MenuItemID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MenuStock.
func (MenuStock) TableName() string { return "menu_stocks" }

// Recipe lists the raw materials consumed by one portion of a menu item.
type Recipe struct {
	ID          string             `json:"id"           gorm:"type:varchar(64);primaryKey"`
	MenuItemID  string             `json:"menu_item_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_recipe_menu_item"`
	Name        string             `json:"name"         gorm:"type:varchar(255)"`
	Ingredients []RecipeIngredient `json:"ingredients"  gorm:"foreignKey:RecipeID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// TableName returns the database table name for Recipe.
func (Recipe) TableName() string { return "recipes" }

// RecipeIngredient is one line of a recipe. Only IsDefault lines count
// towards producible portions; optional add-ons do not limit stock.
type RecipeIngredient struct {
	ID            uint    `json:"id"              gorm:"primaryKey;autoIncrement"`
	RecipeID      string  `json:"recipe_id"       gorm:"type:varchar(64);not null;index:idx_recipe_lines"`
	RawMaterialID string  `json:"raw_material_id" gorm:"type:varchar(64);not null;index"`
	Quantity      float64 `json:"quantity"        gorm:"not null"`
	Unit          string  `json:"unit"            gorm:"type:varchar(16)"`
	IsDefault     bool    `json:"is_default"      gorm:"not null"`

	RawMaterial RawMaterial `json:"raw_material" gorm:"foreignKey:RawMaterialID;references:ID"`
}

// TableName returns the database table name for RecipeIngredient.
func (RecipeIngredient) TableName() string { return "recipe_ingredients" }

// RawMaterial is an inventory item consumed by recipes.
type RawMaterial struct {
	ID        string    `json:"id"        gorm:"type:varchar(64);primaryKey"`
	OutletID  string    `json:"outlet_id" gorm:"type:varchar(64);index"`
	Name      string    `json:"name"      gorm:"type:varchar(255);not null"`
	Unit      string    `json:"unit"      gorm:"type:varchar(16)"`
	Stock     float64   `json:"stock"     gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for RawMaterial.
func (RawMaterial) TableName() string { return "raw_materials" }
