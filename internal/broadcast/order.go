package broadcast

import (
	"time"

	"github.com/tbourn/pos-coordinator/internal/sysutil"
)

// Event names understood by printers and kitchen displays.
const (
	EventBeveragePrint = "beverage_immediate_print"
	EventKitchenPrint  = "kitchen_immediate_print"
)

// OrderItem is one line of an order as sent to a station.
type OrderItem struct {
	ID          string  `json:"id,omitempty"`
	MenuItemID  string  `json:"menuItemId,omitempty"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Workstation string  `json:"workstation,omitempty"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// OrderEvent is a newly created order to be routed to devices.
type OrderEvent struct {
	OrderID     string      `json:"orderId"`
	OutletID    string      `json:"outletId"     binding:"required"`
	TableNumber string      `json:"tableNumber"`
	OrderType   string      `json:"orderType"`
	Source      string      `json:"source"`
	Name        string      `json:"name"`
	Service     string      `json:"service"`
	Items       []OrderItem `json:"orderItems"`
}

// Payload is the message a device receives for an order.
type Payload struct {
	OrderID      string      `json:"orderId"`
	TableNumber  string      `json:"tableNumber"`
	OrderType    string      `json:"orderType"`
	Source       string      `json:"source"`
	Name         string      `json:"name"`
	Service      string      `json:"service"`
	OrderItems   []OrderItem `json:"orderItems"`
	DeviceID     string      `json:"deviceId"`
	TargetDevice string      `json:"targetDevice"`
	Timestamp    time.Time   `json:"timestamp"`
}

// IsBeverage reports whether an item is prepared at the bar: its category
// mentions beverage or minuman, or its workstation mentions bar.
func IsBeverage(it OrderItem) bool {
	return sysutil.ContainsFold(it.Category, "beverage") ||
		sysutil.ContainsFold(it.Category, "minuman") ||
		sysutil.ContainsFold(it.Workstation, "bar")
}

// PartitionItems splits items into bar and kitchen lines. Every item lands
// in exactly one of the two, in input order.
func PartitionItems(items []OrderItem) (beverage, kitchen []OrderItem) {
	for _, it := range items {
		if IsBeverage(it) {
			beverage = append(beverage, it)
		} else {
			kitchen = append(kitchen, it)
		}
	}
	return beverage, kitchen
}
