package domain

import "time"

// Device is the directory entry of a printer, kitchen display, or tablet.
// It is read once when a device connects and fills in whatever the device
// did not announce in its handshake.
type Device struct {
	DeviceID       string    `json:"device_id"       gorm:"type:varchar(64);primaryKey"`
	OutletID       string    `json:"outlet_id"       gorm:"type:varchar(64);not null;index:idx_devices_outlet"`
	Role           string    `json:"role"            gorm:"type:varchar(64)"`
	Location       string    `json:"location"        gorm:"type:varchar(64)"`
	DeviceName     string    `json:"device_name"     gorm:"type:varchar(128)"`
	AssignedAreas  []string  `json:"assigned_areas"  gorm:"type:text;serializer:json"`
	AssignedTables []string  `json:"assigned_tables" gorm:"type:text;serializer:json"`
	OrderTypes     []string  `json:"order_types"     gorm:"type:text;serializer:json"`
	Workstations   []string  `json:"workstations"    gorm:"type:text;serializer:json"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Device.
func (Device) TableName() string { return "devices" }
