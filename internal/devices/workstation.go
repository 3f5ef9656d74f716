package devices

import (
	"strings"

	"github.com/tbourn/pos-coordinator/internal/sysutil"
)

// Workstation is the set of preparation stations a device serves. A device
// may serve both; a device serving neither is an "other" device (cashier
// tablet, expo screen) and receives whole orders.
type Workstation uint8

const (
	Bar Workstation = 1 << iota
	Kitchen

	// Other is the empty set.
	Other Workstation = 0
)

// Has reports whether w includes every station in x.
func (w Workstation) Has(x Workstation) bool { return x != 0 && w&x == x }

// Names returns the station names in a stable order.
func (w Workstation) Names() []string {
	var out []string
	if w.Has(Bar) {
		out = append(out, "bar")
	}
	if w.Has(Kitchen) {
		out = append(out, "kitchen")
	}
	return out
}

func (w Workstation) String() string {
	if w == Other {
		return "other"
	}
	return strings.Join(w.Names(), "+")
}

// ParseWorkstations folds an explicit station list into a Workstation.
// Unknown names are ignored.
func ParseWorkstations(names []string) Workstation {
	var w Workstation
	for _, n := range names {
		switch sysutil.Fold(n) {
		case "bar", "beverage", "minuman":
			w |= Bar
		case "kitchen", "dapur", "food":
			w |= Kitchen
		}
	}
	return w
}

// InferWorkstation derives stations from a free-form role label, for
// devices that do not announce an explicit list. "bar_printer" is Bar,
// "kitchen-senior" is Kitchen.
func InferWorkstation(role string) Workstation {
	var w Workstation
	if sysutil.ContainsFold(role, "bar") {
		w |= Bar
	}
	if sysutil.ContainsFold(role, "kitchen") {
		w |= Kitchen
	}
	return w
}

// ResolveWorkstation returns the explicit station list of d when it names
// any station, and otherwise infers one from the role.
func ResolveWorkstation(d DeviceData) Workstation {
	if w := ParseWorkstations(d.Workstations); w != Other {
		return w
	}
	return InferWorkstation(d.Role)
}
