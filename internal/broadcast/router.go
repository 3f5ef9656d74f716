// Package broadcast routes order events to the devices of an outlet.
//
// Beverage lines go to bar devices, everything else to kitchen devices, and
// devices serving neither station get the whole order. When an order has
// work for both stations and both kinds of device are connected, bar tickets
// are sent first and the kitchen tickets follow after a fixed delay, so the
// drinks print ahead of the food. Emission is best effort per device and a
// broadcast never fails the caller: problems come back in the Summary.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/pos-coordinator/internal/clock"
	"github.com/tbourn/pos-coordinator/internal/devices"
)

// DefaultKitchenDelay holds kitchen tickets back behind bar tickets.
const DefaultKitchenDelay = 800 * time.Millisecond

// ErrMissingOutlet is reported for an order event without an outlet.
var ErrMissingOutlet = errors.New("order event has no outlet")

var (
	emitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_broadcast_emits_total",
			Help: "Messages handed to the device transport.",
		},
		[]string{"event", "outcome"}, // outcome: ok|error
	)
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_broadcast_orders_total",
			Help: "Order broadcasts by outcome.",
		},
		[]string{"outcome"}, // ok|failed
	)
	deferredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_broadcast_deferred_total",
		Help: "Kitchen emissions deferred behind bar tickets.",
	})
)

func init() {
	prometheus.MustRegister(emitsTotal, ordersTotal, deferredTotal)
}

// Emitter delivers one message to one connection. It must not block.
type Emitter interface {
	Emit(connID, event string, payload any) error
}

// DeviceSource answers which devices are connected.
type DeviceSource interface {
	ListByOutlet(outletID string) []devices.Session
	ListByRole(role, outletID string) []devices.Session
}

// Summary describes what BroadcastOrder did synchronously. Kitchen devices
// served by a deferred emission are not part of DevicesNotified.
type Summary struct {
	Success         bool   `json:"success"`
	OrderID         string `json:"orderId,omitempty"`
	DevicesNotified int    `json:"devicesNotified"`
	BarDevices      int    `json:"barDevices"`
	KitchenDevices  int    `json:"kitchenDevices"`
	OtherDevices    int    `json:"otherDevices"`
	BeverageItems   int    `json:"beverageItems"`
	KitchenItems    int    `json:"kitchenItems"`
	KitchenDeferred bool   `json:"kitchenDeferred"`
	EmitFailures    int    `json:"emitFailures"`
	Error           string `json:"error,omitempty"`
}

// Router fans order events out to devices.
type Router struct {
	Devices      DeviceSource
	Emitter      Emitter
	Clock        clock.Clock
	KitchenDelay time.Duration
}

// NewRouter constructs a Router. A negative delay means DefaultKitchenDelay.
func NewRouter(src DeviceSource, em Emitter, clk clock.Clock, kitchenDelay time.Duration) *Router {
	if clk == nil {
		clk = clock.New()
	}
	if kitchenDelay < 0 {
		kitchenDelay = DefaultKitchenDelay
	}
	return &Router{Devices: src, Emitter: em, Clock: clk, KitchenDelay: kitchenDelay}
}

// BroadcastOrder routes ev to the devices of its outlet.
func (r *Router) BroadcastOrder(ctx context.Context, ev OrderEvent) (sum Summary) {
	_, span := otel.Tracer("broadcast/Router").Start(ctx, "BroadcastOrder",
		trace.WithAttributes(
			attribute.String("order.id", ev.OrderID),
			attribute.String("outlet.id", ev.OutletID),
			attribute.Int("order.items", len(ev.Items)),
		),
	)
	defer span.End()

	lg := log.With().Str("component", "broadcast").Str("order_id", ev.OrderID).Str("outlet_id", ev.OutletID).Logger()

	defer func() {
		if p := recover(); p != nil {
			lg.Error().Interface("panic", p).Msg("order broadcast panicked")
			sum = Summary{OrderID: ev.OrderID, Error: fmt.Sprint(p)}
		}
		if sum.Success {
			ordersTotal.WithLabelValues("ok").Inc()
		} else {
			ordersTotal.WithLabelValues("failed").Inc()
			span.SetAttributes(attribute.String("broadcast.error", sum.Error))
		}
	}()

	if ev.OutletID == "" {
		return Summary{OrderID: ev.OrderID, Error: ErrMissingOutlet.Error()}
	}

	bev, kit := PartitionItems(ev.Items)
	bars, kitchens, others := bucket(r.Devices.ListByOutlet(ev.OutletID))

	sum = Summary{
		Success:        true,
		OrderID:        ev.OrderID,
		BarDevices:     len(bars),
		KitchenDevices: len(kitchens),
		OtherDevices:   len(others),
		BeverageItems:  len(bev),
		KitchenItems:   len(kit),
	}
	notified := map[string]struct{}{}
	send := func(s devices.Session, event string, items []OrderItem) {
		if err := r.emit(s, event, r.payload(ev, s, items)); err != nil {
			sum.EmitFailures++
			lg.Warn().Err(err).Str("connection_id", s.ConnectionID).Str("event", event).Msg("emit failed")
			return
		}
		notified[s.ConnectionID] = struct{}{}
	}

	// Bar first.
	if len(bev) > 0 {
		for _, s := range bars {
			if !s.AcceptsTable(ev.TableNumber) || !s.AcceptsOrderType(ev.OrderType) {
				continue
			}
			send(s, EventBeveragePrint, bev)
		}
	}

	if len(kit) > 0 && len(kitchens) > 0 {
		if len(bars) > 0 && len(bev) > 0 {
			sum.KitchenDeferred = true
			deferredTotal.Inc()
			r.Clock.AfterFunc(r.KitchenDelay, func() { r.emitKitchenLater(ev, kit) })
		} else {
			for _, s := range kitchens {
				if s.AcceptsOrderType(ev.OrderType) {
					send(s, EventKitchenPrint, kit)
				}
			}
		}
	}

	// Other devices always get the whole order, with no table filter.
	for _, s := range others {
		send(s, EventKitchenPrint, ev.Items)
	}

	sum.DevicesNotified = len(notified)
	lg.Info().
		Int("devices_notified", sum.DevicesNotified).
		Int("beverage_items", len(bev)).
		Int("kitchen_items", len(kit)).
		Bool("kitchen_deferred", sum.KitchenDeferred).
		Msg("order broadcast")
	return sum
}

// emitKitchenLater runs on the timer. Devices are resolved again so that a
// kitchen display that left in the meantime is simply skipped.
func (r *Router) emitKitchenLater(ev OrderEvent, items []OrderItem) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("component", "broadcast").Str("order_id", ev.OrderID).
				Interface("panic", p).Msg("deferred kitchen broadcast panicked")
		}
	}()
	_, kitchens, _ := bucket(r.Devices.ListByOutlet(ev.OutletID))
	for _, s := range kitchens {
		if !s.AcceptsOrderType(ev.OrderType) {
			continue
		}
		if err := r.emit(s, EventKitchenPrint, r.payload(ev, s, items)); err != nil {
			log.Warn().Err(err).Str("component", "broadcast").Str("order_id", ev.OrderID).
				Str("connection_id", s.ConnectionID).Msg("deferred emit failed")
		}
	}
}

// WorkstationMessage wraps arbitrary data sent to every device of a role.
type WorkstationMessage struct {
	DeviceID     string    `json:"deviceId"`
	TargetDevice string    `json:"targetDevice"`
	Timestamp    time.Time `json:"timestamp"`
	Data         any       `json:"data"`
}

// BroadcastToWorkstation sends event to every device whose role contains
// role, narrowed to outletID when given. It returns how many devices took
// the message.
func (r *Router) BroadcastToWorkstation(ctx context.Context, role, outletID, event string, data any) int {
	_, span := otel.Tracer("broadcast/Router").Start(ctx, "BroadcastToWorkstation",
		trace.WithAttributes(
			attribute.String("device.role", role),
			attribute.String("outlet.id", outletID),
			attribute.String("event", event),
		),
	)
	defer span.End()

	n := 0
	for _, s := range r.Devices.ListByRole(role, outletID) {
		msg := WorkstationMessage{DeviceID: s.DeviceID, TargetDevice: s.DeviceName, Timestamp: r.Clock.Now(), Data: data}
		if err := r.emit(s, event, msg); err != nil {
			log.Warn().Err(err).Str("component", "broadcast").Str("connection_id", s.ConnectionID).
				Str("event", event).Msg("emit failed")
			continue
		}
		n++
	}
	return n
}

func (r *Router) emit(s devices.Session, event string, payload any) error {
	err := r.Emitter.Emit(s.ConnectionID, event, payload)
	if err != nil {
		emitsTotal.WithLabelValues(event, "error").Inc()
		return err
	}
	emitsTotal.WithLabelValues(event, "ok").Inc()
	return nil
}

func (r *Router) payload(ev OrderEvent, s devices.Session, items []OrderItem) Payload {
	if items == nil {
		items = []OrderItem{}
	}
	return Payload{
		OrderID:      ev.OrderID,
		TableNumber:  ev.TableNumber,
		OrderType:    ev.OrderType,
		Source:       ev.Source,
		Name:         ev.Name,
		Service:      ev.Service,
		OrderItems:   items,
		DeviceID:     s.DeviceID,
		TargetDevice: s.DeviceName,
		Timestamp:    r.Clock.Now(),
	}
}

// bucket splits sessions by station. A device serving both stations is in
// both buckets.
func bucket(ss []devices.Session) (bars, kitchens, others []devices.Session) {
	for _, s := range ss {
		switch {
		case s.Workstation == devices.Other:
			others = append(others, s)
		default:
			if s.Workstation.Has(devices.Bar) {
				bars = append(bars, s)
			}
			if s.Workstation.Has(devices.Kitchen) {
				kitchens = append(kitchens, s)
			}
		}
	}
	return bars, kitchens, others
}
