// Package ws is the device transport: printers, kitchen displays and tablets
// hold a websocket open to the hub, announce themselves with a register
// frame, and from then on receive order tickets pushed by the broadcast
// router through Hub.Emit.
//
// Protocol:
//
//	device -> hub  {"type":"register","data":{"deviceId":"...","outletId":"...",...}}
//	hub -> device  {"event":"registered","data":{"connectionId":"...",...}}
//	hub -> device  {"event":"beverage_immediate_print","data":{...}}
//
// Each connection has a bounded send queue drained by its own writer
// goroutine. Emit never blocks: a full queue is reported as an error and the
// message is dropped for that device only.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/pos-coordinator/internal/devices"
	"github.com/tbourn/pos-coordinator/internal/domain"
	"github.com/tbourn/pos-coordinator/internal/sysutil"
)

// EventRegistered acknowledges a successful register frame.
const EventRegistered = "registered"

var (
	// ErrUnknownConnection is returned by Emit for a connection that is not open.
	ErrUnknownConnection = errors.New("ws: unknown connection")
	// ErrSendQueueFull is returned by Emit when the device is not keeping up.
	ErrSendQueueFull = errors.New("ws: send queue full")
)

// Sessions is the registry side of a connection's lifecycle.
type Sessions interface {
	Register(connID string, d devices.DeviceData) devices.Session
	Unregister(connID string)
}

// Directory looks up the stored defaults of a device.
type Directory interface {
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
}

// Options tunes the hub.
type Options struct {
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
	DirectoryTTL     time.Duration
	CheckOrigin      func(r *http.Request) bool
}

// Message is one frame sent to a device.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once
}

func (c *conn) shut() { c.once.Do(func() { close(c.done) }) }

// Hub owns every open device connection.
type Hub struct {
	sessions  Sessions
	directory Directory
	dirCache  *cache.Cache
	opts      Options
	upgrader  websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*conn
	closed bool
}

// NewHub constructs a Hub. directory may be nil.
func NewHub(s Sessions, dir Directory, opts Options) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	check := opts.CheckOrigin
	if check == nil {
		// Devices are not browsers; they send no Origin worth checking.
		check = func(*http.Request) bool { return true }
	}
	h := &Hub{
		sessions:  s,
		directory: dir,
		opts:      opts,
		conns:     make(map[string]*conn),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			CheckOrigin:      check,
		},
	}
	if opts.DirectoryTTL > 0 {
		h.dirCache = cache.New(opts.DirectoryTTL, 2*opts.DirectoryTTL)
	}
	return h
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered with an HTTP error.
		log.Debug().Err(err).Str("component", "ws").Msg("upgrade failed")
		return
	}
	h.serve(r.Context(), wsConn)
}

func (h *Hub) serve(ctx context.Context, wsConn *websocket.Conn) {
	defer wsConn.Close()
	lg := log.With().Str("component", "ws").Str("remote", wsConn.RemoteAddr().String()).Logger()

	d, err := h.handshake(wsConn)
	if err != nil {
		lg.Info().Err(err).Msg("handshake rejected")
		_ = wsConn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		_ = wsConn.WriteJSON(Message{Event: "error", Data: map[string]string{"message": err.Error()}})
		_ = wsConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "register required"),
			time.Now().Add(h.opts.WriteTimeout))
		return
	}
	d = h.enrich(ctx, d)
	if strings.TrimSpace(d.OutletID) == "" {
		lg.Info().Str("device_id", d.DeviceID).Msg("handshake rejected: no outlet")
		_ = wsConn.WriteJSON(Message{Event: "error", Data: map[string]string{"message": "outletId is required"}})
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   wsConn,
		send: make(chan Message, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	if !h.add(c) {
		return
	}
	c.send <- Message{Event: EventRegistered, Data: map[string]any{
		"connectionId": c.id,
		"deviceId":     d.DeviceID,
		"outletId":     d.OutletID,
		"workstation":  devices.ResolveWorkstation(d).String(),
	}}
	h.sessions.Register(c.id, d)

	go h.writePump(c)
	h.readPump(c)

	h.sessions.Unregister(c.id)
	h.remove(c)
}

// handshake reads the first frame, which must be a register frame.
func (h *Hub) handshake(wsConn *websocket.Conn) (devices.DeviceData, error) {
	var d devices.DeviceData
	_ = wsConn.SetReadDeadline(time.Now().Add(h.opts.HandshakeTimeout))
	var in inbound
	if err := wsConn.ReadJSON(&in); err != nil {
		return d, err
	}
	if in.Type != "register" {
		return d, errors.New("first frame must be a register frame")
	}
	if err := json.Unmarshal(in.Data, &d); err != nil {
		return d, err
	}
	if strings.TrimSpace(d.DeviceID) == "" {
		return d, errors.New("deviceId is required")
	}
	return d, nil
}

// enrich fills whatever the device left out from its directory entry.
func (h *Hub) enrich(ctx context.Context, d devices.DeviceData) devices.DeviceData {
	entry := h.lookup(ctx, d.DeviceID)
	if entry == nil {
		return d
	}
	d.OutletID = sysutil.FirstNonEmpty(d.OutletID, entry.OutletID)
	d.Role = sysutil.FirstNonEmpty(d.Role, entry.Role)
	d.Location = sysutil.FirstNonEmpty(d.Location, entry.Location)
	d.DeviceName = sysutil.FirstNonEmpty(d.DeviceName, entry.DeviceName)
	if len(d.AssignedAreas) == 0 {
		d.AssignedAreas = entry.AssignedAreas
	}
	if len(d.AssignedTables) == 0 {
		d.AssignedTables = entry.AssignedTables
	}
	if len(d.OrderTypes) == 0 {
		d.OrderTypes = entry.OrderTypes
	}
	if len(d.Workstations) == 0 {
		d.Workstations = entry.Workstations
	}
	return d
}

func (h *Hub) lookup(ctx context.Context, deviceID string) *domain.Device {
	if h.directory == nil {
		return nil
	}
	key := "device:" + deviceID
	if h.dirCache != nil {
		if v, ok := h.dirCache.Get(key); ok {
			dev, _ := v.(*domain.Device)
			return dev
		}
	}
	dev, err := h.directory.GetDevice(ctx, deviceID)
	if err != nil {
		// Unknown devices are cached as nil as well.
		dev = nil
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Err(err).Str("component", "ws").Str("device_id", deviceID).Msg("device directory lookup failed")
			return nil
		}
	}
	if h.dirCache != nil {
		h.dirCache.Set(key, dev, cache.DefaultExpiration)
	}
	return dev
}

func (h *Hub) readPump(c *conn) {
	c.ws.SetReadLimit(64 << 10)
	deadline := 2 * h.opts.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("component", "ws").Str("connection_id", c.id).Msg("read failed")
			}
			return
		}
		// Devices only listen; anything they send keeps the connection alive.
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case m := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.ws.WriteJSON(m); err != nil {
				log.Debug().Err(err).Str("component", "ws").Str("connection_id", c.id).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(h.opts.WriteTimeout))
			return
		}
	}
}

// Emit queues a message for connID without blocking.
func (h *Hub) Emit(connID, event string, payload any) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	select {
	case <-c.done:
		return ErrUnknownConnection
	default:
	}
	select {
	case c.send <- Message{Event: event, Data: payload}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close tells every connection to go away and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.conns {
		c.shut()
	}
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	return true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	c.shut()
}
