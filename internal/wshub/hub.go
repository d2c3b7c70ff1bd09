// Package wshub fans out job lifecycle and progress events to connected
// browser tabs over WebSocket, keyed by user.
//
// Grounded on tarsy's pkg/events.ConnectionManager (per-subject connection
// registry, snapshot-before-send fan-out, typed envelope dispatch),
// generalized from its channel-subscription model to this system's
// per-user connection-set model, and on coder/websocket — the connection
// library tarsy's manager actually imports, as opposed to the superseded
// gorilla/websocket scaffolding kept in a legacy handler file.
package wshub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// MaxConnectionsPerUser caps the number of simultaneous tabs/sockets a single
// user may hold open (spec §4.2).
const MaxConnectionsPerUser = 5

// ReadDeadline is the liveness window armed on every connection; it is reset
// each time a frame — including a client ping — is received.
const ReadDeadline = 90 * time.Second

// HeartbeatInterval is how often the hub proactively pushes a heartbeat
// frame to a connection, comfortably inside the 60s keep-alive window
// clients are expected to honor (spec §4.2).
const HeartbeatInterval = 30 * time.Second

// statusLivenessTimeout is the close code sent when a connection misses its
// ReadDeadline — distinct from a normal policy-violation close so clients
// can tell a dropped keep-alive apart from a rejected connection.
const statusLivenessTimeout websocket.StatusCode = 4000

// RecentTerminalLimit bounds how many terminal jobs the sync frame replays.
const RecentTerminalLimit = 10

// ErrConnLimitReached is returned by Register when a user's connection set
// is already at MaxConnectionsPerUser.
var ErrConnLimitReached = errConnLimit{}

type errConnLimit struct{}

func (errConnLimit) Error() string { return "connection limit reached for user" }

// ErrLivenessTimeout is returned by Serve when a connection goes ReadDeadline
// without a client frame (spec §4.2 keep-alive requirement).
var ErrLivenessTimeout = errLivenessTimeout{}

type errLivenessTimeout struct{}

func (errLivenessTimeout) Error() string { return "connection missed its keep-alive deadline" }

// Envelope is the typed frame every server->client message is wrapped in.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// JobSnapshot is the minimal job view the sync frame and job_* events carry;
// handlers/registry build these from models.Job without importing wshub.
type JobSnapshot struct {
	ID             string `json:"id"`
	JobType        string `json:"job_type"`
	Status         string `json:"status"`
	ProgressPct    int    `json:"progress_pct"`
	ProgressDetail string `json:"progress_detail"`
	ResultRef      string `json:"result_ref,omitempty"`
}

// CancelDelegate is invoked when a connection receives a client `cancel`
// frame; the registry implements it.
type CancelDelegate func(ctx context.Context, userID, jobID string) error

// SyncProvider supplies the active + recent-terminal job lists for a user on
// connect; the store-backed service implements it.
type SyncProvider func(ctx context.Context, userID string) (active, recent []JobSnapshot, err error)

// Conn is one registered WebSocket connection.
type Conn struct {
	userID string
	ws     *websocket.Conn
	mu     sync.Mutex // serializes writes; coder/websocket forbids concurrent writers
}

// Hub holds the per-user connection registry and fans out events.
type Hub struct {
	mu    sync.Mutex
	conns map[string]map[*Conn]struct{}

	cancel CancelDelegate
	sync   SyncProvider
}

// New constructs a Hub. cancel handles inbound `cancel` frames; sync supplies
// the initial snapshot sent right after accept.
func New(cancel CancelDelegate, sync SyncProvider) *Hub {
	return &Hub{
		conns:  make(map[string]map[*Conn]struct{}),
		cancel: cancel,
		sync:   sync,
	}
}

// Serve takes ownership of an already-accepted socket for userID and blocks
// until the connection closes (error, client disconnect, or deadline miss).
// The caller is expected to run this in its own goroutine per connection.
func (h *Hub) Serve(ctx context.Context, userID string, ws *websocket.Conn) error {
	conn := &Conn{userID: userID, ws: ws}

	if err := h.register(userID, conn); err != nil {
		ws.Close(websocket.StatusPolicyViolation, err.Error())
		return err
	}
	defer h.unregister(userID, conn)

	active, recent, err := h.sync(ctx, userID)
	if err != nil {
		slog.Error("wshub: sync lookup failed", "user_id", userID, "error", err)
		active, recent = nil, nil
	}
	if err := conn.send(ctx, Envelope{Type: "sync", Data: map[string]any{
		"active": active,
		"recent": recent,
	}}); err != nil {
		return err
	}

	// Reads happen on their own goroutine so the loop below can also drive a
	// periodic heartbeat push and an explicit liveness deadline independent
	// of client activity — wsjson.Read blocks and can't be select'd directly.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	frames := make(chan clientFrame)
	readErrs := make(chan error, 1)
	go func() {
		for {
			var frame clientFrame
			if err := wsjson.Read(readCtx, ws, &frame); err != nil {
				readErrs <- err
				return
			}
			select {
			case frames <- frame:
			case <-readCtx.Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()
	deadline := time.NewTimer(ReadDeadline)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErrs:
			return err
		case <-deadline.C:
			ws.Close(statusLivenessTimeout, "keep-alive missed")
			return ErrLivenessTimeout
		case <-heartbeat.C:
			if err := conn.send(ctx, Envelope{Type: "heartbeat"}); err != nil {
				return err
			}
		case frame := <-frames:
			if !deadline.Stop() {
				<-deadline.C
			}
			deadline.Reset(ReadDeadline)

			switch frame.Type {
			case "ping":
				if err := conn.send(ctx, Envelope{Type: "pong"}); err != nil {
					return err
				}
			case "cancel":
				if h.cancel != nil && frame.JobID != "" {
					if err := h.cancel(ctx, userID, frame.JobID); err != nil {
						slog.Warn("wshub: cancel delegate failed", "job_id", frame.JobID, "error", err)
					}
				}
			default:
				slog.Warn("wshub: unrecognized client frame", "type", frame.Type)
			}
		}
	}
}

type clientFrame struct {
	Type  string `json:"type"`
	JobID string `json:"job_id,omitempty"`
}

func (h *Hub) register(userID string, c *Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[userID] = set
	}
	if len(set) >= MaxConnectionsPerUser {
		return ErrConnLimitReached
	}
	set[c] = struct{}{}
	return nil
}

func (h *Hub) unregister(userID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, userID)
	}
}

// SendToUser pushes msg to every socket registered for userID. Delivery is
// best-effort: a connection that errors is dropped and closed without
// blocking delivery to its peers (spec §4.2).
func (h *Hub) SendToUser(ctx context.Context, userID string, msg Envelope) {
	h.mu.Lock()
	set := make([]*Conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		set = append(set, c)
	}
	h.mu.Unlock()

	for _, c := range set {
		if err := c.send(ctx, msg); err != nil {
			slog.Debug("wshub: dropping connection after send error", "user_id", userID, "error", err)
			c.ws.Close(websocket.StatusInternalError, "send failed")
			h.unregister(userID, c)
		}
	}
}

func (c *Conn) send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, c.ws, env)
}
