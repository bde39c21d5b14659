// Package danmu implements C5, the danmaku client state machine: it
// opens a platform WebSocket, performs the enter-room handshake, and runs
// a heartbeat task alongside a receive task that decodes frames into
// chat events on the event bus (spec §4.5).
package danmu

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liverecorder/liverecorder/danmu/frame"
	"github.com/liverecorder/liverecorder/events"
	"github.com/liverecorder/liverecorder/logger"
	"github.com/liverecorder/liverecorder/metrics"
)

// State is one node of the spec §4.5 state machine.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateHandshake
	StateWaitingAck
	StateRunning
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshake:
		return "handshake"
	case StateWaitingAck:
		return "waiting_ack"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Conn is the narrow WebSocket surface the client drives, letting tests
// substitute a fake instead of dialing a real socket.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// The WebSocket op codes Conn.WriteMessage/ReadMessage use, matching
// gorilla/websocket's constants so the default Dialer needs no adapter.
const (
	BinaryMessage = 2
	CloseMessage  = 8
)

// Dialer opens a Conn to a platform's danmaku WebSocket endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// MessageParser routes one decoded JSON text to a uniform ChatEvent,
// the per-platform command-name dispatch spec §4.5 calls for. Platform
// adapters live in danmu/provider.
type MessageParser interface {
	Parse(raw string) (*events.ChatEvent, bool)
}

const (
	heartbeatOpCode = 2
	minHeartbeat    = 20 * time.Second
	maxHeartbeat    = 30 * time.Second
)

// Config configures one Client session (spec §4.5 "Resolve platform +
// room_id + credentials -> (ws_url, handshake_payload)" is the caller's
// responsibility via the platform.Provider; Config carries the result).
type Config struct {
	Platform string
	RoomID   string
	LiveID   int64

	WSURL          string
	HandshakeFrame []byte

	HeartbeatMin time.Duration
	HeartbeatMax time.Duration

	// FrameDecode unwraps one raw WebSocket message into the JSON texts
	// it carries. Defaults to frame.Decode (the 16-byte header framing);
	// platforms that speak the protobuf-enveloped framing instead supply
	// an adapter built on frame.DecodeFrame.
	FrameDecode func(data []byte) ([]string, error)

	Dialer Dialer
	Parser MessageParser
	Events *events.Bus
	Logger logger.Logger

	// TraceID ties the chat events this client publishes back to the
	// owning room session for log correlation; see events.Event.TraceID.
	TraceID string
}

// Client is C5: one danmaku session for one room. A Client is used for
// exactly one connection attempt; the owning Room Controller constructs
// a fresh Client for each restart (spec §4.7's "at most one restart"
// policy lives in the controller, not here).
type Client struct {
	cfg Config

	state   atomic.Int32
	stopped atomic.Bool
	conn    atomic.Pointer[connHolder]
}

type connHolder struct {
	conn Conn
}

// New builds a Client ready to Run once.
func New(cfg Config) *Client {
	if cfg.HeartbeatMin == 0 {
		cfg.HeartbeatMin = minHeartbeat
	}
	if cfg.HeartbeatMax == 0 {
		cfg.HeartbeatMax = maxHeartbeat
	}
	if cfg.FrameDecode == nil {
		cfg.FrameDecode = frame.Decode
	}
	c := &Client{cfg: cfg}
	c.state.Store(int32(StateIdle))
	return c
}

// State returns the client's current state-machine node.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// Stop closes the write half first so the peer's next read on its side
// returns EOF, then closes the connection outright; the receive task
// observes the close and Run returns (spec §4.5 cancellation semantics).
func (c *Client) Stop() {
	c.stopped.Store(true)
	if h := c.conn.Load(); h != nil {
		_ = h.conn.WriteMessage(CloseMessage, nil)
		_ = h.conn.Close()
	}
}

// Run executes exactly one pass of the state machine: dial, handshake,
// then run the heartbeat and receive tasks until either exits. It
// returns nil only on a clean Stop(); any other return is the error that
// ended the session, with State left at StateBackoff so the caller can
// decide whether to restart (spec §4.5, §4.7).
func (c *Client) Run(ctx context.Context) error {
	if c.stopped.Load() {
		c.setState(StateStopped)
		return nil
	}

	c.setState(StateConnecting)
	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.WSURL)
	if err != nil {
		c.setState(StateBackoff)
		return fmt.Errorf("danmu: dial: %w", err)
	}
	c.conn.Store(&connHolder{conn: conn})
	defer conn.Close()

	c.setState(StateHandshake)
	if err := conn.WriteMessage(BinaryMessage, c.cfg.HandshakeFrame); err != nil {
		c.setState(StateBackoff)
		return fmt.Errorf("danmu: send handshake: %w", err)
	}

	// No platform in scope replies with an explicit handshake ack frame
	// distinguishable from the first real message, so WaitingAck is a
	// momentary state rather than one that blocks on a specific frame.
	c.setState(StateWaitingAck)
	c.setState(StateRunning)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.heartbeatLoop(gctx, conn) })
	g.Go(func() error { return c.recvLoop(conn) })

	err = g.Wait()
	if c.stopped.Load() {
		c.setState(StateStopped)
		return nil
	}
	c.setState(StateBackoff)
	return err
}

func (c *Client) heartbeatLoop(ctx context.Context, conn Conn) error {
	for {
		interval := jitteredHeartbeat(c.cfg.HeartbeatMin, c.cfg.HeartbeatMax)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
		if err := conn.WriteMessage(BinaryMessage, frame.Encode("", heartbeatOpCode)); err != nil {
			return fmt.Errorf("danmu: heartbeat: %w", err)
		}
	}
}

func (c *Client) recvLoop(conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.stopped.Load() {
				return nil
			}
			return fmt.Errorf("danmu: recv: %w", err)
		}
		if len(data) == 0 {
			continue
		}

		msgs, err := c.cfg.FrameDecode(data)
		if err != nil {
			c.cfg.Logger.Debugf("danmu[%s/%s]: frame decode error: %v", c.cfg.Platform, c.cfg.RoomID, err)
			continue
		}

		for _, raw := range msgs {
			c.dispatch(raw)
		}
	}
}

func (c *Client) dispatch(raw string) {
	if c.cfg.Parser == nil || c.cfg.Events == nil {
		return
	}
	chat, ok := c.cfg.Parser.Parse(raw)
	if !ok {
		return
	}
	metrics.ChatEventsReceived.WithLabelValues(c.cfg.Platform).Inc()
	c.cfg.Logger.Debugf("danmu[%s/%s]: dispatch chat trace=%s", c.cfg.Platform, c.cfg.RoomID, c.cfg.TraceID)
	c.cfg.Events.Publish(events.Event{Kind: events.KindChat, TraceID: c.cfg.TraceID, Chat: chat})
}

func jitteredHeartbeat(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
