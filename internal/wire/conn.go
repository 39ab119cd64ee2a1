package wire

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB per frame (§5 framing bound)
)

// Conn wraps a *websocket.Conn with the framing, ping/pong liveness, and
// bounded outbound queue shared by both the Comet<->Agent and
// Console<->Comet legs of the link (§5, §4.B backpressure).
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	outbound chan *Frame
	dropped  chan int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps ws and starts its write pump. queueDepth bounds the
// outbound channel; when full, WriteFrame drops the frame being written and
// returns an error, counting the drop for Dropped() rather than blocking the
// caller, the same
// non-blocking-backpressure posture the teacher's executor client uses for
// redirects/timeouts (bounded, never silent-hang).
func NewConn(ws *websocket.Conn, queueDepth int) *Conn {
	ws.SetReadLimit(maxMessageSize)
	c := &Conn{
		ws:       ws,
		outbound: make(chan *Frame, queueDepth),
		dropped:  make(chan int, 1),
		closed:   make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Dropped reports, non-blocking, how many frames have been dropped from the
// outbound queue since the last read — used by Comet to synthesize a
// LaggingPayload frame.
func (c *Conn) Dropped() int {
	select {
	case n := <-c.dropped:
		return n
	default:
		return 0
	}
}

func (c *Conn) writePump() {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case f, ok := <-c.outbound:
			if !ok {
				return
			}
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteJSON(f)
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		case <-pingTicker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		}
	}
}

// WriteFrame enqueues f for send. If the outbound queue is full the frame
// is dropped and the drop is recorded for Dropped() rather than blocking —
// a slow reader must never stall every other link on the same Comet.
func (c *Conn) WriteFrame(f *Frame) error {
	select {
	case <-c.closed:
		return fmt.Errorf("wire: conn closed")
	default:
	}
	select {
	case c.outbound <- f:
		return nil
	default:
		select {
		case n := <-c.dropped:
			c.dropped <- n + 1
		default:
			c.dropped <- 1
		}
		return fmt.Errorf("wire: outbound queue full, frame dropped")
	}
}

// ReadFrame blocks for the next frame, honoring ctx cancellation by racing
// a goroutine against the blocking gorilla read (gorilla/websocket has no
// context-aware read API).
func (c *Conn) ReadFrame(ctx context.Context) (*Frame, error) {
	type result struct {
		f   *Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.ws.SetPongHandler(func(string) error {
			c.ws.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		var f Frame
		err := c.ws.ReadJSON(&f)
		ch <- result{&f, err}
	}()

	select {
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("wire: read frame: %w", r.err)
		}
		return r.f, nil
	}
}

// Close is idempotent and safe to call from any goroutine.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.outbound)
	})
	return c.ws.Close()
}
