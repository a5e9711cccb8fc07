package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/pkg"
	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
)

const (
	writeWait    = 10 * time.Second
	closeTimeout = time.Second
)

var (
	ErrClientClosed = errors.New("signaling client closed")
	ErrNotConnected = errors.New("signaling client not connected")
)

// Compile-time interface check.
var _ negotiation.Channel = (*Client)(nil)

// Client connects to the relay over a websocket. The relay forwards
// messages in order, so no sequence numbers are added.
type Client struct {
	*websocket.Conn

	URL *url.URL

	writeMu sync.Mutex

	done      chan struct{}
	close     chan struct{}
	closeOnce sync.Once

	cbMu             sync.RWMutex
	messageCallbacks []func(negotiation.Message)
	controlCallbacks []func(*pkg.ControlMessage)
	lastControl      *pkg.ControlMessage
	logger           *logrus.Entry
}

func NewClient(u *url.URL) *Client {
	return &Client{
		URL:    u,
		done:   make(chan struct{}),
		close:  make(chan struct{}),
		logger: logrus.WithField("logger", "signaling"),
	}
}

// Connect dials the relay and starts reading. Register callbacks before
// calling it to not miss the first control message.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.URL, err)
	}

	c.Conn = conn

	go c.read()
	go c.run()

	return nil
}

func (c *Client) OnSignalingMessage(cb func(negotiation.Message)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.messageCallbacks = append(c.messageCallbacks, cb)
}

func (c *Client) OnControlMessage(cb func(*pkg.ControlMessage)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.controlCallbacks = append(c.controlCallbacks, cb)
}

// LastControl returns the most recent control message received from the
// relay, or nil.
func (c *Client) LastControl() *pkg.ControlMessage {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()

	return c.lastControl
}

func (c *Client) Send(ctx context.Context, m negotiation.Message) error {
	msg, err := pkg.NewSignalingMessage(m)
	if err != nil {
		return err
	}

	if c.Conn == nil {
		return ErrNotConnected
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.logger.WithField("msg", msg).Debug("Sending message")

	if err := c.Conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	return c.Conn.WriteJSON(msg)
}

// Close performs the websocket close handshake and waits for the relay
// to hang up.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.close)
	})

	if c.Conn == nil {
		return nil
	}

	<-c.done

	return c.Conn.Close()
}

// Done is closed once the read loop has terminated.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) read() {
	defer close(c.done)

	for {
		msg := &pkg.SignalingMessage{}

		if err := c.Conn.ReadJSON(msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Error("Failed to read")
			}
			return
		}

		c.logger.WithField("msg", msg).Debug("Received message")

		if msg.Control != nil {
			c.dispatchControl(msg.Control)
		}

		m, ok, err := msg.Negotiation()
		if err != nil {
			c.logger.WithError(err).Warn("Ignoring malformed message")
			continue
		} else if !ok {
			continue
		}

		c.cbMu.RLock()
		cbs := c.messageCallbacks
		c.cbMu.RUnlock()

		for _, cb := range cbs {
			cb(m)
		}
	}
}

func (c *Client) dispatchControl(ctrl *pkg.ControlMessage) {
	c.cbMu.Lock()
	c.lastControl = ctrl
	cbs := c.controlCallbacks
	c.cbMu.Unlock()

	for _, cb := range cbs {
		cb(ctrl)
	}
}

func (c *Client) run() {
	select {
	case <-c.done:
		return

	case <-c.close:
		c.logger.Info("Closing")

		// Cleanly close the connection by sending a close message and then
		// waiting (with timeout) for the server to close the connection.
		c.writeMu.Lock()
		err := c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		if err != nil {
			c.logger.WithError(err).Error("Failed to write close message")
			c.Conn.Close()
			return
		}

		select {
		case <-c.done:
		case <-time.After(closeTimeout):
			c.Conn.Close()
		}
	}
}
