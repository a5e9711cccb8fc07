package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/pkg"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10
)

type Connection struct {
	pkg.Connection
	*websocket.Conn

	Session *Session
	Relay   *Relay

	// Messages queues messages to be written to the peer. It is only
	// consumed by the write pump.
	Messages chan *pkg.SignalingMessage

	done      chan struct{}
	closeOnce sync.Once

	logger *logrus.Entry
}

func NewConnection(c *websocket.Conn, r *http.Request) *Connection {
	id := uuid.New()

	return &Connection{
		Connection: pkg.Connection{
			UUID:      id,
			Remote:    r.RemoteAddr,
			UserAgent: r.UserAgent(),
			Created:   time.Now(),
		},
		Conn:     c,
		Messages: make(chan *pkg.SignalingMessage, 100),
		done:     make(chan struct{}),
		logger:   logrus.WithField("conn", id.String()[:8]),
	}
}

func (c *Connection) String() string {
	return c.Conn.RemoteAddr().String()
}

// Send queues a message for the peer. Messages for closed connections are
// discarded.
func (c *Connection) Send(msg *pkg.SignalingMessage) {
	select {
	case c.Messages <- msg:
	case <-c.done:
		metricMessagesDropped.Inc()
	}
}

func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	return nil
}

func (c *Connection) run() {
	metricConnectionsCreated.Inc()
	metricActiveConnections.Inc()

	go c.read()
	go c.write()
}

func (c *Connection) read() {
	defer func() {
		c.Relay.RemoveConnection(c)
		c.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msg := &pkg.SignalingMessage{}

		if err := c.Conn.ReadJSON(msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Error("Failed to read")
			}
			return
		}

		if msg.Control != nil {
			c.logger.Warn("Ignoring control message from client")
			continue
		}

		c.logger.WithField("msg", msg).Debug("Read message")

		c.Session.Forward(SignalingMessage{
			SignalingMessage: msg,
			Sender:           c,
		})
	}
}

func (c *Connection) write() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		c.logger.Infof("Connection closing: %s", c)

		metricActiveConnections.Dec()

		ticker.Stop()
		c.Conn.Close()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.Messages:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.Conn.WriteJSON(msg); err != nil {
				c.logger.WithError(err).Error("Failed to send message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.WithError(err).Error("Failed to ping")
				return
			}

		case <-c.done:
			err := c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			if err != nil {
				c.logger.WithError(err).Debug("Failed to send close message")
			}
			return
		}
	}
}
