package main

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/pkg"
)

type Session struct {
	Name    string
	Created time.Time

	Messages chan SignalingMessage

	Connections      map[*Connection]interface{}
	ConnectionsMutex sync.RWMutex

	LastConnectionID int

	done   chan struct{}
	logger *logrus.Entry
}

func NewSession(name string) *Session {
	logrus.Infof("Session opened: %s", name)

	s := &Session{
		Name:        name,
		Created:     time.Now(),
		Connections: map[*Connection]interface{}{},
		Messages:    make(chan SignalingMessage, 100),
		done:        make(chan struct{}),
		logger:      logrus.WithField("session", name),
	}

	go s.run()

	metricSessionsCreated.Inc()
	metricActiveSessions.Inc()

	return s
}

// AddConnection assigns the next ID to c, which also decides its role,
// and informs all members about the new membership.
func (s *Session) AddConnection(c *Connection) {
	s.ConnectionsMutex.Lock()
	defer s.ConnectionsMutex.Unlock()

	c.ID = s.LastConnectionID
	c.Session = s
	s.LastConnectionID++

	s.Connections[c] = nil

	s.logger.WithField("id", c.ID).Infof("Connection joined: %s", c)

	s.sendControlMessages()
}

// RemoveConnection returns true if the session has no members left.
func (s *Session) RemoveConnection(c *Connection) bool {
	s.ConnectionsMutex.Lock()
	defer s.ConnectionsMutex.Unlock()

	if _, ok := s.Connections[c]; !ok {
		return len(s.Connections) == 0
	}

	delete(s.Connections, c)

	s.logger.WithField("id", c.ID).Infof("Connection left: %s", c)

	if len(s.Connections) > 0 {
		s.sendControlMessages()
	}

	return len(s.Connections) == 0
}

// Members returns the session members ordered by ID.
func (s *Session) Members() []pkg.Connection {
	s.ConnectionsMutex.RLock()
	defer s.ConnectionsMutex.RUnlock()

	return s.members()
}

func (s *Session) members() []pkg.Connection {
	conns := []pkg.Connection{}
	for c := range s.Connections {
		conns = append(conns, c.Connection)
	}

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ID < conns[j].ID
	})

	return conns
}

func (s *Session) sendControlMessages() {
	conns := s.members()

	for c := range s.Connections {
		cmsg := &pkg.SignalingMessage{
			Control: &pkg.ControlMessage{
				ConnectionID: c.ID,
				Connections:  conns,
			},
		}

		s.logger.Debugf("Send control message: %s", cmsg)

		c.Send(cmsg)
	}
}

// Forward hands a message to the session for delivery to all other
// members. Messages are delivered in the order they are forwarded.
func (s *Session) Forward(msg SignalingMessage) {
	select {
	case s.Messages <- msg:
	case <-s.done:
		metricMessagesDropped.Inc()
	}
}

func (s *Session) String() string {
	return s.Name
}

func (s *Session) run() {
	for {
		select {
		case msg := <-s.Messages:
			msg.CollectMetrics()

			s.ConnectionsMutex.RLock()
			for c := range s.Connections {
				if msg.Sender != c {
					c.Send(msg.SignalingMessage)
				}
			}
			s.ConnectionsMutex.RUnlock()

		case <-s.done:
			return
		}
	}
}

func (s *Session) Close() error {
	s.ConnectionsMutex.Lock()
	defer s.ConnectionsMutex.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}

	close(s.done)

	metricActiveSessions.Dec()

	for c := range s.Connections {
		if err := c.Close(); err != nil {
			return err
		}
	}

	logrus.Infof("Session closed: %s", s.Name)

	return nil
}
