package main

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/pkg"
)

// Relay forwards signaling messages between the members of named sessions.
type Relay struct {
	Auth AuthConfig

	upgrader websocket.Upgrader

	sessions      map[string]*Session
	sessionsMutex sync.RWMutex
}

func NewRelay(auth AuthConfig) *Relay {
	return &Relay{
		Auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: map[string]*Session{},
	}
}

func (r *Relay) Handler() http.Handler {
	handlerChain := promhttp.InstrumentHandlerDuration(metricHttpRequestDuration,
		promhttp.InstrumentHandlerCounter(metricHttpRequestsTotal,
			http.HandlerFunc(r.wsHandle),
		),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/favicon.ico", func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "Not found", http.StatusNotFound)
	})
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte("OK"))
	})
	mux.HandleFunc("/api/v1/sessions", r.Auth.Wrap(r.apiHandle))
	mux.Handle("/", handlerChain)

	return mux
}

func (r *Relay) wsHandle(w http.ResponseWriter, req *http.Request) {
	n := strings.Trim(req.URL.Path, "/")
	if n == "" {
		http.Error(w, "Missing session name", http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logrus.Errorf("Failed to upgrade: %s", err)
		return
	}

	c := NewConnection(conn, req)
	c.Relay = r

	r.sessionsMutex.Lock()
	defer r.sessionsMutex.Unlock()

	s, ok := r.sessions[n]
	if !ok {
		s = NewSession(n)
		r.sessions[n] = s
	}

	s.AddConnection(c)
	c.run()
}

// RemoveConnection removes c from its session and closes the session once
// it is empty.
func (r *Relay) RemoveConnection(c *Connection) {
	r.sessionsMutex.Lock()
	defer r.sessionsMutex.Unlock()

	s := c.Session
	if empty := s.RemoveConnection(c); !empty {
		return
	}

	if r.sessions[s.Name] == s {
		delete(r.sessions, s.Name)
	}

	if err := s.Close(); err != nil {
		logrus.Errorf("Failed to close session: %s", err)
	}
}

// Sessions returns a snapshot of all sessions ordered by name.
func (r *Relay) Sessions() []pkg.Session {
	r.sessionsMutex.RLock()
	defer r.sessionsMutex.RUnlock()

	ss := []pkg.Session{}
	for name, s := range r.sessions {
		ss = append(ss, pkg.Session{
			Name:        name,
			Created:     s.Created,
			Connections: s.Members(),
		})
	}

	sort.Slice(ss, func(i, j int) bool {
		return ss[i].Name < ss[j].Name
	})

	return ss
}

func (r *Relay) Close() error {
	r.sessionsMutex.Lock()
	defer r.sessionsMutex.Unlock()

	for n, s := range r.sessions {
		if err := s.Close(); err != nil {
			return err
		}
		delete(r.sessions, n)
	}

	return nil
}
