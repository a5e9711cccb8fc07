package signaling_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stv0g/pion-perfect-negotation/pkg"
	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
	"github.com/stv0g/pion-perfect-negotation/pkg/signaling"
)

// echoRelay greets every connection with a control message and then
// echoes all signaling messages back.
func echoRelay(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(&pkg.SignalingMessage{
			Control: &pkg.ControlMessage{
				ConnectionID: 1,
				Connections:  []pkg.Connection{{ID: 0}, {ID: 1}},
			},
		}); err != nil {
			return
		}

		for {
			var msg pkg.SignalingMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := conn.WriteJSON(&msg); err != nil {
				return
			}
		}
	}))
}

func TestClientRoundTrip(t *testing.T) {
	srv := echoRelay(t)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	u.Scheme = "ws"
	u.Path = "/test"

	c := signaling.NewClient(u)

	controls := make(chan *pkg.ControlMessage, 1)
	msgs := make(chan negotiation.Message, 4)

	c.OnControlMessage(func(ctrl *pkg.ControlMessage) { controls <- ctrl })
	c.OnSignalingMessage(func(m negotiation.Message) { msgs <- m })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	select {
	case ctrl := <-controls:
		role, err := ctrl.Role()
		if err != nil || role != negotiation.RolePolite {
			t.Errorf("Role = %s/%v, want polite", role, err)
		}
	case <-ctx.Done():
		t.Fatal("No control message received")
	}

	if c.LastControl() == nil {
		t.Error("LastControl is nil")
	}

	for _, m := range []negotiation.Message{
		{Generation: 1, Description: &negotiation.SessionDescription{Kind: negotiation.KindOffer, Payload: "v=0"}},
		{Generation: 1, Candidate: negotiation.EndOfCandidates()},
	} {
		if err := c.Send(ctx, m); err != nil {
			t.Fatalf("Failed to send: %v", err)
		}
	}

	select {
	case m := <-msgs:
		if m.Description == nil || m.Description.Kind != negotiation.KindOffer || m.Generation != 1 {
			t.Errorf("Received %v, want the offer", m)
		}
	case <-ctx.Done():
		t.Fatal("Offer not echoed")
	}

	select {
	case m := <-msgs:
		if m.Candidate == nil || !m.Candidate.EndOfCandidates || m.Candidate.Generation != 1 {
			t.Errorf("Received %v, want end of candidates", m)
		}
	case <-ctx.Done():
		t.Fatal("Candidate not echoed")
	}

	c.Close()

	select {
	case <-c.Done():
	default:
		t.Error("Read loop still running after Close")
	}

	if err := c.Send(ctx, negotiation.Message{Candidate: negotiation.EndOfCandidates()}); err == nil {
		t.Error("Send after Close succeeded")
	}
}

func TestClientConnectFails(t *testing.T) {
	u := &url.URL{Scheme: "ws", Host: "127.0.0.1:1", Path: "/test"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := signaling.NewClient(u).Connect(ctx); err == nil {
		t.Error("Connect to closed port succeeded")
	}
}
