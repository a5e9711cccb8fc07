package main

import (
	"context"
	"sync"

	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/internal/config"
	"github.com/stv0g/pion-perfect-negotation/pkg"
	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
	"github.com/stv0g/pion-perfect-negotation/pkg/signaling"
)

// Client keeps one connection instance per remote session member. A new
// instance with fresh negotiation state replaces the old one whenever the
// remote member changes.
type Client struct {
	ctx    context.Context
	config *config.Config
	sc     *signaling.Client

	mu       sync.Mutex
	instance *Instance
}

func NewClient(ctx context.Context, cfg *config.Config, sc *signaling.Client) *Client {
	c := &Client{
		ctx:    ctx,
		config: cfg,
		sc:     sc,
	}

	// Both handlers run on the read loop of the signaling client, so an
	// instance exists before any message following its control message.
	sc.OnControlMessage(c.OnControlMessageHandler)
	sc.OnSignalingMessage(c.OnSignalingMessageHandler)

	return c
}

func (c *Client) OnControlMessageHandler(ctrl *pkg.ControlMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	members := ctrl.Members()
	remote, ok := remoteMember(ctrl.ConnectionID, members)

	if c.instance != nil && (!ok || c.instance.Remote != remote) {
		pterm.Warning.Printfln("Remote peer %d left", c.instance.Remote)
		c.instance.Close()
		c.instance = nil
	}

	if !ok {
		pterm.Info.Println("Waiting for a remote peer")
		return
	}

	if c.instance != nil {
		return
	}

	role, err := ctrl.Role()
	if err != nil {
		logrus.Errorf("Failed to determine role: %s", err)
		return
	}

	inst, err := NewInstance(c.ctx, c.config, role, remote, c.sc)
	if err != nil {
		logrus.Errorf("Failed to create connection instance: %s", err)
		return
	}

	pterm.Success.Printfln("Connecting to peer %d as %s peer", remote, role)

	c.instance = inst
}

func (c *Client) OnSignalingMessageHandler(msg negotiation.Message) {
	c.mu.Lock()
	inst := c.instance
	c.mu.Unlock()

	if inst == nil {
		logrus.Debugf("Dropping message without connection instance: %s", msg)
		return
	}

	inst.Deliver(msg)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.instance != nil {
		c.instance.Close()
		c.instance = nil
	}
}

// remoteMember picks the first other member. Sessions are meant for two
// peers; additional members are ignored.
func remoteMember(local int, members []int) (int, bool) {
	for _, id := range members {
		if id != local {
			return id, true
		}
	}
	return 0, false
}
