package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/internal/config"
	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
	"github.com/stv0g/pion-perfect-negotation/pkg/peer"
	"github.com/stv0g/pion-perfect-negotation/pkg/signaling"
)

// Instance is a single connection attempt to a remote member.
type Instance struct {
	*peer.PeerConnection

	Remote int

	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewInstance(ctx context.Context, cfg *config.Config, role negotiation.Role, remote int, sc *signaling.Client) (*Instance, error) {
	logger := logrus.WithFields(logrus.Fields{
		"remote": remote,
	})

	pc, err := peer.New(peer.Config{
		Role:    role,
		Channel: sc,
		Configuration: webrtc.Configuration{
			ICEServers: peer.ICEServers(cfg.TransportConfiguration()),
		},
		ChannelReady: true,
		AutoRestart:  cfg.AutoRestart,
		Debounce:     cfg.Debounce,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	i := &Instance{
		PeerConnection: pc,
		Remote:         remote,
		interval:       cfg.SendInterval,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	pc.OnDataChannel(i.OnDataChannelHandler)

	go func() {
		defer close(i.done)

		if err := pc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			pterm.Error.Printfln("Connection to peer %d failed: %s", remote, err)
		}
	}()

	dc, err := pc.CreateDataChannel("test", nil)
	if err != nil {
		i.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	dc.OnOpen(func() {
		pterm.Success.Printfln("Data channel %s opened", dc.Label())
		go i.sendLoop(ctx, dc)
	})

	return i, nil
}

func (i *Instance) OnDataChannelHandler(dc *webrtc.DataChannel) {
	pterm.Info.Printfln("Remote peer opened data channel %s", dc.Label())

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		pterm.Info.Printfln("Received: %s", msg.Data)
	})
}

func (i *Instance) sendLoop(ctx context.Context, dc *webrtc.DataChannel) {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		msg := fmt.Sprintf("Hello %d", n)

		if err := dc.SendText(msg); err != nil {
			logrus.Debugf("Stopped sending: %s", err)
			return
		}

		logrus.Debugf("Sent: %s", msg)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (i *Instance) Close() {
	i.cancel()
	<-i.done

	if err := i.PeerConnection.Close(); err != nil {
		logrus.Errorf("Failed to close peer connection: %s", err)
	}
}
