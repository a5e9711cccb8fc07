// Package peer binds a pion peer connection to a negotiation coordinator.
package peer

import (
	"context"
	"time"

	"github.com/bep/debounce"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
)

var metricConnectionStates = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "peer_connection_state_changes",
		Help: "The total number of peer connection state changes",
	},
	[]string{"state"},
)

type Config struct {
	Role    negotiation.Role
	Channel negotiation.Channel

	Configuration webrtc.Configuration

	// ChannelReady tells whether the signaling channel can reach the
	// remote peer right away.
	ChannelReady bool

	// AutoRestart performs an ICE restart with the current ICE servers
	// when the connection fails.
	AutoRestart bool

	// Debounce coalesces bursts of negotiationneeded events.
	Debounce time.Duration

	Logger *logrus.Entry
}

// PeerConnection is a pion peer connection whose negotiation is handled by
// a coordinator. A new one must be created for every connection attempt.
type PeerConnection struct {
	*webrtc.PeerConnection

	Coordinator *negotiation.Coordinator

	engine   *Engine
	debounce func(func())
	logger   *logrus.Entry
}

func New(cfg Config) (ppc *PeerConnection, err error) {
	defer err2.Handle(&err)

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.WithField("logger", "peer")
	}

	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(logger.WithField("logger", "pion")),
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	pc := try.To1(api.NewPeerConnection(cfg.Configuration))

	ppc = &PeerConnection{
		PeerConnection: pc,
		engine:         NewEngine(pc, logger),
		logger:         logger,
	}

	if cfg.Debounce > 0 {
		ppc.debounce = debounce.New(cfg.Debounce)
	}

	opts := []negotiation.Option{
		negotiation.WithLogger(logger),
		negotiation.WithChannelReady(cfg.ChannelReady),
	}

	if cfg.AutoRestart {
		opts = append(opts, negotiation.WithRestartConfiguration(ppc.transportConfiguration))
	}

	ppc.Coordinator = negotiation.New(cfg.Role, ppc.engine, cfg.Channel, opts...)

	pc.OnICEConnectionStateChange(ppc.OnICEConnectionStateChangeHandler)
	pc.OnConnectionStateChange(ppc.OnConnectionStateChangeHandler)
	pc.OnSignalingStateChange(ppc.OnSignalingStateChangeHandler)
	pc.OnICECandidate(ppc.OnICECandidateHandler)
	pc.OnNegotiationNeeded(ppc.OnNegotiationNeededHandler)

	return ppc, nil
}

// Run handles negotiation until ctx is cancelled or the connection is closed.
func (pc *PeerConnection) Run(ctx context.Context) error {
	return pc.Coordinator.Run(ctx)
}

// Deliver passes a message received over the signaling channel on.
func (pc *PeerConnection) Deliver(msg negotiation.Message) <-chan negotiation.Result {
	return pc.Coordinator.Deliver(msg)
}

// Restart renegotiates with new ICE servers.
func (pc *PeerConnection) Restart(servers []negotiation.ICEServer) <-chan negotiation.Result {
	return pc.Coordinator.Restart(negotiation.TransportConfiguration{
		ICEServers: servers,
	})
}

func (pc *PeerConnection) Close() error {
	pc.Coordinator.Close()
	return pc.PeerConnection.Close()
}

func (pc *PeerConnection) transportConfiguration() negotiation.TransportConfiguration {
	cfg := negotiation.TransportConfiguration{}

	for _, s := range pc.GetConfiguration().ICEServers {
		server := negotiation.ICEServer{
			URLs:     s.URLs,
			Username: s.Username,
		}
		if cred, ok := s.Credential.(string); ok {
			server.Credential = cred
		}
		cfg.ICEServers = append(cfg.ICEServers, server)
	}

	return cfg
}

func (pc *PeerConnection) OnICECandidateHandler(c *webrtc.ICECandidate) {
	if c == nil {
		pc.logger.Info("Candidate gathering concluded")

		// pion signals completion with nil only. The remote peer still
		// expects the end-of-candidates marker.
		pc.Coordinator.LocalCandidate(negotiation.EndOfCandidates())
		pc.Coordinator.LocalCandidate(nil)
		return
	}

	pc.logger.Debugf("Found new candidate: %s", c)

	candidate, err := EncodeCandidate(c)
	if err != nil {
		pc.logger.WithError(err).Error("Failed to encode candidate")
		return
	}

	pc.Coordinator.LocalCandidate(candidate)
}

func (pc *PeerConnection) OnNegotiationNeededHandler() {
	pc.logger.Info("Negotiation needed")

	if pc.debounce != nil {
		pc.debounce(func() { pc.Coordinator.NegotiationNeeded() })
	} else {
		pc.Coordinator.NegotiationNeeded()
	}
}

func (pc *PeerConnection) OnSignalingStateChangeHandler(ss webrtc.SignalingState) {
	pc.logger.Infof("Signaling state has changed: %s", ss)
}

func (pc *PeerConnection) OnICEConnectionStateChangeHandler(cs webrtc.ICEConnectionState) {
	pc.logger.Infof("ICE connection state has changed: %s", cs)
}

func (pc *PeerConnection) OnConnectionStateChangeHandler(pcs webrtc.PeerConnectionState) {
	pc.logger.Infof("Connection state has changed: %s", pcs)

	metricConnectionStates.WithLabelValues(pcs.String()).Inc()

	pc.Coordinator.ConnectionStateChanged(connectionState(pcs))
}

func connectionState(pcs webrtc.PeerConnectionState) negotiation.ConnectionState {
	switch pcs {
	case webrtc.PeerConnectionStateConnecting:
		return negotiation.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return negotiation.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return negotiation.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return negotiation.ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return negotiation.ConnectionStateClosed
	default:
		return negotiation.ConnectionStateNew
	}
}
