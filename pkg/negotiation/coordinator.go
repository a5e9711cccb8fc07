package negotiation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultQueueSize = 64

type eventKind int

const (
	eventNegotiationNeeded eventKind = iota
	eventLocalCandidate
	eventMessage
	eventRestart
	eventConnectionState
	eventChannelReady
)

type event struct {
	kind eventKind

	candidate *IceCandidate
	message   Message
	config    TransportConfiguration
	state     ConnectionState
	ready     bool

	result chan Result
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. A random instance ID is used otherwise.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithErrorHandler receives every error surfaced by the coordinator, in
// addition to the Result of the trigger that caused it.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Coordinator) { c.onError = fn }
}

// WithChannelReady sets the initial readiness of the signaling channel.
// While not ready, local candidates are queued and negotiation is deferred.
func WithChannelReady(ready bool) Option {
	return func(c *Coordinator) { c.channelReady = ready }
}

// WithRestartConfiguration enables an ICE restart whenever the engine
// reports a failed connection, using the configuration returned by fn.
func WithRestartConfiguration(fn func() TransportConfiguration) Option {
	return func(c *Coordinator) { c.restartConfig = fn }
}

// WithQueueSize sets how many triggers may wait for Run before posting blocks.
func WithQueueSize(n int) Option {
	return func(c *Coordinator) { c.queueSize = n }
}

// Coordinator runs perfect negotiation for one connection instance. All
// triggers are queued and handled one at a time by Run, which makes it the
// only writer of the engine's description state.
type Coordinator struct {
	role    Role
	engine  Engine
	channel Channel

	log           *logrus.Entry
	onError       func(error)
	restartConfig func() TransportConfiguration
	queueSize     int

	events    chan event
	done      chan struct{}
	closeOnce sync.Once

	// postMu orders posting against shutdown so no event is left unanswered.
	postMu     sync.RWMutex
	postClosed bool

	// mu guards the fields read by the snapshot accessors.
	mu               sync.Mutex
	flags            Flags
	localGeneration  uint64
	remoteGeneration uint64

	// Owned by the Run goroutine.
	buffer             CandidateBuffer
	channelReady       bool
	negotiationPending bool
	fatal              error

	// restartPending arms an ICE restart for the next offer. restartOffered
	// is set while our outstanding offer is a restart, which moved the local
	// generation away from restartBase.
	restartPending bool
	restartOffered bool
	restartBase    uint64
}

func New(role Role, engine Engine, channel Channel, opts ...Option) *Coordinator {
	c := &Coordinator{
		role:         role,
		engine:       engine,
		channel:      channel,
		channelReady: true,
		queueSize:    defaultQueueSize,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		c.log = logrus.WithField("instance", uuid.NewString()[:8])
	}
	c.log = c.log.WithField("role", role)

	c.events = make(chan event, c.queueSize)

	return c
}

func (c *Coordinator) Role() Role {
	return c.role
}

// Flags returns a snapshot of the negotiation flags.
func (c *Coordinator) Flags() Flags {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flags
}

// Generation returns the local and remote ICE generations.
func (c *Coordinator) Generation() (local, remote uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.localGeneration, c.remoteGeneration
}

// Done is closed once the instance is closed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Close moves the instance to its terminal state. Queued and later
// triggers resolve with ErrClosed.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.log.Info("Connection instance closing")
		close(c.done)
	})
}

// NegotiationNeeded is invoked by the engine when a new offer is required.
func (c *Coordinator) NegotiationNeeded() <-chan Result {
	return c.post(event{kind: eventNegotiationNeeded})
}

// LocalCandidate is invoked for every locally discovered candidate. A nil
// candidate signals that gathering completed and is not forwarded.
func (c *Coordinator) LocalCandidate(candidate *IceCandidate) <-chan Result {
	if candidate != nil {
		cp := *candidate
		candidate = &cp
	}
	return c.post(event{kind: eventLocalCandidate, candidate: candidate})
}

// Deliver hands a message received from the remote peer to the coordinator.
func (c *Coordinator) Deliver(msg Message) <-chan Result {
	return c.post(event{kind: eventMessage, message: msg})
}

// Restart replaces the transport configuration and renegotiates with an
// ICE restart. The existing path stays up until the new round completes.
func (c *Coordinator) Restart(cfg TransportConfiguration) <-chan Result {
	return c.post(event{kind: eventRestart, config: cfg})
}

// ConnectionStateChanged is invoked by the engine on every connection state
// transition. A failed connection triggers a restart if configured.
func (c *Coordinator) ConnectionStateChanged(state ConnectionState) <-chan Result {
	return c.post(event{kind: eventConnectionState, state: state})
}

// SetChannelReady flushes queued candidates and deferred negotiation once
// the signaling channel can reach the remote peer.
func (c *Coordinator) SetChannelReady(ready bool) <-chan Result {
	return c.post(event{kind: eventChannelReady, ready: ready})
}

func (c *Coordinator) post(ev event) <-chan Result {
	ev.result = make(chan Result, 1)

	c.postMu.RLock()
	defer c.postMu.RUnlock()

	if c.postClosed {
		ev.result <- Result{Err: ErrClosed}
		return ev.result
	}

	select {
	case <-c.done:
		ev.result <- Result{Err: ErrClosed}
	case c.events <- ev:
	}

	return ev.result
}

// Run handles queued triggers until ctx is cancelled, Close is called or
// the engine fails fatally. The fatal error is returned in the last case.
func (c *Coordinator) Run(ctx context.Context) error {
	metricActiveInstances.Inc()
	defer metricActiveInstances.Dec()
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.done:
			return c.fatal

		case ev := <-c.events:
			select {
			case <-c.done:
				ev.result <- Result{Err: ErrClosed}
				return c.fatal
			default:
			}

			res := c.handle(ctx, ev)
			if res.Err != nil {
				c.surface(res.Err)
			}
			ev.result <- res

			if c.fatal != nil {
				c.Close()
				return c.fatal
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	c.Close()

	c.postMu.Lock()
	c.postClosed = true
	c.postMu.Unlock()

	for {
		select {
		case ev := <-c.events:
			ev.result <- Result{Err: ErrClosed}
		default:
			if n := c.buffer.DropInbound(); n > 0 {
				c.log.Debugf("Dropped %d buffered candidates", n)
			}
			return
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev event) Result {
	switch ev.kind {
	case eventNegotiationNeeded:
		return c.onNegotiationNeeded(ctx)
	case eventLocalCandidate:
		return c.onLocalCandidate(ctx, ev.candidate)
	case eventMessage:
		return c.onSignalingMessage(ctx, ev.message)
	case eventRestart:
		return c.onRestart(ctx, ev.config)
	case eventConnectionState:
		return c.onConnectionStateChange(ctx, ev.state)
	case eventChannelReady:
		return c.onChannelReady(ctx, ev.ready)
	default:
		return Result{}
	}
}

func (c *Coordinator) onNegotiationNeeded(ctx context.Context) Result {
	if !c.channelReady {
		c.log.Info("Negotiation deferred until signaling channel is ready")
		c.negotiationPending = true
		return Result{Outcome: OutcomeDeferred}
	}

	state := c.engine.SignalingState()
	if state == SignalingStateClosed {
		return c.engineFailure("negotiation needed", ErrClosed)
	}
	if state != SignalingStateStable {
		c.log.Infof("Negotiation deferred until stable (currently %s)", state)
		c.negotiationPending = true
		return Result{Outcome: OutcomeDeferred}
	}

	c.log.Info("Negotiation needed!")
	c.negotiationPending = false

	restart := c.restartPending
	if restart {
		c.restartPending = false
		c.engine.RequestRestart()

		c.mu.Lock()
		c.restartBase = c.localGeneration
		c.localGeneration++
		c.mu.Unlock()
	}

	c.setFlags(func(f *Flags) { f.MakingOffer = true })
	defer c.setFlags(func(f *Flags) { f.MakingOffer = false })

	desc, err := c.engine.CreateAndSetDescription(ctx, state)
	if err != nil {
		if restart {
			c.rearmRestart()
		}
		return c.engineError("create offer", err)
	}
	c.restartOffered = restart

	localGeneration, _ := c.Generation()
	if err := c.sendDescription(ctx, desc, localGeneration); err != nil {
		return Result{Err: err}
	}

	return Result{Outcome: OutcomeSent}
}

func (c *Coordinator) onLocalCandidate(ctx context.Context, candidate *IceCandidate) Result {
	if candidate == nil {
		c.log.Info("Candidate gathering concluded")
		metricCandidates.WithLabelValues("local", OutcomeSkipped.String()).Inc()
		return Result{Outcome: OutcomeSkipped}
	}

	candidate.Generation, _ = c.Generation()
	c.buffer.EnqueueOutbound(*candidate)

	if !c.channelReady {
		c.log.Debugf("Queued candidate until signaling channel is ready: %s", candidate)
		metricCandidates.WithLabelValues("local", OutcomeQueued.String()).Inc()
		return Result{Outcome: OutcomeQueued}
	}

	c.log.Debugf("Found new candidate: %s", candidate)

	if err := c.drainOutbound(ctx); err != nil {
		return Result{Err: err}
	}

	return Result{Outcome: OutcomeSent}
}

func (c *Coordinator) onSignalingMessage(ctx context.Context, msg Message) Result {
	if c.engine.SignalingState() == SignalingStateClosed {
		return c.engineFailure("signaling message", ErrClosed)
	}

	switch {
	case msg.Description != nil:
		res := c.onDescription(ctx, *msg.Description, msg.Generation)
		metricDescriptionsReceived.WithLabelValues(msg.Description.Kind.String(), res.Outcome.String()).Inc()
		return res

	case msg.Candidate != nil:
		candidate := *msg.Candidate
		candidate.Generation = msg.Generation
		res := c.onRemoteCandidate(ctx, candidate)
		metricCandidates.WithLabelValues("remote", res.Outcome.String()).Inc()
		return res

	default:
		c.log.Warn("Ignoring empty signaling message")
		return Result{Outcome: OutcomeSkipped}
	}
}

func (c *Coordinator) onDescription(ctx context.Context, desc SessionDescription, generation uint64) Result {
	state := c.engine.SignalingState()

	if desc.Kind == KindRollback {
		return c.onRemoteRollback(ctx, state)
	}

	flags := c.Flags()

	// An offer may come in while we are busy processing SRD(answer).
	// In this case, we will be in "stable" by the time the offer is processed
	// so it is safe to chain it on our operations chain now.
	readyForOffer := !flags.MakingOffer &&
		(state == SignalingStateStable || flags.IsSettingRemoteAnswerPending)
	offerCollision := desc.Kind == KindOffer && !readyForOffer

	ignoreOffer := c.role == RoleImpolite && offerCollision
	c.setFlags(func(f *Flags) { f.IgnoreOffer = ignoreOffer })

	if ignoreOffer {
		c.log.Infof("Ignoring colliding %s in state %s", desc, state)
		return Result{Outcome: OutcomeIgnored}
	}

	outcome := OutcomeAccepted
	if offerCollision {
		c.log.Infof("Rolling back local offer in favour of remote %s", desc)
		if err := c.engine.Rollback(ctx); err != nil {
			return c.engineError("rollback", err)
		}
		outcome = OutcomeRolledBack

		if c.restartOffered {
			c.log.Info("Restart offer rolled back, restarting again once stable")
			c.rearmRestart()
		}
	}

	c.setFlags(func(f *Flags) { f.IsSettingRemoteAnswerPending = desc.Kind == KindAnswer })
	err := c.engine.SetRemoteDescription(ctx, desc)
	c.setFlags(func(f *Flags) { f.IsSettingRemoteAnswerPending = false })
	if err != nil {
		return c.engineError("set remote description", err)
	}

	if desc.Kind == KindAnswer {
		c.restartOffered = false
	}

	c.adoptGeneration(desc.Kind, generation)
	c.drainInbound(ctx)

	if desc.Kind == KindOffer {
		answer, err := c.engine.CreateAndSetDescription(ctx, c.engine.SignalingState())
		if err != nil {
			return c.engineError("create answer", err)
		}

		// The answer belongs to the generation of the offer it answers.
		if err := c.sendDescription(ctx, answer, generation); err != nil {
			return Result{Outcome: outcome, Err: err}
		}
	}

	c.resumeNegotiation(ctx)

	return Result{Outcome: outcome}
}

func (c *Coordinator) onRemoteRollback(ctx context.Context, state SignalingState) Result {
	if state != SignalingStateHaveRemoteOffer {
		c.log.Debugf("Ignoring remote rollback in state %s", state)
		return Result{Outcome: OutcomeSkipped}
	}

	if err := c.engine.Rollback(ctx); err != nil {
		return c.engineError("rollback", err)
	}

	c.resumeNegotiation(ctx)

	return Result{Outcome: OutcomeRolledBack}
}

func (c *Coordinator) onRemoteCandidate(ctx context.Context, candidate IceCandidate) Result {
	ignoreOffer := c.Flags().IgnoreOffer
	_, remoteGeneration := c.Generation()

	if candidate.Generation < remoteGeneration {
		c.log.Debugf("Dropping candidate of previous generation: %s", candidate)
		return Result{Outcome: OutcomeDropped}
	}

	if candidate.Generation > remoteGeneration || c.engine.Slot(DirectionRemote).Effective() == nil {
		if ignoreOffer {
			return Result{Outcome: OutcomeSuppressed}
		}

		c.buffer.EnqueueInbound(candidate)
		return Result{Outcome: OutcomeBuffered}
	}

	if err := c.engine.AddCandidate(ctx, candidate); err != nil {
		if ignoreOffer {
			c.log.Debugf("Suppressed candidate failure of ignored offer: %s", err)
			return Result{Outcome: OutcomeSuppressed}
		}

		return Result{Err: newError(ErrUnexpectedCandidate, "add candidate", err)}
	}

	return Result{Outcome: OutcomeApplied}
}

func (c *Coordinator) onRestart(ctx context.Context, cfg TransportConfiguration) Result {
	c.log.Info("Restarting ICE")

	if err := c.engine.SetTransportConfiguration(cfg); err != nil {
		return c.engineError("set transport configuration", err)
	}

	c.restartPending = true
	metricRestarts.Inc()

	return c.onNegotiationNeeded(ctx)
}

func (c *Coordinator) onConnectionStateChange(ctx context.Context, state ConnectionState) Result {
	c.log.Infof("Connection State has changed: %s", state)

	switch state {
	case ConnectionStateFailed:
		if c.restartConfig != nil {
			return c.onRestart(ctx, c.restartConfig())
		}

	case ConnectionStateClosed:
		return c.engineFailure("connection state", errors.New("engine closed unexpectedly"))
	}

	return Result{}
}

func (c *Coordinator) onChannelReady(ctx context.Context, ready bool) Result {
	c.channelReady = ready
	if !ready {
		c.log.Info("Signaling channel not ready")
		return Result{}
	}

	c.log.Info("Signaling channel ready")

	if err := c.drainOutbound(ctx); err != nil {
		return Result{Err: err}
	}

	c.resumeNegotiation(ctx)

	return Result{Outcome: OutcomeSent}
}

// resumeNegotiation runs a deferred negotiation once the instance is stable.
func (c *Coordinator) resumeNegotiation(ctx context.Context) {
	if !c.negotiationPending || !c.channelReady || c.engine.SignalingState() != SignalingStateStable {
		return
	}

	if res := c.onNegotiationNeeded(ctx); res.Err != nil {
		c.surface(res.Err)
	}
}

func (c *Coordinator) adoptGeneration(kind DescriptionKind, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation > c.remoteGeneration {
		c.remoteGeneration = generation
	}

	// Answering a restart moves us to the restarted generation as well.
	if kind == KindOffer && generation > c.localGeneration {
		c.localGeneration = generation
	}
}

// rearmRestart undoes the generation bump of a restart offer that never
// completed and restarts again at the next stable point.
func (c *Coordinator) rearmRestart() {
	c.mu.Lock()
	c.localGeneration = c.restartBase
	c.mu.Unlock()

	c.restartOffered = false
	c.restartPending = true
	c.negotiationPending = true
}

func (c *Coordinator) drainInbound(ctx context.Context) {
	_, remoteGeneration := c.Generation()

	applied, dropped, err := c.buffer.DrainInboundIfReady(ctx, c.engine, remoteGeneration)
	if applied > 0 || dropped > 0 {
		c.log.Debugf("Replayed %d buffered candidates, dropped %d", applied, dropped)
	}
	metricCandidates.WithLabelValues("remote", OutcomeApplied.String()).Add(float64(applied))
	metricCandidates.WithLabelValues("remote", OutcomeDropped.String()).Add(float64(dropped))

	if err != nil {
		c.surface(newError(ErrUnexpectedCandidate, "replay candidates", err))
	}
}

func (c *Coordinator) drainOutbound(ctx context.Context) error {
	localGeneration, _ := c.Generation()

	sent, dropped, err := c.buffer.DrainOutboundTo(ctx, c.channel, localGeneration)
	metricCandidates.WithLabelValues("local", OutcomeSent.String()).Add(float64(sent))
	metricCandidates.WithLabelValues("local", OutcomeDropped.String()).Add(float64(dropped))
	if err != nil {
		return newError(ErrChannel, "send candidate", err)
	}

	return nil
}

func (c *Coordinator) sendDescription(ctx context.Context, desc SessionDescription, generation uint64) error {
	c.log.Infof("Sending %s", desc)

	if err := c.channel.Send(ctx, Message{Generation: generation, Description: &desc}); err != nil {
		return newError(ErrChannel, "send "+desc.Kind.String(), err)
	}

	metricDescriptionsSent.WithLabelValues(desc.Kind.String()).Inc()

	return nil
}

// engineError classifies a failed engine operation. A closed engine is
// fatal, anything else abandons the current round only.
func (c *Coordinator) engineError(op string, err error) Result {
	if c.engine.SignalingState() == SignalingStateClosed {
		return c.engineFailure(op, err)
	}

	return Result{Err: newError(ErrIncompatibleDescription, op, err)}
}

func (c *Coordinator) engineFailure(op string, err error) Result {
	c.fatal = newError(ErrFatalEngine, op, err)
	return Result{Err: c.fatal}
}

func (c *Coordinator) surface(err error) {
	metricErrors.WithLabelValues(kindLabel(err)).Inc()
	c.log.Warnf("Negotiation error: %s", err)

	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Coordinator) setFlags(fn func(f *Flags)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn(&c.flags)
}
