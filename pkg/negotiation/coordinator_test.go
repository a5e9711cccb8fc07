package negotiation_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation"
	"github.com/stv0g/pion-perfect-negotation/pkg/negotiation/negotiationtest"
)

type testPeer struct {
	name    string
	coord   *negotiation.Coordinator
	engine  *negotiationtest.Engine
	channel *negotiationtest.Recorder

	mu     sync.Mutex
	errors []error
}

func (p *testPeer) surfaced() []error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]error(nil), p.errors...)
}

func newTestPeer(t *testing.T, name string, role negotiation.Role, opts ...negotiation.Option) *testPeer {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	p := &testPeer{
		name:    name,
		engine:  negotiationtest.NewEngine(name),
		channel: &negotiationtest.Recorder{},
	}

	opts = append([]negotiation.Option{
		negotiation.WithLogger(logrus.NewEntry(logger).WithField("peer", name)),
		negotiation.WithErrorHandler(func(err error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.errors = append(p.errors, err)
		}),
	}, opts...)

	p.coord = negotiation.New(role, p.engine, p.channel, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.coord.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return p
}

func await(t *testing.T, ch <-chan negotiation.Result) negotiation.Result {
	t.Helper()

	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for result")
		return negotiation.Result{}
	}
}

func mustOutcome(t *testing.T, ch <-chan negotiation.Result, want negotiation.Outcome) {
	t.Helper()

	res := await(t, ch)
	if res.Err != nil {
		t.Fatalf("Unexpected error: %v", res.Err)
	}
	if res.Outcome != want {
		t.Fatalf("Outcome = %s, want %s", res.Outcome, want)
	}
}

// deliver hands msgs to dst one by one and returns the results.
func deliver(t *testing.T, dst *testPeer, msgs []negotiation.Message) []negotiation.Result {
	t.Helper()

	results := make([]negotiation.Result, 0, len(msgs))
	for _, msg := range msgs {
		results = append(results, await(t, dst.coord.Deliver(msg)))
	}
	return results
}

func descriptions(msgs []negotiation.Message, kind negotiation.DescriptionKind) []negotiation.SessionDescription {
	var out []negotiation.SessionDescription
	for _, msg := range msgs {
		if msg.Description != nil && msg.Description.Kind == kind {
			out = append(out, *msg.Description)
		}
	}
	return out
}

func assertState(t *testing.T, p *testPeer, want negotiation.SignalingState) {
	t.Helper()

	if got := p.engine.SignalingState(); got != want {
		t.Fatalf("%s: signaling state = %s, want %s", p.name, got, want)
	}
}

func TestNegotiationNeededSendsOffer(t *testing.T) {
	p := newTestPeer(t, "alice", negotiation.RoleImpolite)

	mustOutcome(t, p.coord.NegotiationNeeded(), negotiation.OutcomeSent)

	offers := descriptions(p.channel.Sent(), negotiation.KindOffer)
	if len(offers) != 1 {
		t.Fatalf("Sent %d offers, want 1", len(offers))
	}
	assertState(t, p, negotiation.SignalingStateHaveLocalOffer)

	if p.coord.Flags().MakingOffer {
		t.Error("makingOffer still set after successful offer")
	}
}

func TestFlagRestoration(t *testing.T) {
	boom := errors.New("boom")

	testCases := []struct {
		name    string
		prepare func(p *testPeer)
		kind    error
	}{
		{
			name:    "engine fails to create offer",
			prepare: func(p *testPeer) { p.engine.CreateErr = boom },
			kind:    negotiation.ErrIncompatibleDescription,
		},
		{
			name:    "channel fails to send offer",
			prepare: func(p *testPeer) { p.channel.Err = boom },
			kind:    negotiation.ErrChannel,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPeer(t, "alice", negotiation.RolePolite)
			tc.prepare(p)

			res := await(t, p.coord.NegotiationNeeded())
			if !errors.Is(res.Err, tc.kind) {
				t.Fatalf("Error = %v, want kind %v", res.Err, tc.kind)
			}
			if !errors.Is(res.Err, boom) {
				t.Errorf("Error = %v does not wrap cause", res.Err)
			}

			if p.coord.Flags().MakingOffer {
				t.Error("makingOffer still set after failed offer")
			}

			if errs := p.surfaced(); len(errs) != 1 {
				t.Errorf("Surfaced %d errors, want 1", len(errs))
			}
		})
	}
}

func TestOfferAnswerRound(t *testing.T) {
	alice := newTestPeer(t, "alice", negotiation.RoleImpolite)
	bob := newTestPeer(t, "bob", negotiation.RolePolite)

	mustOutcome(t, alice.coord.NegotiationNeeded(), negotiation.OutcomeSent)

	for _, res := range deliver(t, bob, alice.channel.Take()) {
		if res.Err != nil || res.Outcome != negotiation.OutcomeAccepted {
			t.Fatalf("Offer result = %+v", res)
		}
	}
	assertState(t, bob, negotiation.SignalingStateStable)

	answers := descriptions(bob.channel.Take(), negotiation.KindAnswer)
	if len(answers) != 1 {
		t.Fatalf("Bob sent %d answers, want 1", len(answers))
	}

	res := await(t, alice.coord.Deliver(negotiation.Message{Description: &answers[0]}))
	if res.Outcome != negotiation.OutcomeAccepted {
		t.Fatalf("Answer outcome = %s", res.Outcome)
	}
	assertState(t, alice, negotiation.SignalingStateStable)
}

// TestGlare lets both peers offer before either offer arrives. The
// impolite offer must win regardless of which peer sees the collision first.
func TestGlare(t *testing.T) {
	testCases := []struct {
		name          string
		politeFirst   bool
		impoliteFirst bool
	}{
		{"simultaneous, polite receives first", true, false},
		{"simultaneous, impolite receives first", false, false},
		{"impolite offers first, polite offers before receiving", true, true},
		{"impolite offers first, impolite receives first", false, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			polite := newTestPeer(t, "polite", negotiation.RolePolite)
			impolite := newTestPeer(t, "impolite", negotiation.RoleImpolite)

			if tc.impoliteFirst {
				mustOutcome(t, impolite.coord.NegotiationNeeded(), negotiation.OutcomeSent)
				mustOutcome(t, polite.coord.NegotiationNeeded(), negotiation.OutcomeSent)
			} else {
				r1 := polite.coord.NegotiationNeeded()
				r2 := impolite.coord.NegotiationNeeded()
				mustOutcome(t, r1, negotiation.OutcomeSent)
				mustOutcome(t, r2, negotiation.OutcomeSent)
			}

			politeOffer := polite.channel.Take()
			impoliteOffer := impolite.channel.Take()

			handlePolite := func() {
				res := deliver(t, polite, impoliteOffer)
				if res[0].Err != nil || res[0].Outcome != negotiation.OutcomeRolledBack {
					t.Fatalf("Polite result = %+v, want rolled back", res[0])
				}
			}
			handleImpolite := func() {
				res := deliver(t, impolite, politeOffer)
				if res[0].Err != nil || res[0].Outcome != negotiation.OutcomeIgnored {
					t.Fatalf("Impolite result = %+v, want ignored", res[0])
				}
				if !impolite.coord.Flags().IgnoreOffer {
					t.Error("Impolite peer did not set ignoreOffer")
				}
			}

			if tc.politeFirst {
				handlePolite()
				handleImpolite()
			} else {
				handleImpolite()
				handlePolite()
			}

			answer := polite.channel.Take()
			if n := len(descriptions(answer, negotiation.KindAnswer)); n != 1 {
				t.Fatalf("Polite sent %d answers, want 1", n)
			}
			for _, res := range deliver(t, impolite, answer) {
				if res.Err != nil || res.Outcome != negotiation.OutcomeAccepted {
					t.Fatalf("Answer result = %+v", res)
				}
			}

			assertState(t, polite, negotiation.SignalingStateStable)
			assertState(t, impolite, negotiation.SignalingStateStable)

			winner := descriptions(impoliteOffer, negotiation.KindOffer)[0]
			if got := polite.engine.Slot(negotiation.DirectionRemote).Current; got == nil || *got != winner {
				t.Errorf("Polite remote description = %v, want %v", got, winner)
			}
			if got := impolite.engine.Slot(negotiation.DirectionLocal).Current; got == nil || *got != winner {
				t.Errorf("Impolite local description = %v, want %v", got, winner)
			}

			if n := polite.engine.Rollbacks(); n != 1 {
				t.Errorf("Polite rolled back %d times, want 1", n)
			}
			if n := impolite.engine.Rollbacks(); n != 0 {
				t.Errorf("Impolite rolled back %d times, want 0", n)
			}
			if n := len(descriptions(impolite.channel.Sent(), negotiation.KindAnswer)); n != 0 {
				t.Errorf("Impolite sent %d answers, want 0", n)
			}

			if errs := append(polite.surfaced(), impolite.surfaced()...); len(errs) != 0 {
				t.Errorf("Surfaced errors: %v", errs)
			}
		})
	}
}

func TestDiscardIsIdempotent(t *testing.T) {
	impolite := newTestPeer(t, "impolite", negotiation.RoleImpolite)

	mustOutcome(t, impolite.coord.NegotiationNeeded(), negotiation.OutcomeSent)

	offer := negotiation.SessionDescription{Kind: negotiation.KindOffer, Payload: "polite:offer:1:ufrag=0"}

	mustOutcome(t, impolite.coord.Deliver(negotiation.Message{Description: &offer}), negotiation.OutcomeIgnored)
	flags := impolite.coord.Flags()
	local := impolite.engine.Slot(negotiation.DirectionLocal)
	remote := impolite.engine.Slot(negotiation.DirectionRemote)

	mustOutcome(t, impolite.coord.Deliver(negotiation.Message{Description: &offer}), negotiation.OutcomeIgnored)

	if got := impolite.coord.Flags(); got != flags {
		t.Errorf("Flags after second discard = %+v, want %+v", got, flags)
	}
	if got := impolite.engine.Slot(negotiation.DirectionLocal); got != local {
		t.Errorf("Local slot changed: %+v -> %+v", local, got)
	}
	if got := impolite.engine.Slot(negotiation.DirectionRemote); got != remote {
		t.Errorf("Remote slot changed: %+v -> %+v", remote, got)
	}
	assertState(t, impolite, negotiation.SignalingStateHaveLocalOffer)
}

func TestRemoteRollbackInStableIsNoop(t *testing.T) {
	p := newTestPeer(t, "polite", negotiation.RolePolite)

	rollback := negotiation.SessionDescription{Kind: negotiation.KindRollback}
	for i := 0; i < 2; i++ {
		mustOutcome(t, p.coord.Deliver(negotiation.Message{Description: &rollback}), negotiation.OutcomeSkipped)
	}

	assertState(t, p, negotiation.SignalingStateStable)
	if n := p.engine.Rollbacks(); n != 0 {
		t.Errorf("Rolled back %d times, want 0", n)
	}
}

func TestEngineRollbackIsIdempotent(t *testing.T) {
	e := negotiationtest.NewEngine("alice")
	ctx := context.Background()

	if _, err := e.CreateAndSetDescription(ctx, negotiation.SignalingStateStable); err != nil {
		t.Fatalf("Failed to create offer: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := e.Rollback(ctx); err != nil {
			t.Fatalf("Rollback %d failed: %v", i, err)
		}
		if s := e.SignalingState(); s != negotiation.SignalingStateStable {
			t.Fatalf("State after rollback %d = %s", i, s)
		}
	}

	if n := e.Rollbacks(); n != 1 {
		t.Errorf("Effective rollbacks = %d, want 1", n)
	}
}

func TestCandidatesBeforeDescriptionAreReplayedInOrder(t *testing.T) {
	alice := newTestPeer(t, "alice", negotiation.RoleImpolite)
	bob := newTestPeer(t, "bob", negotiation.RolePolite)

	mustOutcome(t, alice.coord.NegotiationNeeded(), negotiation.OutcomeSent)
	for _, payload := range []string{"c1", "c2", "c3"} {
		mustOutcome(t, alice.coord.LocalCandidate(&negotiation.IceCandidate{Payload: payload}), negotiation.OutcomeSent)
	}

	msgs := alice.channel.Take()
	offer, candidates := msgs[0], msgs[1:]

	// Delay the description until after two candidates.
	for _, res := range deliver(t, bob, candidates[:2]) {
		if res.Outcome != negotiation.OutcomeBuffered {
			t.Fatalf("Early candidate outcome = %s, want buffered", res.Outcome)
		}
	}
	mustOutcome(t, bob.coord.Deliver(offer), negotiation.OutcomeAccepted)
	for _, res := range deliver(t, bob, candidates[2:]) {
		if res.Outcome != negotiation.OutcomeApplied {
			t.Fatalf("Late candidate outcome = %s, want applied", res.Outcome)
		}
	}

	got := bob.engine.Candidates()
	want := []string{"c1", "c2", "c3"}
	if len(got) != len(want) {
		t.Fatalf("Applied %d candidates, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Payload != want[i] {
			t.Errorf("Candidate %d = %q, want %q", i, got[i].Payload, want[i])
		}
	}
}

func TestEndOfCandidatesForwarding(t *testing.T) {
	p := newTestPeer(t, "alice", negotiation.RoleImpolite)

	mustOutcome(t, p.coord.LocalCandidate(nil), negotiation.OutcomeSkipped)
	mustOutcome(t, p.coord.LocalCandidate(negotiation.EndOfCandidates()), negotiation.OutcomeSent)
	mustOutcome(t, p.coord.LocalCandidate(nil), negotiation.OutcomeSkipped)

	sent := p.channel.Sent()
	if len(sent) != 1 {
		t.Fatalf("Sent %d messages, want exactly 1", len(sent))
	}
	if c := sent[0].Candidate; c == nil || !c.EndOfCandidates || c.Payload != "" {
		t.Errorf("Sent %v, want end-of-candidates marker", sent[0])
	}
}

// TestTrailingCandidateOfIgnoredOffer delivers the end-of-candidates marker
// belonging to an offer the impolite peer just ignored.
func TestTrailingCandidateOfIgnoredOffer(t *testing.T) {
	testCases := []struct {
		name      string
		hasRemote bool
	}{
		{"no remote description yet", false},
		{"engine rejects candidate", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			impolite := newTestPeer(t, "impolite", negotiation.RoleImpolite)

			if tc.hasRemote {
				// Complete one round so a remote description exists.
				offer := negotiation.SessionDescription{Kind: negotiation.KindOffer, Payload: "polite:offer:1:ufrag=0"}
				mustOutcome(t, impolite.coord.Deliver(negotiation.Message{Description: &offer}), negotiation.OutcomeAccepted)
				impolite.engine.RejectCandidate = func(negotiation.IceCandidate) bool { return true }
			}

			mustOutcome(t, impolite.coord.NegotiationNeeded(), negotiation.OutcomeSent)

			colliding := negotiation.SessionDescription{Kind: negotiation.KindOffer, Payload: "polite:offer:2:ufrag=0"}
			mustOutcome(t, impolite.coord.Deliver(negotiation.Message{Description: &colliding}), negotiation.OutcomeIgnored)

			res := await(t, impolite.coord.Deliver(negotiation.Message{Candidate: negotiation.EndOfCandidates()}))
			if res.Err != nil {
				t.Fatalf("Trailing candidate surfaced %v", res.Err)
			}
			if res.Outcome != negotiation.OutcomeSuppressed {
				t.Fatalf("Outcome = %s, want suppressed", res.Outcome)
			}
			if errs := impolite.surfaced(); len(errs) != 0 {
				t.Errorf("Surfaced errors: %v", errs)
			}
			if n := len(impolite.engine.Candidates()); n != 0 {
				t.Errorf("Applied %d candidates, want 0", n)
			}
		})
	}
}

func TestUnexpectedCandidateFailure(t *testing.T) {
	p := newTestPeer(t, "polite", negotiation.RolePolite)

	offer := negotiation.SessionDescription{Kind: negotiation.KindOffer, Payload: "impolite:offer:1:ufrag=0"}
	mustOutcome(t, p.coord.Deliver(negotiation.Message{Description: &offer}), negotiation.OutcomeAccepted)

	p.engine.RejectCandidate = func(c negotiation.IceCandidate) bool { return c.Payload == "bad" }

	res := await(t, p.coord.Deliver(negotiation.Message{Candidate: &negotiation.IceCandidate{Payload: "bad"}}))
	if !errors.Is(res.Err, negotiation.ErrUnexpectedCandidate) {
		t.Fatalf("Error = %v, want unexpected candidate failure", res.Err)
	}
	if errs := p.surfaced(); len(errs) != 1 {
		t.Errorf("Surfaced %d errors, want 1", len(errs))
	}

	// The instance stays usable.
	mustOutcome(t, p.coord.Deliver(negotiation.Message{Candidate: &negotiation.IceCandidate{Payload: "good"}}), negotiation.OutcomeApplied)
}

func TestIncompatibleDescriptionAbandonsRound(t *testing.T) {
	p := newTestPeer(t, "polite", negotiation.RolePolite)

	bad := negotiation.SessionDescription{Kind: negotiation.KindOffer, Payload: negotiationtest.Malformed}
	res := await(t, p.coord.Deliver(negotiation.Message{Description: &bad}))
	if !errors.Is(res.Err, negotiation.ErrIncompatibleDescription) {
		t.Fatalf("Error = %v, want incompatible description", res.Err)
	}
	if p.coord.Flags().IsSettingRemoteAnswerPending {
		t.Error("isSettingRemoteAnswerPending left set")
	}
	assertState(t, p, negotiation.SignalingStateStable)

	good := negotiation.SessionDescription{Kind: negotiation.KindOffer, Payload: "impolite:offer:2:ufrag=0"}
	mustOutcome(t, p.coord.Deliver(negotiation.Message{Description: &good}), negotiation.OutcomeAccepted)
}

func TestFatalEngineFailureClosesInstance(t *testing.T) {
	testCases := []struct {
		name    string
		trigger func(p *testPeer) <-chan negotiation.Result
	}{
		{
			name: "engine closed under message",
			trigger: func(p *testPeer) <-chan negotiation.Result {
				p.engine.Close()
				return p.coord.Deliver(negotiation.Message{Candidate: &negotiation.IceCandidate{Payload: "c1"}})
			},
		},
		{
			name: "connection state closed",
			trigger: func(p *testPeer) <-chan negotiation.Result {
				return p.coord.ConnectionStateChanged(negotiation.ConnectionStateClosed)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPeer(t, "alice", negotiation.RolePolite)

			res := await(t, tc.trigger(p))
			if !errors.Is(res.Err, negotiation.ErrFatalEngine) {
				t.Fatalf("Error = %v, want fatal engine failure", res.Err)
			}

			select {
			case <-p.coord.Done():
			case <-time.After(5 * time.Second):
				t.Fatal("Instance did not close")
			}

			res = await(t, p.coord.NegotiationNeeded())
			if !errors.Is(res.Err, negotiation.ErrClosed) {
				t.Errorf("Trigger after close = %v, want ErrClosed", res.Err)
			}
		})
	}
}

func TestCloseRejectsTriggers(t *testing.T) {
	p := newTestPeer(t, "alice", negotiation.RolePolite)

	p.coord.Close()

	res := await(t, p.coord.Deliver(negotiation.Message{Candidate: negotiation.EndOfCandidates()}))
	if !errors.Is(res.Err, negotiation.ErrClosed) {
		t.Fatalf("Error = %v, want ErrClosed", res.Err)
	}
	if len(p.channel.Sent()) != 0 {
		t.Error("Closed instance sent messages")
	}
}

func TestNegotiationDeferredUntilChannelReady(t *testing.T) {
	p := newTestPeer(t, "alice", negotiation.RoleImpolite, negotiation.WithChannelReady(false))

	mustOutcome(t, p.coord.NegotiationNeeded(), negotiation.OutcomeDeferred)
	mustOutcome(t, p.coord.LocalCandidate(&negotiation.IceCandidate{Payload: "c1"}), negotiation.OutcomeQueued)
	mustOutcome(t, p.coord.LocalCandidate(negotiation.EndOfCandidates()), negotiation.OutcomeQueued)

	if n := len(p.channel.Sent()); n != 0 {
		t.Fatalf("Sent %d messages before channel was ready", n)
	}

	mustOutcome(t, p.coord.SetChannelReady(true), negotiation.OutcomeSent)

	sent := p.channel.Sent()
	if len(sent) != 3 {
		t.Fatalf("Sent %d messages, want 3", len(sent))
	}
	if sent[0].Candidate == nil || sent[0].Candidate.Payload != "c1" {
		t.Errorf("First message = %v, want candidate c1", sent[0])
	}
	if sent[1].Candidate == nil || !sent[1].Candidate.EndOfCandidates {
		t.Errorf("Second message = %v, want end-of-candidates", sent[1])
	}
	if sent[2].Description == nil || sent[2].Description.Kind != negotiation.KindOffer {
		t.Errorf("Third message = %v, want offer", sent[2])
	}
}

func TestNegotiationDeferredUntilStable(t *testing.T) {
	alice := newTestPeer(t, "alice", negotiation.RoleImpolite)
	bob := newTestPeer(t, "bob", negotiation.RolePolite)

	mustOutcome(t, alice.coord.NegotiationNeeded(), negotiation.OutcomeSent)
	mustOutcome(t, alice.coord.NegotiationNeeded(), negotiation.OutcomeDeferred)

	deliver(t, bob, alice.channel.Take())
	deliver(t, alice, bob.channel.Take())

	// The deferred negotiation runs as soon as the answer is applied.
	offers := descriptions(alice.channel.Take(), negotiation.KindOffer)
	if len(offers) != 1 {
		t.Fatalf("Deferred negotiation sent %d offers, want 1", len(offers))
	}
	assertState(t, alice, negotiation.SignalingStateHaveLocalOffer)
}

func TestRestartOnFailedConnection(t *testing.T) {
	cfg := negotiation.TransportConfiguration{
		ICEServers: []negotiation.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
	}

	impolite := newTestPeer(t, "impolite", negotiation.RoleImpolite,
		negotiation.WithRestartConfiguration(func() negotiation.TransportConfiguration { return cfg }))
	polite := newTestPeer(t, "polite", negotiation.RolePolite)

	// Establish the first round.
	mustOutcome(t, impolite.coord.NegotiationNeeded(), negotiation.OutcomeSent)
	deliver(t, polite, impolite.channel.Take())
	mustOutcome(t, polite.coord.LocalCandidate(&negotiation.IceCandidate{Payload: "old"}), negotiation.OutcomeSent)
	stale := polite.channel.Take()
	deliver(t, impolite, stale[:1])

	mustOutcome(t, impolite.coord.ConnectionStateChanged(negotiation.ConnectionStateFailed), negotiation.OutcomeSent)

	msgs := impolite.channel.Take()
	offers := descriptions(msgs, negotiation.KindOffer)
	if len(offers) != 1 || !strings.Contains(offers[0].Payload, negotiationtest.RestartMarker) {
		t.Fatalf("Restart offers = %v, want one carrying the restart marker", offers)
	}
	if got := impolite.engine.Configuration(); len(got.ICEServers) != 1 {
		t.Errorf("Configuration not replaced: %+v", got)
	}
	if !impolite.engine.PathActive() {
		t.Error("Path torn down before the new round completed")
	}

	deliver(t, polite, msgs)
	deliver(t, impolite, polite.channel.Take())

	assertState(t, impolite, negotiation.SignalingStateStable)
	assertState(t, polite, negotiation.SignalingStateStable)
	if !impolite.engine.PathActive() || !polite.engine.PathActive() {
		t.Error("Path torn down by restart")
	}

	for _, p := range []*testPeer{impolite, polite} {
		if local, remote := p.coord.Generation(); local != 1 || remote != 1 {
			t.Errorf("%s generation = %d/%d, want 1/1", p.name, local, remote)
		}
	}

	// A candidate of the previous generation arriving late is dropped.
	mustOutcome(t, impolite.coord.Deliver(stale[1]), negotiation.OutcomeDropped)
}

func TestManualRestartWhileFailed(t *testing.T) {
	p := newTestPeer(t, "impolite", negotiation.RoleImpolite)

	mustOutcome(t, p.coord.ConnectionStateChanged(negotiation.ConnectionStateFailed), negotiation.OutcomeNone)
	mustOutcome(t, p.coord.Restart(negotiation.TransportConfiguration{}), negotiation.OutcomeSent)

	offers := descriptions(p.channel.Sent(), negotiation.KindOffer)
	if len(offers) != 1 || !strings.Contains(offers[0].Payload, negotiationtest.RestartMarker) {
		t.Fatalf("Offers = %v, want one restart offer", offers)
	}
	if !p.engine.PathActive() {
		t.Error("Path torn down by restart")
	}
}

// TestRestartCollidingWithRemoteOffer lets the polite peer restart while the
// impolite peer offers in the same round. The polite restart offer is rolled
// back and must be sent again, and both peers must agree on the generation.
func TestRestartCollidingWithRemoteOffer(t *testing.T) {
	polite := newTestPeer(t, "polite", negotiation.RolePolite)
	impolite := newTestPeer(t, "impolite", negotiation.RoleImpolite)

	// Establish the first round.
	mustOutcome(t, impolite.coord.NegotiationNeeded(), negotiation.OutcomeSent)
	deliver(t, polite, impolite.channel.Take())
	deliver(t, impolite, polite.channel.Take())

	mustOutcome(t, polite.coord.Restart(negotiation.TransportConfiguration{}), negotiation.OutcomeSent)
	mustOutcome(t, impolite.coord.NegotiationNeeded(), negotiation.OutcomeSent)

	mustOutcome(t, polite.coord.LocalCandidate(&negotiation.IceCandidate{Payload: "restarted"}), negotiation.OutcomeSent)

	for i, res := range deliver(t, impolite, polite.channel.Take()) {
		want := negotiation.OutcomeIgnored
		if i > 0 {
			want = negotiation.OutcomeSuppressed
		}
		if res.Err != nil || res.Outcome != want {
			t.Fatalf("Impolite result %d = %+v, want %s", i, res, want)
		}
	}

	res := deliver(t, polite, impolite.channel.Take())
	if res[0].Err != nil || res[0].Outcome != negotiation.OutcomeRolledBack {
		t.Fatalf("Polite result = %+v, want rolled back", res[0])
	}
	if n := polite.engine.Rollbacks(); n != 1 {
		t.Errorf("Polite rolled back %d times, want 1", n)
	}

	// The answer is followed by the restart offer sent again.
	msgs := polite.channel.Take()
	if len(msgs) != 2 {
		t.Fatalf("Polite sent %d messages, want answer and offer", len(msgs))
	}
	if d := msgs[0].Description; d == nil || d.Kind != negotiation.KindAnswer || msgs[0].Generation != 0 {
		t.Fatalf("First message = %v, want answer of generation 0", msgs[0])
	}
	if d := msgs[1].Description; d == nil || d.Kind != negotiation.KindOffer ||
		!strings.Contains(d.Payload, negotiationtest.RestartMarker) || msgs[1].Generation != 1 {
		t.Fatalf("Second message = %v, want restart offer of generation 1", msgs[1])
	}

	for _, res := range deliver(t, impolite, msgs) {
		if res.Err != nil || res.Outcome != negotiation.OutcomeAccepted {
			t.Fatalf("Impolite result = %+v, want accepted", res)
		}
	}
	deliver(t, polite, impolite.channel.Take())

	assertState(t, polite, negotiation.SignalingStateStable)
	assertState(t, impolite, negotiation.SignalingStateStable)

	for _, p := range []*testPeer{polite, impolite} {
		if local, remote := p.coord.Generation(); local != 1 || remote != 1 {
			t.Errorf("%s generation = %d/%d, want 1/1", p.name, local, remote)
		}
	}

	// Candidates of the live round are applied on both sides.
	mustOutcome(t, impolite.coord.LocalCandidate(&negotiation.IceCandidate{Payload: "i1"}), negotiation.OutcomeSent)
	mustOutcome(t, polite.coord.Deliver(impolite.channel.Take()[0]), negotiation.OutcomeApplied)

	mustOutcome(t, polite.coord.LocalCandidate(&negotiation.IceCandidate{Payload: "p1"}), negotiation.OutcomeSent)
	mustOutcome(t, impolite.coord.Deliver(polite.channel.Take()[0]), negotiation.OutcomeApplied)

	if errs := append(polite.surfaced(), impolite.surfaced()...); len(errs) != 0 {
		t.Errorf("Surfaced errors: %v", errs)
	}
}

func TestInstancesDoNotShareFlags(t *testing.T) {
	a := newTestPeer(t, "a", negotiation.RoleImpolite)
	b := newTestPeer(t, "b", negotiation.RoleImpolite)

	mustOutcome(t, a.coord.NegotiationNeeded(), negotiation.OutcomeSent)
	offer := negotiation.SessionDescription{Kind: negotiation.KindOffer, Payload: "x:offer:1:ufrag=0"}
	mustOutcome(t, a.coord.Deliver(negotiation.Message{Description: &offer}), negotiation.OutcomeIgnored)

	if b.coord.Flags() != (negotiation.Flags{}) {
		t.Errorf("Fresh instance has flags %+v", b.coord.Flags())
	}
}
