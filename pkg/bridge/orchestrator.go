package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"

	"github.com/wavecall/callbridge/pkg/api"
	"github.com/wavecall/callbridge/pkg/config"
	"github.com/wavecall/callbridge/pkg/logger"
	"github.com/wavecall/callbridge/pkg/network/webrtc"
)

var (
	// ErrRemoteTrackTimeout marks a negotiation that never received
	// remote audio within the configured bound.
	ErrRemoteTrackTimeout = errors.New("remote track timeout")
	// ErrBusy rejects a second concurrent call while one is active.
	ErrBusy = errors.New("another call is in progress")
)

// Leg is one peer media connection terminated at the bridge. The
// production implementation wraps the WebRTC engine; tests substitute
// their own.
type Leg interface {
	Answer(offer string) (string, error)
	AddCandidate(candidate pion.ICECandidateInit) error
	Inbound() <-chan webrtc.RTPSource
	WriteRTP(p *rtp.Packet) error
	Close()
}

// LegFactory creates a named leg. A nil onICECandidate callback makes
// the leg gather candidates into its answer instead of trickling.
type LegFactory func(name string, onICECandidate func(pion.ICECandidateInit)) (Leg, error)

// CallAPI is the two-phase accept surface of the calling API.
type CallAPI interface {
	PreAccept(ctx context.Context, callId string, sdp string) error
	Accept(ctx context.Context, callId string, sdp string) error
	Reject(ctx context.Context, callId string) error
	Terminate(ctx context.Context, callId string) error
}

// Notifier delivers bridge events to the connected browser.
type Notifier interface {
	IncomingCall(callId string, callerName string, callerNumber string)
	Answer(sdp string)
	IceCandidate(candidate string)
	AudioReady()
	StartTimer()
	CallEnded(callId string)
}

// Orchestrator owns the session state machine: it correlates offers
// from both asynchronous sources, drives the two leg negotiations,
// relays tracks between them, and executes the prepare-then-commit
// handshake with the calling API.
type Orchestrator struct {
	mu      sync.Mutex
	log     *logger.Logger
	calls   CallAPI
	newLeg  LegFactory
	browser Notifier

	trackWait time.Duration
	settle    time.Duration

	s *session
}

func NewOrchestrator(conf config.Calling, calls CallAPI, legs LegFactory, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		log:       log.Extend(log.With().Str("m", "bridge")),
		calls:     calls,
		newLeg:    legs,
		trackWait: conf.RemoteTrackWait,
		settle:    conf.AcceptSettle,
	}
}

// State reports the current session state, StateIdle with no session.
func (o *Orchestrator) State() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s == nil {
		return StateIdle
	}
	return o.s.state.Current()
}

// ActiveCalls reports the number of sessions held by the bridge (0 or 1).
func (o *Orchestrator) ActiveCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s == nil {
		return 0
	}
	return 1
}

// AttachBrowser binds the most recently connected browser transport.
// A new connection silently supersedes any prior association.
func (o *Orchestrator) AttachBrowser(n Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.browser = n
	if o.s != nil && o.s.remoteOffer != "" && n != nil {
		n.IncomingCall(o.s.id, o.s.callerName, o.s.callerNumber)
	}
	o.maybeNegotiate()
}

// DetachBrowser drops the transport association, but only if it still
// points at the given notifier.
func (o *Orchestrator) DetachBrowser(n Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.browser == n {
		o.browser = nil
	}
}

// HandleConnect feeds a remote connect lifecycle event carrying the
// remote SDP offer into the state machine.
func (o *Orchestrator) HandleConnect(ev api.CallEvent, callerName string) error {
	if ev.Session == nil || ev.Session.Sdp == "" {
		return fmt.Errorf("connect event without session sdp")
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.s != nil && o.s.id != "" && o.s.id != ev.Id {
		// single-bridge design: a concurrent call is rejected outright
		o.log.Warn().Str("call", ev.Id).Msg("Rejecting a concurrent call")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := o.calls.Reject(ctx, ev.Id); err != nil {
				o.log.Error().Err(err).Str("call", ev.Id).Msg("busy reject failed")
			}
		}()
		return ErrBusy
	}
	if o.s == nil {
		o.s = newSession(ev.Id)
		metricActiveSessions.Inc()
	}
	s := o.s
	s.id = ev.Id
	if s.remoteOffer != "" {
		return nil // duplicate delivery
	}
	s.remoteOffer = normalizeSDP(ev.Session.Sdp)
	s.callerName = callerName
	s.callerNumber = ev.From
	if s.state.Is(StateIdle) {
		_ = s.state.Event(s.ctx, eventOffer)
	}
	o.log.Info().Str("call", s.id).Str("from", ev.From).Msg("Remote offer")
	if o.browser != nil {
		o.browser.IncomingCall(s.id, s.callerName, s.callerNumber)
	}
	o.maybeNegotiate()
	return nil
}

// HandleRemoteTerminate ends the session on a remote terminate
// lifecycle event.
func (o *Orchestrator) HandleRemoteTerminate(callId string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s == nil || (callId != "" && o.s.id != callId) {
		return
	}
	o.log.Info().Str("call", callId).Msg("Remote terminate")
	o.endLocked(eventTerminate)
}

// HandleBrowserOffer feeds the browser's SDP offer into the state
// machine. The session is created implicitly when the browser offer
// arrives before the remote connect event.
func (o *Orchestrator) HandleBrowserOffer(sdp string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s == nil {
		o.s = newSession("")
		metricActiveSessions.Inc()
	}
	s := o.s
	if s.browserOffer != "" {
		o.log.Warn().Msg("Duplicate browser offer ignored")
		return
	}
	s.browserOffer = sdp
	if s.state.Is(StateIdle) {
		_ = s.state.Event(s.ctx, eventOffer)
	}
	o.log.Info().Str("call", s.id).Msg("Browser offer")
	o.maybeNegotiate()
}

// HandleBrowserCandidate forwards one browser ICE candidate onto the
// browser leg. Candidates are relayed as discovered, never buffered.
func (o *Orchestrator) HandleBrowserCandidate(candidate string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s == nil || o.s.browserLeg == nil {
		o.log.Debug().Msg("Candidate before the leg exists, dropped")
		return
	}
	var init pion.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		o.log.Error().Err(err).Msg("malformed candidate")
		return
	}
	if err := o.s.browserLeg.AddCandidate(init); err != nil {
		o.log.Error().Err(err).Msg("couldn't add candidate")
	}
}

// HandleBrowserReject relays a browser reject request to the calling
// API and tears the session down.
func (o *Orchestrator) HandleBrowserReject(callId string) {
	o.endByBrowser(callId, api.ActionReject)
}

// HandleBrowserTerminate relays a browser hangup to the calling API
// and tears the session down.
func (o *Orchestrator) HandleBrowserTerminate(callId string) {
	o.endByBrowser(callId, api.ActionTerminate)
}

func (o *Orchestrator) endByBrowser(callId string, action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s == nil || (callId != "" && o.s.id != callId && o.s.id != "") {
		return
	}
	id := o.s.id
	if id == "" {
		id = callId
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var err error
		if action == api.ActionReject {
			err = o.calls.Reject(ctx, id)
		} else {
			err = o.calls.Terminate(ctx, id)
		}
		if err != nil {
			o.log.Error().Err(err).Str("call", id).Msgf("%s failed", action)
		}
	}()
	o.log.Info().Str("call", id).Msgf("Browser %s", action)
	o.endLocked(eventTerminate)
}

// maybeNegotiate starts negotiation when both offers are present and
// a browser transport is attached. Safe to call on every trigger,
// redundant calls are no-ops.
func (o *Orchestrator) maybeNegotiate() {
	s := o.s
	if s == nil || o.browser == nil || !s.hasBothOffers() || !s.state.Is(StateAwaitingOffers) {
		return
	}
	if err := s.state.Event(s.ctx, eventNegotiate); err != nil {
		return
	}
	metricCallsStarted.Inc()
	o.log.Info().Str("call", s.id).Msg("Negotiating")
	go o.negotiate(s)
}

// negotiate runs the full answer sequence for one session outside the lock;
// each step re-checks that the session is still alive before applying
// its result.
func (o *Orchestrator) negotiate(s *session) {
	browserLeg, err := o.newLeg("browser", o.relayBrowserIce)
	if err != nil {
		o.fail(s, err)
		return
	}
	if !o.adopt(s, func() { s.browserLeg = browserLeg }) {
		browserLeg.Close()
		return
	}
	remoteLeg, err := o.newLeg("remote", nil)
	if err != nil {
		o.fail(s, err)
		return
	}
	if !o.adopt(s, func() { s.remoteLeg = remoteLeg }) {
		remoteLeg.Close()
		return
	}

	// browser audio flows onto the remote leg as soon as it shows up
	go o.forwardBrowserAudio(s, browserLeg, remoteLeg)

	browserAnswer, err := browserLeg.Answer(s.browserOffer)
	if err != nil {
		o.fail(s, fmt.Errorf("browser leg: %w", err))
		return
	}
	// answering the remote leg starts its ICE/DTLS toward the
	// candidates carried in the remote offer; the remote side is the
	// passive one, so its audio may arrive before pre_accept
	remoteAnswer, err := remoteLeg.Answer(s.remoteOffer)
	if err != nil {
		o.fail(s, fmt.Errorf("remote leg: %w", err))
		return
	}

	select {
	case track := <-remoteLeg.Inbound():
		if !o.adopt(s, func() {
			s.relayedRemoteTrack = track
			go relay(o.log, track, browserLeg)
		}) {
			return
		}
	case <-time.After(o.trackWait):
		o.fail(s, ErrRemoteTrackTimeout)
		return
	case <-s.ctx.Done():
		return
	}

	o.mu.Lock()
	if !s.state.Is(StateNegotiating) {
		o.mu.Unlock()
		return
	}
	if o.browser != nil {
		o.browser.AudioReady()
		o.browser.Answer(browserAnswer)
	}
	o.mu.Unlock()

	remoteAnswer, err = assertActiveRole(remoteAnswer)
	if err != nil {
		o.fail(s, err)
		return
	}
	if err = o.calls.PreAccept(s.ctx, s.id, remoteAnswer); err != nil {
		o.fail(s, err)
		return
	}
	if !o.advance(s, eventPreAccept) {
		return
	}
	o.log.Info().Str("call", s.id).Msg("Pre-accepted")

	// let ICE/DTLS stabilize on both legs before committing
	select {
	case <-time.After(o.settle):
	case <-s.ctx.Done():
		return
	}
	if err = o.calls.Accept(s.ctx, s.id, remoteAnswer); err != nil {
		o.fail(s, err)
		return
	}
	if !o.advance(s, eventAccept) {
		return
	}
	metricCallsAnswered.Inc()
	o.mu.Lock()
	if o.browser != nil {
		o.browser.StartTimer()
	}
	o.mu.Unlock()
	o.log.Info().Str("call", s.id).Msg("Call is live")
}

// forwardBrowserAudio wires the browser's first inbound track into the
// remote leg, once.
func (o *Orchestrator) forwardBrowserAudio(s *session, from Leg, to Leg) {
	select {
	case track := <-from.Inbound():
		o.adopt(s, func() {
			if s.relayedBrowserTrack == nil {
				s.relayedBrowserTrack = track
				go relay(o.log, track, to)
			}
		})
	case <-s.ctx.Done():
	}
}

func (o *Orchestrator) relayBrowserIce(candidate pion.ICECandidateInit) {
	data, err := json.Marshal(candidate)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.browser != nil {
		o.browser.IceCandidate(string(data))
	}
}

// adopt applies a mutation to a still-live session; it reports false
// when the session was torn down meanwhile.
func (o *Orchestrator) adopt(s *session, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s != s || s.state.Is(StateTerminated) || s.state.Is(StateFailed) {
		return false
	}
	fn()
	return true
}

// advance fires a forward FSM event on a still-live session.
func (o *Orchestrator) advance(s *session, event string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s != s {
		return false
	}
	return s.state.Event(s.ctx, event) == nil
}

// fail converts any negotiation error into the failed state with full
// cleanup; the browser observes a single call-ended notification.
func (o *Orchestrator) fail(s *session, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s != s || s.state.Is(StateTerminated) || s.state.Is(StateFailed) {
		return
	}
	o.log.Error().Err(err).Str("call", s.id).Msg("Session failed")
	metricCallsFailed.Inc()
	o.endLocked(eventFail)
}

// endLocked fires the absorbing transition, notifies the browser, and
// releases every session resource. Callers hold the lock.
func (o *Orchestrator) endLocked(event string) {
	s := o.s
	if s == nil {
		return
	}
	_ = s.state.Event(s.ctx, event)
	if o.browser != nil {
		o.browser.CallEnded(s.id)
	}
	s.release()
	o.s = nil
	metricActiveSessions.Dec()
}
