package bridge

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/wavecall/callbridge/pkg/network/webrtc"
)

// Session states, forward-only except the two absorbing ones.
const (
	StateIdle           = "idle"
	StateAwaitingOffers = "awaiting_offers"
	StateNegotiating    = "negotiating"
	StatePreAccepted    = "pre_accepted"
	StateAccepted       = "accepted"
	StateTerminated     = "terminated"
	StateFailed         = "failed"
)

const (
	eventOffer     = "offer"
	eventNegotiate = "negotiate"
	eventPreAccept = "pre_accept"
	eventAccept    = "accept"
	eventTerminate = "terminate"
	eventFail      = "fail"
)

var liveStates = []string{
	StateIdle, StateAwaitingOffers, StateNegotiating, StatePreAccepted, StateAccepted,
}

// session is the unit of state for one active call bridge. The
// orchestrator exclusively owns it together with both legs; it is
// discarded as a whole on cleanup.
type session struct {
	id           string
	callerName   string
	callerNumber string

	browserOffer string
	remoteOffer  string

	browserLeg Leg
	remoteLeg  Leg

	// relation-only markers of the tracks already being forwarded,
	// guard against duplicate relay wiring
	relayedBrowserTrack webrtc.RTPSource
	relayedRemoteTrack  webrtc.RTPSource

	state *fsm.FSM

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(id string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		state: fsm.NewFSM(
			StateIdle,
			fsm.Events{
				{Name: eventOffer, Src: []string{StateIdle}, Dst: StateAwaitingOffers},
				{Name: eventNegotiate, Src: []string{StateAwaitingOffers}, Dst: StateNegotiating},
				{Name: eventPreAccept, Src: []string{StateNegotiating}, Dst: StatePreAccepted},
				{Name: eventAccept, Src: []string{StatePreAccepted}, Dst: StateAccepted},
				{Name: eventTerminate, Src: liveStates, Dst: StateTerminated},
				{Name: eventFail, Src: liveStates, Dst: StateFailed},
			},
			fsm.Callbacks{},
		),
	}
}

func (s *session) hasBothOffers() bool { return s.browserOffer != "" && s.remoteOffer != "" }

// release closes both legs and empties every session field, making
// the process ready for a brand-new session.
func (s *session) release() {
	s.cancel()
	if s.browserLeg != nil {
		s.browserLeg.Close()
		s.browserLeg = nil
	}
	if s.remoteLeg != nil {
		s.remoteLeg.Close()
		s.remoteLeg = nil
	}
	s.browserOffer = ""
	s.remoteOffer = ""
	s.relayedBrowserTrack = nil
	s.relayedRemoteTrack = nil
	s.callerName = ""
	s.callerNumber = ""
}
