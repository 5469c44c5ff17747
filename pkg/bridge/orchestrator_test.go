package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"

	"github.com/wavecall/callbridge/pkg/api"
	"github.com/wavecall/callbridge/pkg/config"
	"github.com/wavecall/callbridge/pkg/logger"
	"github.com/wavecall/callbridge/pkg/network/webrtc"
)

const testSdp = "v=0\r\n" +
	"o=- 3945750782 3945750782 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=setup:actpass\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

type fakeTrack struct{}

func (fakeTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("drained")
}

type fakeLeg struct {
	name    string
	tracks  chan webrtc.RTPSource
	answers string
	closed  bool
	mu      sync.Mutex
}

func newFakeLeg(name string) *fakeLeg {
	return &fakeLeg{name: name, tracks: make(chan webrtc.RTPSource, 2)}
}

func (l *fakeLeg) Answer(offer string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.answers = offer
	return testSdp, nil
}
func (l *fakeLeg) AddCandidate(pion.ICECandidateInit) error { return nil }
func (l *fakeLeg) Inbound() <-chan webrtc.RTPSource         { return l.tracks }
func (l *fakeLeg) WriteRTP(*rtp.Packet) error               { return nil }
func (l *fakeLeg) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

type apiCall struct {
	action string
	callId string
	sdp    string
}

type fakeAPI struct {
	mu         sync.Mutex
	calls      []apiCall
	failAction string
}

func (a *fakeAPI) record(action, callId, sdp string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, apiCall{action, callId, sdp})
	if a.failAction == action {
		return errors.New(action + " denied")
	}
	return nil
}
func (a *fakeAPI) PreAccept(_ context.Context, id, sdp string) error {
	return a.record(api.ActionPreAccept, id, sdp)
}
func (a *fakeAPI) Accept(_ context.Context, id, sdp string) error {
	return a.record(api.ActionAccept, id, sdp)
}
func (a *fakeAPI) Reject(_ context.Context, id string) error {
	return a.record(api.ActionReject, id, "")
}
func (a *fakeAPI) Terminate(_ context.Context, id string) error {
	return a.record(api.ActionTerminate, id, "")
}
func (a *fakeAPI) snapshot() []apiCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]apiCall(nil), a.calls...)
}

func (a *fakeAPI) actions() (out []string) {
	for _, c := range a.snapshot() {
		out = append(out, c.action)
	}
	return
}

type fakeBrowser struct {
	mu     sync.Mutex
	events []string
	answer string
	ended  chan struct{}
	timer  chan struct{}
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{ended: make(chan struct{}, 1), timer: make(chan struct{}, 1)}
}

func (b *fakeBrowser) push(ev string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}
func (b *fakeBrowser) IncomingCall(string, string, string) { b.push("incoming") }
func (b *fakeBrowser) Answer(sdp string) {
	b.mu.Lock()
	b.answer = sdp
	b.mu.Unlock()
	b.push("answer")
}
func (b *fakeBrowser) IceCandidate(string) { b.push("ice") }
func (b *fakeBrowser) AudioReady()         { b.push("audio") }
func (b *fakeBrowser) StartTimer() {
	b.push("timer")
	select {
	case b.timer <- struct{}{}:
	default:
	}
}
func (b *fakeBrowser) CallEnded(string) {
	b.push("ended")
	select {
	case b.ended <- struct{}{}:
	default:
	}
}
func (b *fakeBrowser) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

type harness struct {
	o       *Orchestrator
	calls   *fakeAPI
	browser *fakeBrowser
	legs    map[string]*fakeLeg
	mu      sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{calls: &fakeAPI{}, browser: newFakeBrowser(), legs: map[string]*fakeLeg{}}
	factory := func(name string, _ func(pion.ICECandidateInit)) (Leg, error) {
		leg := newFakeLeg(name)
		h.mu.Lock()
		h.legs[name] = leg
		h.mu.Unlock()
		return leg, nil
	}
	conf := config.Calling{RemoteTrackWait: 200 * time.Millisecond, AcceptSettle: time.Millisecond}
	h.o = NewOrchestrator(conf, h.calls, factory, logger.Default())
	return h
}

func (h *harness) leg(name string) *fakeLeg {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		leg := h.legs[name]
		h.mu.Unlock()
		if leg != nil {
			return leg
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func connectEvent(id string) api.CallEvent {
	return api.CallEvent{
		Id:      id,
		Event:   api.CallEventConnect,
		From:    "15551230001",
		Session: &api.SdpSession{SdpType: "offer", Sdp: testSdp},
	}
}

func waitState(t *testing.T, o *Orchestrator, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state %q never reached, stuck in %q", want, o.State())
}

func TestOrchestrator(t *testing.T) {
	t.Run("AnswerFlow", func(t *testing.T) {
		t.Run("RemoteOfferFirst", testAnswerRemoteFirst)
		t.Run("BrowserOfferFirst", testAnswerBrowserFirst)
	})
	t.Run("Guards", func(t *testing.T) {
		t.Run("SecondCallRejected", testSecondCallRejected)
		t.Run("NoBrowserNoNegotiation", testNoBrowserNoNegotiation)
	})
	t.Run("Failure", func(t *testing.T) {
		t.Run("RemoteTrackTimeout", testRemoteTrackTimeout)
		t.Run("PreAcceptDenied", testPreAcceptDenied)
	})
	t.Run("Teardown", func(t *testing.T) {
		t.Run("RemoteTerminate", testRemoteTerminate)
		t.Run("BrowserHangup", testBrowserHangup)
		t.Run("NewCallAfterFailure", testNewCallAfterFailure)
	})
}

func runToAccepted(t *testing.T, h *harness, remoteFirst bool) {
	t.Helper()
	h.o.AttachBrowser(h.browser)
	if remoteFirst {
		if err := h.o.HandleConnect(connectEvent("call-1"), "Ann"); err != nil {
			t.Fatal(err)
		}
		h.o.HandleBrowserOffer(testSdp)
	} else {
		h.o.HandleBrowserOffer(testSdp)
		if err := h.o.HandleConnect(connectEvent("call-1"), "Ann"); err != nil {
			t.Fatal(err)
		}
	}
	remote := h.leg("remote")
	if remote == nil {
		t.Fatal("remote leg never created")
	}
	remote.tracks <- fakeTrack{}
	waitState(t, h.o, StateAccepted)
}

func testAnswerRemoteFirst(t *testing.T) {
	h := newHarness(t)
	runToAccepted(t, h, true)

	actions := h.calls.actions()
	if len(actions) != 2 || actions[0] != api.ActionPreAccept || actions[1] != api.ActionAccept {
		t.Fatalf("wrong action order: %v", actions)
	}
	// the SDP sent upstream must carry the rewritten DTLS role
	for _, c := range h.calls.snapshot() {
		if c.sdp != "" && !strings.Contains(c.sdp, "a=setup:active") {
			t.Errorf("%s sdp kept a passive role: %q", c.action, c.sdp)
		}
	}
	<-h.browser.timer

	// audio readiness and the answer precede the timer start
	seen := h.browser.seen()
	if idx(seen, "audio") == -1 || idx(seen, "answer") == -1 {
		t.Fatalf("browser missed notifications: %v", seen)
	}
	if idx(seen, "audio") > idx(seen, "timer") || idx(seen, "answer") > idx(seen, "timer") {
		t.Errorf("wrong notification order: %v", seen)
	}
}

func testAnswerBrowserFirst(t *testing.T) {
	h := newHarness(t)
	runToAccepted(t, h, false)
	if got := h.o.State(); got != StateAccepted {
		t.Fatalf("expected accepted, got %v", got)
	}
}

func testSecondCallRejected(t *testing.T) {
	h := newHarness(t)
	h.o.AttachBrowser(h.browser)
	if err := h.o.HandleConnect(connectEvent("call-1"), ""); err != nil {
		t.Fatal(err)
	}
	if err := h.o.HandleConnect(connectEvent("call-2"), ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	// the reject goes out asynchronously
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, c := range h.calls.actions() {
			if c == api.ActionReject {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("second call was never rejected upstream")
}

func testNoBrowserNoNegotiation(t *testing.T) {
	h := newHarness(t)
	if err := h.o.HandleConnect(connectEvent("call-1"), ""); err != nil {
		t.Fatal(err)
	}
	h.o.HandleBrowserOffer(testSdp)
	time.Sleep(20 * time.Millisecond)
	if got := h.o.State(); got != StateAwaitingOffers {
		t.Fatalf("negotiation started without a browser: %v", got)
	}
	h.o.AttachBrowser(h.browser)
	waitState(t, h.o, StateNegotiating)
}

func testRemoteTrackTimeout(t *testing.T) {
	h := newHarness(t)
	h.o.AttachBrowser(h.browser)
	_ = h.o.HandleConnect(connectEvent("call-1"), "")
	h.o.HandleBrowserOffer(testSdp)
	// no track is ever pushed
	<-h.browser.ended
	waitState(t, h.o, StateIdle)
	for _, a := range h.calls.actions() {
		if a == api.ActionPreAccept || a == api.ActionAccept {
			t.Fatalf("accepted a call with no remote audio: %v", h.calls.actions())
		}
	}
	if leg := h.leg("browser"); leg != nil && !legClosed(leg) {
		t.Error("browser leg left open after failure")
	}
}

func testPreAcceptDenied(t *testing.T) {
	h := newHarness(t)
	h.calls.failAction = api.ActionPreAccept
	h.o.AttachBrowser(h.browser)
	_ = h.o.HandleConnect(connectEvent("call-1"), "")
	h.o.HandleBrowserOffer(testSdp)
	h.leg("remote").tracks <- fakeTrack{}
	<-h.browser.ended
	waitState(t, h.o, StateIdle)
	for _, a := range h.calls.actions() {
		if a == api.ActionAccept {
			t.Fatal("accept after a denied pre_accept")
		}
	}
}

func testRemoteTerminate(t *testing.T) {
	h := newHarness(t)
	runToAccepted(t, h, true)
	h.o.HandleRemoteTerminate("call-1")
	waitState(t, h.o, StateIdle)
	<-h.browser.ended
	if !legClosed(h.leg("remote")) || !legClosed(h.leg("browser")) {
		t.Error("legs left open after terminate")
	}
}

func testBrowserHangup(t *testing.T) {
	h := newHarness(t)
	runToAccepted(t, h, true)
	h.o.HandleBrowserTerminate("call-1")
	waitState(t, h.o, StateIdle)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, a := range h.calls.actions() {
			if a == api.ActionTerminate {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("hangup never relayed upstream")
}

func testNewCallAfterFailure(t *testing.T) {
	h := newHarness(t)
	h.o.AttachBrowser(h.browser)
	_ = h.o.HandleConnect(connectEvent("call-1"), "")
	h.o.HandleBrowserOffer(testSdp)
	<-h.browser.ended // track timeout
	waitState(t, h.o, StateIdle)

	// a fresh call takes a fresh session
	h.mu.Lock()
	h.legs = map[string]*fakeLeg{}
	h.mu.Unlock()
	if err := h.o.HandleConnect(connectEvent("call-2"), ""); err != nil {
		t.Fatal(err)
	}
	h.o.HandleBrowserOffer(testSdp)
	h.leg("remote").tracks <- fakeTrack{}
	waitState(t, h.o, StateAccepted)
}

func legClosed(l *fakeLeg) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func idx(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
