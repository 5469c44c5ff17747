package bridge

import "testing"

func TestSessionStates(t *testing.T) {
	t.Run("ForwardOnly", func(t *testing.T) {
		s := newSession("c1")
		defer s.release()
		steps := []struct {
			event string
			want  string
		}{
			{eventOffer, StateAwaitingOffers},
			{eventNegotiate, StateNegotiating},
			{eventPreAccept, StatePreAccepted},
			{eventAccept, StateAccepted},
		}
		for _, st := range steps {
			if err := s.state.Event(s.ctx, st.event); err != nil {
				t.Fatalf("%s refused in %s: %v", st.event, s.state.Current(), err)
			}
			if got := s.state.Current(); got != st.want {
				t.Fatalf("after %s got %s, want %s", st.event, got, st.want)
			}
		}
	})

	t.Run("NoSkipping", func(t *testing.T) {
		s := newSession("c1")
		defer s.release()
		if err := s.state.Event(s.ctx, eventAccept); err == nil {
			t.Fatal("accept allowed from idle")
		}
		if err := s.state.Event(s.ctx, eventPreAccept); err == nil {
			t.Fatal("pre_accept allowed from idle")
		}
	})

	t.Run("TerminateIsAbsorbing", func(t *testing.T) {
		s := newSession("c1")
		defer s.release()
		_ = s.state.Event(s.ctx, eventOffer)
		if err := s.state.Event(s.ctx, eventTerminate); err != nil {
			t.Fatal(err)
		}
		if err := s.state.Event(s.ctx, eventNegotiate); err == nil {
			t.Fatal("negotiate allowed after terminate")
		}
		if got := s.state.Current(); got != StateTerminated {
			t.Fatalf("got %s", got)
		}
	})

	t.Run("FailFromAnyLiveState", func(t *testing.T) {
		for _, prep := range [][]string{
			{},
			{eventOffer},
			{eventOffer, eventNegotiate},
			{eventOffer, eventNegotiate, eventPreAccept},
			{eventOffer, eventNegotiate, eventPreAccept, eventAccept},
		} {
			s := newSession("c1")
			for _, ev := range prep {
				_ = s.state.Event(s.ctx, ev)
			}
			if err := s.state.Event(s.ctx, eventFail); err != nil {
				t.Fatalf("fail refused in %s: %v", s.state.Current(), err)
			}
			s.release()
		}
	})

	t.Run("ReleaseCancelsContext", func(t *testing.T) {
		s := newSession("c1")
		s.release()
		select {
		case <-s.ctx.Done():
		default:
			t.Fatal("context still live after release")
		}
	})

	t.Run("BothOffers", func(t *testing.T) {
		s := newSession("c1")
		defer s.release()
		if s.hasBothOffers() {
			t.Fatal("no offers yet")
		}
		s.browserOffer = "v=0"
		if s.hasBothOffers() {
			t.Fatal("remote offer missing")
		}
		s.remoteOffer = "v=0"
		if !s.hasBothOffers() {
			t.Fatal("both offers present")
		}
	})
}
