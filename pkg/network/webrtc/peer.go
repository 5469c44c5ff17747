package webrtc

import (
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/wavecall/callbridge/pkg/logger"
)

// RTPSource is a readable stream of RTP packets, i.e. an inbound
// media track of one peer connection.
type RTPSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Peer terminates one peer media connection (a call leg) at the bridge.
// Its outbound audio track is created upfront so that it is present in
// the SDP answer; inbound tracks are surfaced on the Inbound channel.
type Peer struct {
	name string
	api  *ApiFactory
	conn *webrtc.PeerConnection
	log  *logger.Logger

	audio  *webrtc.TrackLocalStaticRTP
	tracks chan RTPSource

	// gather makes Answer block until ICE gathering completes, for
	// peers that have no trickle channel (the calling API accepts
	// candidates only inside the SDP).
	gather bool
}

var errNoTrack = errors.New("no outbound audio track")

// New creates a leg peer. The onICECandidate callback receives every
// discovered candidate one at a time; passing nil switches the peer to
// full gathering mode where Answer returns a candidate-complete SDP.
func New(name string, api *ApiFactory, log *logger.Logger, onICECandidate func(webrtc.ICECandidateInit)) (*Peer, error) {
	conn, err := api.NewPeer()
	if err != nil {
		return nil, err
	}
	p := &Peer{
		name:   name,
		api:    api,
		conn:   conn,
		tracks: make(chan RTPSource, 2),
		gather: onICECandidate == nil,
	}
	p.log = log.Extend(log.With().Str("leg", name))

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "callbridge-"+name)
	if err != nil {
		return nil, err
	}
	sender, err := conn.AddTrack(audio)
	if err != nil {
		return nil, err
	}
	p.audio = audio
	// Read incoming RTCP packets
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()
	p.log.Debug().Msgf("Added [%s] track", audio.Codec().MimeType)

	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.log.Debug().Str("codec", track.Codec().MimeType).Msg("Inbound track")
		select {
		case p.tracks <- track:
		default:
			p.log.Warn().Msg("Inbound track dropped, the leg already has one")
		}
	})
	if onICECandidate != nil {
		conn.OnICECandidate(func(ice *webrtc.ICECandidate) {
			// ICE gathering finish condition
			if ice == nil {
				p.log.Debug().Msg("ICE gathering complete")
				return
			}
			candidate := ice.ToJSON()
			p.log.Debug().Str("candidate", candidate.Candidate).Msg("ICE")
			onICECandidate(candidate)
		})
	}
	conn.OnICEConnectionStateChange(p.handleICEState)
	return p, nil
}

// Answer applies the remote offer and produces the local SDP answer.
func (p *Peer) Answer(offer string) (string, error) {
	if err := p.conn.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		return "", err
	}
	p.log.Debug().Msg("Set remote description")

	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	var gathered <-chan struct{}
	if p.gather {
		gathered = webrtc.GatheringCompletePromise(p.conn)
	}
	if err = p.conn.SetLocalDescription(answer); err != nil {
		return "", err
	}
	if gathered != nil {
		<-gathered
	}
	local := p.conn.LocalDescription()
	if local == nil {
		return "", errors.New("no local description")
	}
	p.log.Debug().Msg("Created answer")
	return local.SDP, nil
}

func (p *Peer) AddCandidate(candidate webrtc.ICECandidateInit) error {
	if err := p.conn.AddICECandidate(candidate); err != nil {
		return err
	}
	p.log.Debug().Str("candidate", candidate.Candidate).Msg("Ice")
	return nil
}

// Inbound exposes remote tracks as they arrive on this leg.
func (p *Peer) Inbound() <-chan RTPSource { return p.tracks }

// WriteRTP feeds a relayed packet into the leg's outbound audio track.
func (p *Peer) WriteRTP(packet *rtp.Packet) error {
	if p.audio == nil {
		return errNoTrack
	}
	return p.audio.WriteRTP(packet)
}

func (p *Peer) handleICEState(state webrtc.ICEConnectionState) {
	p.log.Debug().Str(".state", state.String()).Msg("ICE")
	switch state {
	case webrtc.ICEConnectionStateConnected:
		p.log.Info().Msg("Connected")
	case webrtc.ICEConnectionStateFailed:
		p.log.Error().Msgf("WebRTC connection fail! connection: %v, ice: %v, gathering: %v, signalling: %v",
			p.conn.ConnectionState(), p.conn.ICEConnectionState(), p.conn.ICEGatheringState(),
			p.conn.SignalingState())
		p.Close()
	case webrtc.ICEConnectionStateClosed:
		p.Close()
	default:
	}
}

func (p *Peer) Close() {
	if p.conn == nil {
		return
	}
	if p.conn.ConnectionState() < webrtc.PeerConnectionStateDisconnected {
		// ignore this due to DTLS fatal: conn is closed
		_ = p.conn.Close()
	}
	p.log.Debug().Msg("WebRTC stop")
}
