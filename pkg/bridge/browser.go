package bridge

import (
	"encoding/json"

	"github.com/wavecall/callbridge/pkg/api"
	"github.com/wavecall/callbridge/pkg/logger"
	"github.com/wavecall/callbridge/pkg/network/websocket"
)

// browserClient adapts one browser websocket connection to the
// orchestrator: inbound packets become handler calls, orchestrator
// notifications become outbound packets.
type browserClient struct {
	ws  *websocket.WS
	o   *Orchestrator
	log *logger.Logger
}

func newBrowserClient(ws *websocket.WS, o *Orchestrator, log *logger.Logger) *browserClient {
	return &browserClient{
		ws:  ws,
		o:   o,
		log: log.Extend(log.With().Str("ws", ws.Id().Short())),
	}
}

// listen attaches the client to the orchestrator, pumps messages until
// the connection dies, then detaches. Blocking.
func (c *browserClient) listen() {
	c.ws.OnMessage = c.route
	c.ws.Listen()
	c.o.AttachBrowser(c)
	<-c.ws.Done
	c.o.DetachBrowser(c)
	c.log.Debug().Msg("Browser disconnected")
}

func (c *browserClient) route(message []byte, err error) {
	if err != nil {
		return
	}
	var in api.In
	if err := json.Unmarshal(message, &in); err != nil {
		c.log.Error().Err(err).Msg("malformed packet")
		return
	}
	c.log.Debug().Str(logger.DirectionField, "←").Msgf("%s", in.T)
	switch in.T {
	case api.Offer:
		if req := api.Unwrap[api.OfferRequest](in.Payload); req != nil {
			c.o.HandleBrowserOffer(req.Sdp)
		} else {
			c.log.Error().Msg("broken offer")
		}
	case api.IceCandidate:
		if req := api.Unwrap[api.IceCandidateRequest](in.Payload); req != nil {
			c.o.HandleBrowserCandidate(req.Candidate)
		} else {
			c.log.Error().Msg("broken candidate")
		}
	case api.RejectCall:
		if req := api.Unwrap[api.CallRequest](in.Payload); req != nil {
			c.o.HandleBrowserReject(req.CallId)
		}
	case api.TerminateCall:
		if req := api.Unwrap[api.CallRequest](in.Payload); req != nil {
			c.o.HandleBrowserTerminate(req.CallId)
		}
	default:
		c.log.Warn().Msgf("Unknown packet: %v", in.T)
	}
}

func (c *browserClient) send(t api.PT, payload any) {
	data, err := json.Marshal(api.Out{T: t, Payload: payload})
	if err != nil {
		c.log.Error().Err(err).Msgf("couldn't marshal %s", t)
		return
	}
	c.log.Debug().Str(logger.DirectionField, "→").Msgf("%s", t)
	c.ws.Write(data)
}

func (c *browserClient) IncomingCall(callId string, callerName string, callerNumber string) {
	c.send(api.IncomingCall, api.IncomingCallNotice{CallId: callId, CallerName: callerName, CallerNumber: callerNumber})
}

func (c *browserClient) Answer(sdp string) {
	c.send(api.Answer, api.AnswerResponse{Sdp: sdp})
}

func (c *browserClient) IceCandidate(candidate string) {
	c.send(api.RemoteIce, api.RemoteIceCandidate{Candidate: candidate})
}

func (c *browserClient) AudioReady() { c.send(api.AudioReady, nil) }

func (c *browserClient) StartTimer() { c.send(api.StartTimer, nil) }

func (c *browserClient) CallEnded(callId string) {
	c.send(api.CallEnded, api.CallEndedNotice{CallId: callId})
}
