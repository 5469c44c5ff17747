// Package api defines the wire API of the bridge: the browser socket
// packet protocol, the calling API webhook payloads, and the calling
// API call-action requests.
//
// Each browser packet is a JSON-encoded structure:
//
//	id - (optional) a globally unique packet id;
//	 t - (required) one of the predefined unique packet types;
//	 p - (optional) packet payload with arbitrary data.
//
// Packets differentiate by their predefined types with which it is
// possible to unwrap the payload into distinct request/response data
// structures in a second unmarshal pass.
package api

import (
	"encoding/json"

	"github.com/wavecall/callbridge/pkg/network"
)

type PT uint8

type In struct {
	Id      network.Uid     `json:"id,omitempty"`
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // 2-pass unmarshal
}

type Out struct {
	Id      string `json:"id,omitempty"`
	T       PT     `json:"t"`
	Payload any    `json:"p,omitempty"`
}

// Packet codes:
//
//	1xx - browser -> bridge
//	2xx - bridge -> browser
const (
	Offer         PT = 101
	IceCandidate  PT = 102
	RejectCall    PT = 103
	TerminateCall PT = 104

	IncomingCall PT = 201
	Answer       PT = 202
	RemoteIce    PT = 203
	AudioReady   PT = 204
	StartTimer   PT = 205
	CallEnded    PT = 206
)

func (p PT) String() string {
	switch p {
	case Offer:
		return "Offer"
	case IceCandidate:
		return "IceCandidate"
	case RejectCall:
		return "RejectCall"
	case TerminateCall:
		return "TerminateCall"
	case IncomingCall:
		return "IncomingCall"
	case Answer:
		return "Answer"
	case RemoteIce:
		return "RemoteIce"
	case AudioReady:
		return "AudioReady"
	case StartTimer:
		return "StartTimer"
	case CallEnded:
		return "CallEnded"
	default:
		return "Unknown"
	}
}

// Unwrap decodes the typed payload of an inbound packet.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
