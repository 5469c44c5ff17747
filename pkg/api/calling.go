package api

// The calling API surface: webhook events consumed by the bridge and
// call-action requests produced against the calls endpoint.

// Call lifecycle webhook events.
const (
	CallEventConnect   = "connect"
	CallEventTerminate = "terminate"
)

type (
	WebhookPayload struct {
		Object string         `json:"object"`
		Entry  []WebhookEntry `json:"entry"`
	}
	WebhookEntry struct {
		Id      string          `json:"id"`
		Changes []WebhookChange `json:"changes"`
	}
	WebhookChange struct {
		Field string       `json:"field"`
		Value WebhookValue `json:"value"`
	}
	WebhookValue struct {
		MessagingProduct string      `json:"messaging_product"`
		Calls            []CallEvent `json:"calls"`
		Contacts         []Contact   `json:"contacts"`
	}
	// CallEvent is a single call lifecycle change keyed by the call id.
	CallEvent struct {
		Id        string      `json:"id"`
		Event     string      `json:"event"`
		Direction string      `json:"direction"`
		From      string      `json:"from"`
		To        string      `json:"to"`
		Timestamp string      `json:"timestamp"`
		Session   *SdpSession `json:"session,omitempty"`
		Duration  int         `json:"duration,omitempty"`
		Status    string      `json:"status,omitempty"`
	}
	Contact struct {
		WaId    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	}
	SdpSession struct {
		SdpType string `json:"sdp_type"`
		Sdp     string `json:"sdp"`
	}
)

// Call actions of the two-phase accept protocol.
const (
	ActionPreAccept = "pre_accept"
	ActionAccept    = "accept"
	ActionReject    = "reject"
	ActionTerminate = "terminate"
)

type (
	// CallActionRequest is the POST body of the calls endpoint.
	CallActionRequest struct {
		MessagingProduct string      `json:"messaging_product"`
		CallId           string      `json:"call_id"`
		Action           string      `json:"action"`
		Session          *SdpSession `json:"session,omitempty"`
		CallbackData     string      `json:"biz_opaque_callback_data,omitempty"`
	}
	CallActionResponse struct {
		Success bool `json:"success"`
	}
)

// Caller resolves the display name of the call initiator.
func (v *WebhookValue) Caller(number string) string {
	for _, c := range v.Contacts {
		if c.WaId == number {
			return c.Profile.Name
		}
	}
	return ""
}
