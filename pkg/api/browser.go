package api

// Browser-bound and browser-issued packet payloads.

type (
	OfferRequest struct {
		Sdp string `json:"sdp"`
	}
	IceCandidateRequest struct {
		Candidate string `json:"candidate"`
	}
	CallRequest struct {
		CallId string `json:"call_id"`
	}

	IncomingCallNotice struct {
		CallId       string `json:"call_id"`
		CallerName   string `json:"caller_name"`
		CallerNumber string `json:"caller_number"`
	}
	AnswerResponse struct {
		Sdp string `json:"sdp"`
	}
	RemoteIceCandidate struct {
		Candidate string `json:"candidate"`
	}
	CallEndedNotice struct {
		CallId string `json:"call_id"`
	}
)
