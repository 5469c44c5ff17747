package bridge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/wavecall/callbridge/pkg/api"
	"github.com/wavecall/callbridge/pkg/config"
	"github.com/wavecall/callbridge/pkg/logger"
)

const signatureHeader = "X-Hub-Signature-256"

// webhook terminates the calling API's eventing: endpoint
// verification handshakes and call lifecycle notifications.
type webhook struct {
	o      *Orchestrator
	token  string
	secret string
	log    *logger.Logger
}

func newWebhook(conf config.Calling, o *Orchestrator, log *logger.Logger) *webhook {
	return &webhook{
		o:      o,
		token:  conf.VerifyToken,
		secret: conf.WebhookSecret,
		log:    log.Extend(log.With().Str("m", "hook")),
	}
}

func (h *webhook) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verify(w, r)
	case http.MethodPost:
		h.receive(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verify answers the subscription handshake by echoing the challenge
// when the token matches.
func (h *webhook) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.token {
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	h.log.Warn().Msg("Webhook verification denied")
	w.WriteHeader(http.StatusForbidden)
}

// receive handles one event notification. Events are always
// acknowledged with 200 so the sender won't retry them, even when the
// payload is unusable.
func (h *webhook) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.log.Error().Err(err).Msg("webhook read fail")
		w.WriteHeader(http.StatusOK)
		return
	}
	if !h.authentic(r.Header.Get(signatureHeader), body) {
		h.log.Warn().Msg("Webhook signature mismatch")
		w.WriteHeader(http.StatusForbidden)
		return
	}
	var payload api.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Error().Err(err).Msg("malformed webhook")
		w.WriteHeader(http.StatusOK)
		return
	}
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			h.dispatch(change.Value)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// authentic checks the hex HMAC-SHA256 body signature. An empty
// configured secret disables the check.
func (h *webhook) authentic(signature string, body []byte) bool {
	if h.secret == "" {
		return true
	}
	digest, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	return hmac.Equal([]byte(digest), []byte(hex.EncodeToString(mac.Sum(nil))))
}

func (h *webhook) dispatch(value api.WebhookValue) {
	for _, ev := range value.Calls {
		h.log.Info().Str("call", ev.Id).Msgf("Event %s", ev.Event)
		switch ev.Event {
		case api.CallEventConnect:
			if err := h.o.HandleConnect(ev, value.Caller(ev.From)); err != nil {
				h.log.Warn().Err(err).Str("call", ev.Id).Msg("connect not handled")
			}
		case api.CallEventTerminate:
			h.o.HandleRemoteTerminate(ev.Id)
		default:
			h.log.Debug().Msgf("Skipped event: %s", ev.Event)
		}
	}
}
