package bridge

import (
	"context"
	"fmt"
	"net/http"

	pion "github.com/pion/webrtc/v4"

	"github.com/wavecall/callbridge/pkg/calling"
	"github.com/wavecall/callbridge/pkg/config"
	"github.com/wavecall/callbridge/pkg/logger"
	"github.com/wavecall/callbridge/pkg/monitoring"
	"github.com/wavecall/callbridge/pkg/network/httpx"
	"github.com/wavecall/callbridge/pkg/network/websocket"
	"github.com/wavecall/callbridge/pkg/network/webrtc"
	"github.com/wavecall/callbridge/pkg/service"
)

// Bridge is the application service: the HTTP surface (webhook,
// browser websocket, static client) plus the orchestrator behind it.
type Bridge struct {
	conf     config.BridgeConfig
	orc      *Orchestrator
	services service.Group
	log      *logger.Logger
}

func New(conf config.BridgeConfig, log *logger.Logger) (*Bridge, error) {
	factory, err := webrtc.NewApiFactory(conf.Webrtc, log, nil)
	if err != nil {
		return nil, fmt.Errorf("webrtc init fail: %w", err)
	}
	legs := func(name string, onICECandidate func(pion.ICECandidateInit)) (Leg, error) {
		return webrtc.New(name, factory, log, onICECandidate)
	}
	orc := NewOrchestrator(conf.Calling, calling.New(conf.Calling, log), legs, log)
	hook := newWebhook(conf.Calling, orc, log)

	b := &Bridge{conf: conf, orc: orc, log: log}

	srv, err := httpx.NewServer(
		conf.Bridge.Server.GetAddr(),
		func(*httpx.Server) httpx.Handler {
			h := http.NewServeMux()
			h.HandleFunc("/webhook", hook.handle)
			h.HandleFunc("/ws", b.handleBrowserConnection)
			h.HandleFunc("/ice", b.handleIceConfig)
			h.HandleFunc("/health", b.handleHealth)
			h.HandleFunc("/status", b.handleStatus)
			if dir := conf.Bridge.WebDir; dir != "" {
				h.Handle("/", httpx.FileServer(dir))
			}
			return h
		},
		httpx.WithServerConfig(conf.Bridge.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	b.services.Add(srv)
	if conf.Bridge.Monitoring.IsEnabled() {
		b.services.Add(monitoring.New(conf.Bridge.Monitoring, "bridge", log))
	}
	return b, nil
}

func (b *Bridge) Start() { b.services.Start() }

func (b *Bridge) Shutdown(ctx context.Context) error { return b.services.Shutdown(ctx) }

func (b *Bridge) handleBrowserConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.NewServer(w, r, b.log)
	if err != nil {
		b.log.Error().Err(err).Msg("browser connection fail")
		return
	}
	go newBrowserClient(ws, b.orc, b.log).listen()
}

// handleIceConfig hands the browser the STUN/TURN server list it
// should construct its peer connection with.
func (b *Bridge) handleIceConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(b.conf.Webrtc.Serialize()))
}

func (b *Bridge) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (b *Bridge) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"state":%q,"calls":%d}`, b.orc.State(), b.orc.ActiveCalls())
}
