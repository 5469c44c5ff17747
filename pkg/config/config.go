package config

import (
	"encoding/json"
	"time"

	flag "github.com/spf13/pflag"
)

type (
	BridgeConfig struct {
		Bridge  Bridge
		Calling Calling
		Webrtc  Webrtc
		Version Version
	}
	Bridge struct {
		Debug      bool
		Monitoring Monitoring
		Server     Server
		// path to the static web client, empty disables serving
		WebDir string
	}
	// Calling holds the remote calling API parameters and the
	// call-bridge timing bounds.
	Calling struct {
		// base URL of the calling API, e.g. https://graph.example.com/v18.0
		Endpoint string
		// the phone number (line) identifier the calls endpoint is keyed by
		PhoneNumberID string
		AccessToken   string
		// webhook subscription verification token
		VerifyToken string
		// app secret for the webhook HMAC signature, empty disables the check
		WebhookSecret    string
		MessagingProduct string `fig:"messagingproduct" default:"whatsapp"`
		// how long the bridge waits for the first remote audio track
		RemoteTrackWait time.Duration `fig:"remotetrackwait" default:"10s"`
		// pause between pre_accept and accept to let ICE/DTLS settle
		AcceptSettle time.Duration `fig:"acceptsettle" default:"1s"`
	}
	Monitoring struct {
		Port             int
		URLPrefix        string
		MetricEnabled    bool
		ProfilingEnabled bool
	}
	Server struct {
		Address string
		Https   bool
		Tls     struct {
			Address   string
			Domain    string
			HttpsKey  string
			HttpsCert string
		}
	}
	Version int
)

type Webrtc struct {
	DisableDefaultInterceptors bool
	IceServers                 []IceServer
	IcePorts                   struct {
		Min uint16
		Max uint16
	}
	IceIpMap   string
	SinglePort int
	LogLevel   int
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (w *Webrtc) HasPortRange() bool  { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasSinglePort() bool { return w.SinglePort > 0 }
func (w *Webrtc) HasIceIpMap() bool   { return w.IceIpMap != "" }

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

// allows custom config path
var bridgeConfigPath string

func NewBridgeConfig() (conf BridgeConfig) {
	if err := LoadConfig(&conf, bridgeConfigPath); err != nil {
		panic(err)
	}
	return
}

func (c *BridgeConfig) ParseFlags() {
	fs := flag.CommandLine
	fs.StringVar(&c.Bridge.Server.Address, "address", c.Bridge.Server.Address, "HTTP server address (host:port)")
	fs.StringVar(&c.Bridge.Server.Tls.Address, "httpsAddress", c.Bridge.Server.Tls.Address, "HTTPS server address (host:port)")
	fs.StringVar(&c.Bridge.Server.Tls.HttpsKey, "httpsKey", c.Bridge.Server.Tls.HttpsKey, "HTTPS key")
	fs.StringVar(&c.Bridge.Server.Tls.HttpsCert, "httpsCert", c.Bridge.Server.Tls.HttpsCert, "HTTPS chain")
	fs.IntVar(&c.Bridge.Monitoring.Port, "monitoring.port", c.Bridge.Monitoring.Port, "Monitoring server port")
	fs.StringVar(&bridgeConfigPath, "conf", bridgeConfigPath, "Set custom configuration file path")
	flag.Parse()
}

// Serialize exports the browser-facing part of the ICE config.
func (w *Webrtc) Serialize() string {
	if len(w.IceServers) == 0 {
		return "[]"
	}
	data, err := json.Marshal(w.IceServers)
	if err != nil {
		return "[]"
	}
	return string(data)
}
