package config

import (
	"os"
	"testing"
	"time"
)

func TestConfigEnv(t *testing.T) {
	var out BridgeConfig

	_ = os.Setenv("WAVECALL_CALLING_ACCESSTOKEN", "tkn")
	_ = os.Setenv("WAVECALL_CALLING_REMOTETRACKWAIT", "3s")
	_ = os.Setenv("WAVECALL_WEBRTC_SINGLEPORT", "9999")
	defer func() {
		_ = os.Unsetenv("WAVECALL_CALLING_ACCESSTOKEN")
		_ = os.Unsetenv("WAVECALL_CALLING_REMOTETRACKWAIT")
		_ = os.Unsetenv("WAVECALL_WEBRTC_SINGLEPORT")
	}()

	if err := LoadConfigEnv(&out); err != nil {
		t.Fatal(err)
	}
	if out.Calling.AccessToken != "tkn" {
		t.Errorf("token not read from the env: %q", out.Calling.AccessToken)
	}
	if out.Calling.RemoteTrackWait != 3*time.Second {
		t.Errorf("%v is not 3s", out.Calling.RemoteTrackWait)
	}
	if out.Webrtc.SinglePort != 9999 {
		t.Errorf("%v is not 9999", out.Webrtc.SinglePort)
	}
}

func TestConfigDefaults(t *testing.T) {
	var out BridgeConfig
	if err := LoadConfigEnv(&out); err != nil {
		t.Fatal(err)
	}
	if out.Calling.MessagingProduct != "whatsapp" {
		t.Errorf("wrong default product: %q", out.Calling.MessagingProduct)
	}
	if out.Calling.RemoteTrackWait != 10*time.Second {
		t.Errorf("wrong default track wait: %v", out.Calling.RemoteTrackWait)
	}
	if out.Calling.AcceptSettle != time.Second {
		t.Errorf("wrong default settle: %v", out.Calling.AcceptSettle)
	}
}

func TestIceSerialize(t *testing.T) {
	w := Webrtc{IceServers: []IceServer{{Urls: "stun:stun.l.google.com:19302"}}}
	if got := w.Serialize(); got != `[{"urls":"stun:stun.l.google.com:19302"}]` {
		t.Errorf("unexpected ice config: %s", got)
	}
	empty := Webrtc{}
	if got := empty.Serialize(); got != "[]" {
		t.Errorf("unexpected empty ice config: %s", got)
	}
}
