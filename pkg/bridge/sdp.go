package bridge

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// normalizeSDP undoes the JSON string escaping webhook payloads tend
// to carry instead of real line breaks.
func normalizeSDP(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, `\r\n`, "\r\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	return s
}

// assertActiveRole rewrites the DTLS setup attribute of an answer from
// actpass to active. The relay must assert the active DTLS role toward
// the calling API, which otherwise cannot complete its handshake.
func assertActiveRole(answer string) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(answer); err != nil {
		return "", fmt.Errorf("sdp parse: %w", err)
	}
	rewrite := func(attrs []sdp.Attribute) {
		for i, a := range attrs {
			if a.Key == "setup" && a.Value == "actpass" {
				attrs[i].Value = "active"
			}
		}
	}
	rewrite(desc.Attributes)
	for _, m := range desc.MediaDescriptions {
		rewrite(m.Attributes)
	}
	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdp marshal: %w", err)
	}
	return string(out), nil
}
