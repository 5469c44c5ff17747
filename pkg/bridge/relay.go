package bridge

import (
	"errors"
	"io"

	"github.com/pion/rtp"

	"github.com/wavecall/callbridge/pkg/logger"
	"github.com/wavecall/callbridge/pkg/network/webrtc"
)

// rtpSink is the writable half of a relay direction, an outbound
// audio track of the opposite leg.
type rtpSink interface {
	WriteRTP(*rtp.Packet) error
}

// relay pumps RTP packets from an inbound track of one leg into the
// outbound track of the other. Pass-through only: no transcoding,
// buffering, or mixing. Blocking, runs until the source track ends.
func relay(log *logger.Logger, src webrtc.RTPSource, dst rtpSink) {
	for {
		packet, _, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("relay stop")
			}
			return
		}
		if err = dst.WriteRTP(packet); err != nil {
			if !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Msg("relay write stop")
			}
			return
		}
	}
}
