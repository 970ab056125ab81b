package streaming

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	pion "github.com/pion/webrtc/v4"
	"github.com/smazurov/camhub/internal/fanout"
	"github.com/smazurov/camhub/internal/frame"
)

const (
	// ChunkSize keeps data channel messages within what every browser
	// accepts.
	ChunkSize = 16 * 1024

	// DefaultMaxBuffered is the data channel backlog above which a peer is
	// reported busy.
	DefaultMaxBuffered = 1 << 20
)

// dataChannel is the subset of *webrtc.DataChannel the sink uses.
type dataChannel interface {
	SendText(s string) error
	Send(data []byte) error
	BufferedAmount() uint64
	ReadyState() pion.DataChannelState
}

// PeerSink delivers frames to one WebRTC peer over a data channel. Each
// frame is a JSON FrameMessage text message followed by the JPEG split into
// ChunkSize binary messages.
type PeerSink struct {
	cameraID    string
	dc          dataChannel
	encoder     *JPEGEncoder
	maxBuffered uint64
	onClose     func() error

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewPeerSink creates a sink over an open data channel. onClose is called
// once when the hub releases the sink and should tear down the peer.
func NewPeerSink(cameraID string, dc dataChannel, encoder *JPEGEncoder, onClose func() error) *PeerSink {
	return &PeerSink{
		cameraID:    cameraID,
		dc:          dc,
		encoder:     encoder,
		maxBuffered: DefaultMaxBuffered,
		onClose:     onClose,
	}
}

// Accept implements fanout.Sink.
func (s *PeerSink) Accept(f *frame.Frame) fanout.Outcome {
	if s.closed.Load() || s.dc.ReadyState() != pion.DataChannelStateOpen {
		return fanout.Closed
	}
	if s.dc.BufferedAmount() > s.maxBuffered {
		return fanout.Busy
	}

	data, err := s.encoder.Encode(f)
	if err != nil {
		return fanout.Busy
	}
	meta := NewFrameMessage(f)
	meta.Bytes = len(data)
	header, err := json.Marshal(meta)
	if err != nil {
		return fanout.Busy
	}

	if err := s.dc.SendText(string(header)); err != nil {
		return s.failure()
	}
	for off := 0; off < len(data); off += ChunkSize {
		end := min(off+ChunkSize, len(data))
		if err := s.dc.Send(data[off:end]); err != nil {
			return s.failure()
		}
	}
	recordSent(s.cameraID, "webrtc", len(data))
	return fanout.Accepted
}

func (s *PeerSink) failure() fanout.Outcome {
	if s.dc.ReadyState() != pion.DataChannelStateOpen {
		return fanout.Closed
	}
	return fanout.Busy
}

// Close implements fanout.Sink.
func (s *PeerSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.onClose != nil {
			err = s.onClose()
		}
	})
	return err
}
