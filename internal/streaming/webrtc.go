package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	"github.com/smazurov/camhub/internal/fanout"
)

// Consumer kinds reported to the fan-out hub.
const (
	KindWebRTC    = "webrtc"
	KindBroadcast = "broadcast"
)

// DefaultGatherTimeout bounds ICE gathering while building an answer.
const DefaultGatherTimeout = 5 * time.Second

var (
	// ErrGatherTimeout is returned when ICE gathering does not finish in time.
	ErrGatherTimeout = errors.New("ice gathering timed out")
	// ErrPeerNotFound is returned by Disconnect for an unknown peer id.
	ErrPeerNotFound = errors.New("webrtc peer not found")
)

// Cameras is the part of the orchestrator registry that transports use.
type Cameras interface {
	Attach(id string, c fanout.Consumer) error
	Detach(id, consumerID string) error
	Consumers(id string) ([]fanout.ConsumerStats, error)
}

// WebRTCConfig holds configuration for WebRTC connections.
type WebRTCConfig struct {
	// ICEServers for STUN/TURN (empty for LAN-only)
	ICEServers    []pion.ICEServer
	GatherTimeout time.Duration
}

// PeerInfo describes one connected viewer.
type PeerInfo struct {
	ID       string `json:"id"`
	CameraID string `json:"camera_id"`
	State    string `json:"state"`
}

type peer struct {
	id       string
	cameraID string
	pc       *pion.PeerConnection
	attached atomic.Bool
	once     sync.Once
}

func (p *peer) close() error {
	var err error
	p.once.Do(func() { err = p.pc.Close() })
	return err
}

// WebRTCManager manages WebRTC peer connections. Each peer is a fan-out
// consumer of one camera once its data channel opens.
type WebRTCManager struct {
	cameras Cameras
	encoder *JPEGEncoder
	config  WebRTCConfig
	peers   map[string]*peer
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewWebRTCManager creates a new WebRTC manager.
func NewWebRTCManager(cameras Cameras, encoder *JPEGEncoder, config WebRTCConfig, logger *slog.Logger) *WebRTCManager {
	if config.GatherTimeout <= 0 {
		config.GatherTimeout = DefaultGatherTimeout
	}
	return &WebRTCManager{
		cameras: cameras,
		encoder: encoder,
		config:  config,
		peers:   make(map[string]*peer),
		logger:  logger,
	}
}

// CreateConsumer answers a browser SDP offer for cameraID. The offer must
// include a data channel; frames start flowing once it opens.
func (m *WebRTCManager) CreateConsumer(ctx context.Context, cameraID, offer string) (string, error) {
	if _, err := m.cameras.Consumers(cameraID); err != nil {
		return "", err
	}

	api, err := NewWebRTCAPI()
	if err != nil {
		return "", err
	}
	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers: m.config.ICEServers,
	})
	if err != nil {
		return "", err
	}

	p := &peer{id: uuid.NewString(), cameraID: cameraID, pc: pc}
	logger := m.logger.With("camera_id", cameraID, "peer_id", p.id)

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		dc.OnOpen(func() {
			if !p.attached.CompareAndSwap(false, true) {
				return
			}
			sink := NewPeerSink(cameraID, dc, m.encoder, p.close)
			if attachErr := m.cameras.Attach(cameraID, fanout.Consumer{ID: p.id, Kind: KindWebRTC, Sink: sink}); attachErr != nil {
				logger.Warn("Failed to attach WebRTC peer", "error", attachErr)
				p.attached.Store(false)
				go func() { _ = p.close() }()
				return
			}
			logger.Debug("WebRTC data channel open", "label", dc.Label())
		})
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		switch state {
		case pion.PeerConnectionStateDisconnected,
			pion.PeerConnectionStateFailed,
			pion.PeerConnectionStateClosed:
			logger.Debug("WebRTC peer gone", "state", state.String())
			go func() { _ = m.remove(p.id) }()
		}
	})

	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer}); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("invalid offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", err
	}

	timer := time.NewTimer(m.config.GatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		_ = pc.Close()
		return "", ErrGatherTimeout
	case <-ctx.Done():
		_ = pc.Close()
		return "", ctx.Err()
	}

	m.mu.Lock()
	m.peers[p.id] = p
	peerCount := len(m.peers)
	m.mu.Unlock()

	SetActivePeers(peerCount)
	logger.Debug("WebRTC consumer created", "total_peers", peerCount)
	return pc.LocalDescription().SDP, nil
}

// Disconnect tears down one viewer: it leaves its camera's hub and the peer
// connection is closed.
func (m *WebRTCManager) Disconnect(peerID string) error {
	if !m.remove(peerID) {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}
	return nil
}

// remove forgets a peer, detaches it from its camera and closes it. It
// reports whether the peer was known.
func (m *WebRTCManager) remove(peerID string) bool {
	m.mu.Lock()
	p, ok := m.peers[peerID]
	if ok {
		delete(m.peers, peerID)
	}
	remaining := len(m.peers)
	m.mu.Unlock()
	if !ok {
		return false
	}

	SetActivePeers(remaining)
	if p.attached.Load() {
		_ = m.cameras.Detach(p.cameraID, p.id)
	}
	_ = p.close()
	m.logger.Debug("WebRTC consumer removed", "peer_id", peerID, "camera_id", p.cameraID, "remaining_peers", remaining)
	return true
}

// Peers lists connected peers sorted by id.
func (m *WebRTCManager) Peers() []PeerInfo {
	m.mu.RLock()
	out := make([]PeerInfo, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, PeerInfo{ID: p.id, CameraID: p.cameraID, State: p.pc.ConnectionState().String()})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PeerCount returns the number of active WebRTC peers.
func (m *WebRTCManager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// Stop closes all peer connections.
func (m *WebRTCManager) Stop() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.remove(id)
	}
}
