package streaming

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	pion "github.com/pion/webrtc/v4"
	"github.com/smazurov/camhub/internal/fanout"
)

func TestWebRTCAPI_DisconnectPeer(t *testing.T) {
	cams := newFakeCameras("cam1")
	m := NewWebRTCManager(cams, NewJPEGEncoder(60), WebRTCConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(m.Stop)

	webrtcAPI, err := NewWebRTCAPI()
	if err != nil {
		t.Fatal(err)
	}
	pc, err := webrtcAPI.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	p := &peer{id: "peer-1", cameraID: "cam1", pc: pc}
	p.attached.Store(true)
	sink := NewPeerSink("cam1", newFakeDataChannel(), m.encoder, p.close)
	if err := cams.Attach("cam1", fanout.Consumer{ID: p.id, Kind: KindWebRTC, Sink: sink}); err != nil {
		t.Fatal(err)
	}
	m.mu.Lock()
	m.peers[p.id] = p
	m.mu.Unlock()

	mux := http.NewServeMux()
	RegisterWebRTCAPI(humago.New(mux, huma.DefaultConfig("test", "1.0")), m)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	del := func(id string) int {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/webrtc/peers/"+id, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	if got := del("peer-1"); got != http.StatusNoContent {
		t.Fatalf("DELETE known peer = %d, want 204", got)
	}
	if m.PeerCount() != 0 {
		t.Errorf("peer still registered after delete")
	}
	if _, n := cams.only(); n != 0 {
		t.Errorf("peer still attached to its camera")
	}
	if got := pc.ConnectionState(); got != pion.PeerConnectionStateClosed {
		t.Errorf("peer connection state = %s, want closed", got)
	}
	if got := del("peer-1"); got != http.StatusNotFound {
		t.Errorf("DELETE removed peer = %d, want 404", got)
	}
}
