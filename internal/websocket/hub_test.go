package websocket

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/storyteller/server/domain/entities"
	"github.com/storyteller/server/internal/orchestrator"
)

type stubController struct {
	mu          sync.Mutex
	connects    []string
	firmware    []string
	frames      [][]byte
	selections  []entities.EpisodeSelection
	disconnects int
	link        orchestrator.DeviceLink
}

func (s *stubController) OnDeviceConnect(ctx context.Context, deviceID, firmwareVersion string, link orchestrator.DeviceLink) error {
	s.mu.Lock()
	s.connects = append(s.connects, deviceID)
	s.firmware = append(s.firmware, firmwareVersion)
	s.link = link
	s.mu.Unlock()
	return link.SendConnected("user-1", "welcome back")
}

func (s *stubController) OnDeviceAudio(ctx context.Context, deviceID string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

func (s *stubController) OnFunctionResponse(deviceID string, selection entities.EpisodeSelection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selections = append(s.selections, selection)
}

func (s *stubController) OnDeviceDisconnect(ctx context.Context, deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
}

func (s *stubController) Session(deviceID string) (orchestrator.SessionStatus, bool) {
	return orchestrator.SessionStatus{}, false
}

func (s *stubController) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *stubController) deviceLink() orchestrator.DeviceLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func dialTestServer(t *testing.T) (*stubController, *websocket.Conn) {
	t.Helper()

	controller := &stubController{}
	hub := NewHub(controller, zap.NewNop())
	go hub.Run()

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocketWithAuth(hub, c, "esp32-test", zap.NewNop())
	})

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return controller, conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", payload, err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connectDevice(t *testing.T, controller *stubController, conn *websocket.Conn) {
	t.Helper()
	sendJSON(t, conn, DeviceMessage{Type: MessageTypeConnect, FirmwareVersion: "1.4.2"})
	msg := readEnvelope(t, conn)
	if msg["type"] != MessageTypeConnected {
		t.Fatalf("expected connected, got %v", msg["type"])
	}
	if msg["user_id"] != "user-1" {
		t.Errorf("user_id = %v", msg["user_id"])
	}
}

func TestConnectHandshake(t *testing.T) {
	controller, conn := dialTestServer(t)

	connectDevice(t, controller, conn)

	controller.mu.Lock()
	defer controller.mu.Unlock()
	if len(controller.connects) != 1 || controller.connects[0] != "esp32-test" {
		t.Errorf("connects = %v", controller.connects)
	}
	if controller.firmware[0] != "1.4.2" {
		t.Errorf("firmware = %q", controller.firmware[0])
	}
}

func TestHeartbeatAnswered(t *testing.T) {
	_, conn := dialTestServer(t)

	sendJSON(t, conn, DeviceMessage{Type: MessageTypeHeartbeat})
	msg := readEnvelope(t, conn)
	if msg["type"] != MessageTypeHeartbeatAck {
		t.Fatalf("expected heartbeat_ack, got %v", msg["type"])
	}
	if _, ok := msg["timestamp"].(float64); !ok {
		t.Errorf("heartbeat_ack missing timestamp: %v", msg)
	}
}

func TestBinaryAudioForwarded(t *testing.T) {
	controller, conn := dialTestServer(t)
	connectDevice(t, controller, conn)

	frame := []byte{0x01, 0x02, 0x03, 0x04}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "binary frame", func() bool { return controller.frameCount() == 1 })
	controller.mu.Lock()
	defer controller.mu.Unlock()
	if !bytes.Equal(controller.frames[0], frame) {
		t.Errorf("frame = %v, want %v", controller.frames[0], frame)
	}
}

func TestJSONAudioDecoded(t *testing.T) {
	controller, conn := dialTestServer(t)
	connectDevice(t, controller, conn)

	frame := []byte("pcm16 goes here")
	sendJSON(t, conn, DeviceMessage{
		Type:      MessageTypeAudio,
		AudioData: base64.StdEncoding.EncodeToString(frame),
		Timestamp: time.Now().Unix(),
	})

	waitFor(t, "json frame", func() bool { return controller.frameCount() == 1 })
	controller.mu.Lock()
	defer controller.mu.Unlock()
	if !bytes.Equal(controller.frames[0], frame) {
		t.Errorf("frame = %q", controller.frames[0])
	}
}

func TestAudioBeforeConnectDropped(t *testing.T) {
	controller, conn := dialTestServer(t)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A heartbeat round trip proves the binary frame has been processed.
	sendJSON(t, conn, DeviceMessage{Type: MessageTypeHeartbeat})
	readEnvelope(t, conn)

	if got := controller.frameCount(); got != 0 {
		t.Errorf("frames before handshake = %d, want 0", got)
	}
}

func TestFunctionResponseForwarded(t *testing.T) {
	controller, conn := dialTestServer(t)
	connectDevice(t, controller, conn)

	sendJSON(t, conn, DeviceMessage{
		Type:      MessageTypeFunctionResponse,
		Selection: &entities.EpisodeSelection{Language: "spanish", Season: 1, Episode: 2},
	})

	waitFor(t, "selection", func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return len(controller.selections) == 1
	})
	controller.mu.Lock()
	defer controller.mu.Unlock()
	if controller.selections[0].Ref().Key() != "spanish_1_2" {
		t.Errorf("selection = %+v", controller.selections[0])
	}
}

func TestDisconnectMessageTearsDown(t *testing.T) {
	controller, conn := dialTestServer(t)
	connectDevice(t, controller, conn)

	sendJSON(t, conn, DeviceMessage{Type: MessageTypeDisconnect})

	waitFor(t, "teardown", func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return controller.disconnects >= 1
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestServerPushesAudioResponse(t *testing.T) {
	controller, conn := dialTestServer(t)
	connectDevice(t, controller, conn)

	audio := []byte{0xAA, 0xBB, 0xCC}
	if err := controller.deviceLink().SendAudio(audio, "choice"); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	msg := readEnvelope(t, conn)
	if msg["type"] != MessageTypeAudioResponse {
		t.Fatalf("expected audio_response, got %v", msg["type"])
	}
	if msg["agent_type"] != "choice" {
		t.Errorf("agent_type = %v", msg["agent_type"])
	}
	decoded, err := base64.StdEncoding.DecodeString(msg["audio_data"].(string))
	if err != nil || !bytes.Equal(decoded, audio) {
		t.Errorf("audio_data = %v (err %v)", decoded, err)
	}
}

func TestServerPushesAgentSwitched(t *testing.T) {
	controller, conn := dialTestServer(t)
	connectDevice(t, controller, conn)

	err := controller.deviceLink().SendAgentSwitched("episode", entities.EpisodeSummary{
		EpisodeRef: entities.EpisodeRef{Language: "spanish", Season: 1, Episode: 2},
		Title:      "Farm Animals",
	})
	if err != nil {
		t.Fatalf("SendAgentSwitched: %v", err)
	}

	msg := readEnvelope(t, conn)
	if msg["type"] != MessageTypeAgentSwitched {
		t.Fatalf("expected agent_switched, got %v", msg["type"])
	}
	if msg["new_agent"] != "episode" {
		t.Errorf("new_agent = %v", msg["new_agent"])
	}
	info, ok := msg["episode_info"].(map[string]interface{})
	if !ok || info["title"] != "Farm Animals" {
		t.Errorf("episode_info = %v", msg["episode_info"])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	controller, conn := dialTestServer(t)
	connectDevice(t, controller, conn)

	link := controller.deviceLink()
	if err := link.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := link.SendError("UPSTREAM_UNAVAILABLE", "gone"); err == nil {
		t.Error("expected send after close to fail")
	}
}
