package control_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/pdsaudio/voicebridge/internal/control"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startServer(t *testing.T) (*fixture, *websocket.Conn) {
	t.Helper()
	f := newFixture(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(control.NewServer(f.handler, nil, log))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return f, conn
}

// roundTrip sends one request frame and decodes the single response frame.
func roundTrip(t *testing.T, conn *websocket.Conn, req string) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return out
}

func TestServerParameterRoundTrip(t *testing.T) {
	t.Parallel()
	_, conn := startServer(t)

	resp := roundTrip(t, conn, `{"cutoff": 200}`)
	wantOK(t, resp)
	state := resp["state"].(map[string]any)
	if state["cutoff"] != 200.0 {
		t.Fatalf("cutoff not applied over the wire: %v", state)
	}
}

func TestServerOneResponsePerRequest(t *testing.T) {
	t.Parallel()
	_, conn := startServer(t)

	// Several requests in sequence must each produce exactly one response,
	// and a failing request must not poison the connection.
	wantOK(t, roundTrip(t, conn, `{"action": "listDevices"}`))
	wantError(t, roundTrip(t, conn, `{"filterType": "reverb"}`), "unknown filter type")
	wantOK(t, roundTrip(t, conn, `{"bypass": true}`))
}

func TestServerRejectsBinaryFrames(t *testing.T) {
	t.Parallel()
	_, conn := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	wantError(t, out, "binary frames")
}
