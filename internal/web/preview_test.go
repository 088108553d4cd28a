package web

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPreviewServer(t *testing.T) (*PreviewHub, *websocket.Conn) {
	t.Helper()
	hub := NewPreviewHub(slog.Default(), PreviewConfig{Rate: 1000, Burst: 10})
	r := mux.NewRouter()
	hub.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/preview"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func leftBlackPNG(t *testing.T) []byte {
	t.Helper()
	return halfBlackPNG(t, true)
}

func halfBlackPNG(t *testing.T, left bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			v := uint8(255)
			if (x < 10) == left {
				v = 0
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func readMessage(t *testing.T, conn *websocket.Conn) PreviewMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var raw map[string]any
	require.NoError(t, conn.ReadJSON(&raw))
	msg := PreviewMessage{Type: raw["type"].(string)}
	if seq, ok := raw["seq"].(float64); ok {
		msg.Seq = int64(seq)
	}
	if e, ok := raw["error"].(string); ok {
		msg.Error = e
	}
	if w, ok := raw["width"].(float64); ok {
		msg.Width = int(w)
	}
	return msg
}

func TestPreviewRequiresImage(t *testing.T) {
	_, conn := newPreviewServer(t)
	require.NoError(t, conn.WriteJSON(PreviewRequest{Seq: 1, Cols: 2, Rows: 1}))
	msg := readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Contains(t, msg.Error, "no image")
}

func TestPreviewComputesPattern(t *testing.T) {
	hub, conn := newPreviewServer(t)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, leftBlackPNG(t)))
	msg := readMessage(t, conn)
	require.Equal(t, TypeImage, msg.Type)
	assert.Equal(t, 20, msg.Width)
	assert.Equal(t, 1, hub.Clients())

	require.NoError(t, conn.WriteJSON(PreviewRequest{Seq: 1, Cols: 2, Rows: 1}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var raw struct {
		Type    string `json:"type"`
		Seq     int64  `json:"seq"`
		Pattern struct {
			Grid [][]int `json:"grid"`
		} `json:"pattern"`
	}
	require.NoError(t, conn.ReadJSON(&raw))
	assert.Equal(t, TypeResult, raw.Type)
	assert.Equal(t, [][]int{{1, 0}}, raw.Pattern.Grid)
}

func TestPreviewIgnoresStaleRequests(t *testing.T) {
	_, conn := newPreviewServer(t)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, leftBlackPNG(t)))
	require.Equal(t, TypeImage, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(PreviewRequest{Seq: 5, Cols: 2, Rows: 1}))
	require.NoError(t, conn.WriteJSON(PreviewRequest{Seq: 3, Cols: 4, Rows: 1}))

	msg := readMessage(t, conn)
	assert.Equal(t, int64(5), msg.Seq)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "stale request must not produce a result")
}

func TestPreviewRejectsMissingSeq(t *testing.T) {
	_, conn := newPreviewServer(t)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, leftBlackPNG(t)))
	require.Equal(t, TypeImage, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"cols": 2, "rows": 1}))
	msg := readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, msg.Error, "seq")
}

func TestPreviewUsesNewestImage(t *testing.T) {
	_, conn := newPreviewServer(t)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, leftBlackPNG(t)))
	require.Equal(t, TypeImage, readMessage(t, conn).Type)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, halfBlackPNG(t, false)))
	require.Equal(t, TypeImage, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(PreviewRequest{Seq: 1, Cols: 2, Rows: 1}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var raw struct {
		Type    string `json:"type"`
		Pattern struct {
			Grid [][]int `json:"grid"`
		} `json:"pattern"`
	}
	require.NoError(t, conn.ReadJSON(&raw))
	assert.Equal(t, TypeResult, raw.Type)
	assert.Equal(t, [][]int{{0, 1}}, raw.Pattern.Grid)
}

func TestPreviewRejectsBadSpec(t *testing.T) {
	_, conn := newPreviewServer(t)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, leftBlackPNG(t)))
	require.Equal(t, TypeImage, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(PreviewRequest{Seq: 1, Cols: 21, Rows: 1}))
	msg := readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, msg.Error, "degenerate")
}

func TestPreviewPage(t *testing.T) {
	hub := NewPreviewHub(slog.Default(), PreviewConfig{})
	r := mux.NewRouter()
	hub.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/preview", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/ws/preview")
}
