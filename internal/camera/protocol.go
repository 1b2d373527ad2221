// Package camera implements the acquisition media-device capability over a
// WebSocket: the browser owns the physical camera and streams encoded frames,
// while the server owns the capture session and its lifetime.
package camera

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/skinsight/internal/prediction"
)

// Message types sent by the server.
const (
	TypeRequestCamera   = "request_camera"
	TypeCameraOpened    = "camera_opened"
	TypeCameraClosed    = "camera_closed"
	TypeCameraError     = "camera_error"
	TypeFallbackCapture = "fallback_capture"
	TypePreview         = "preview"
	TypeResult          = "result"
	TypeError           = "error"
)

// Message types sent by the client. Binary messages carry video frames.
const (
	TypeOpenCamera    = "open_camera"
	TypeCameraGranted = "camera_granted"
	TypeCameraDenied  = "camera_denied"
	TypeCapture       = "capture"
	TypeCloseCamera   = "close_camera"
	TypeSubmitFile    = "submit_file"
)

// Message is the JSON envelope used in both directions.
type Message struct {
	Type        string                  `json:"type"`
	FacingMode  string                  `json:"facing_mode,omitempty"`
	Width       int                     `json:"width,omitempty"`
	Height      int                     `json:"height,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Message     string                  `json:"message,omitempty"`
	DataURL     string                  `json:"data_url,omitempty"`
	RequestID   string                  `json:"request_id,omitempty"`
	Predictions []prediction.Prediction `json:"predictions,omitempty"`
	Filename    string                  `json:"filename,omitempty"`
	ContentType string                  `json:"content_type,omitempty"`
	// Data is the base64 file body of a submit_file message.
	Data string `json:"data,omitempty"`
}

const writeWait = 10 * time.Second

// Writer serializes writes to a connection; gorilla connections allow only
// one concurrent writer.
type Writer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWriter wraps conn.
func NewWriter(conn *websocket.Conn) *Writer {
	return &Writer{conn: conn}
}

// Ping writes a ping control frame.
func (w *Writer) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Send writes msg as JSON.
func (w *Writer) Send(msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return w.conn.WriteJSON(msg)
}
