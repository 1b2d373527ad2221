package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/skinsight/internal/acquisition"
	"github.com/example/skinsight/internal/camera"
	"github.com/example/skinsight/internal/session"
	"github.com/example/skinsight/internal/usecase"
)

const maxCameraMessage = MaxUploadSize

// A client that answers no ping within pongWait is treated as gone.
var (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 << 10,
	WriteBufferSize: 32 << 10,
	// The gateway serves a browser app from any origin, as the remote API does.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type fallbackFunc func()

func (f fallbackFunc) OpenCaptureInput() { f() }

type cameraHandler struct {
	uc         *usecase.AnalysisUseCase
	logger     *zap.Logger
	pongWait   time.Duration
	pingPeriod time.Duration
}

func newCameraHandler(uc *usecase.AnalysisUseCase, logger *zap.Logger) *cameraHandler {
	return &cameraHandler{
		uc:         uc,
		logger:     logger.Named("camera"),
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

// serve runs one acquisition component per connection. The connection closing
// is the component's teardown.
func (h *cameraHandler) serve(c *gin.Context) {
	sessionID, _ := session.GetSessionID(c.Request.Context())
	logger := h.logger.With(zap.String("session_id", sessionID))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxCameraMessage)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	writer := camera.NewWriter(conn)
	go h.keepAlive(ctx, writer, conn, logger)
	send := func(msg camera.Message) {
		if err := writer.Send(msg); err != nil {
			logger.Debug("send failed", zap.String("type", msg.Type), zap.Error(err))
		}
	}

	device := camera.NewDevice(writer.Send)
	acq := acquisition.NewAcquirer(acquisition.Config{
		Devices:   device,
		Fallback:  fallbackFunc(func() { send(camera.Message{Type: camera.TypeFallbackCapture}) }),
		OnPreview: func(preview string) { send(camera.Message{Type: camera.TypePreview, DataURL: preview}) },
		Upload: func(img acquisition.Image) {
			go h.analyze(ctx, sessionID, img, send)
		},
		Logger: logger,
	})
	defer acq.Teardown()

	logger.Info("camera connection opened")
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("camera connection closed unexpectedly", zap.Error(err))
			}
			break
		}

		if msgType == websocket.BinaryMessage {
			device.PushFrame(data)
			continue
		}

		var msg camera.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			send(camera.Message{Type: camera.TypeError, Message: "invalid message"})
			continue
		}
		h.dispatch(ctx, msg, acq, device, send)
	}
	logger.Info("camera connection closed")
}

// keepAlive pings the client until ctx ends. A failed ping closes the
// connection, which ends the read loop.
func (h *cameraHandler) keepAlive(ctx context.Context, writer *camera.Writer, conn *websocket.Conn, logger *zap.Logger) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.Ping(); err != nil {
				logger.Debug("camera ping failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

func (h *cameraHandler) dispatch(ctx context.Context, msg camera.Message, acq *acquisition.Acquirer, device *camera.Device, send func(camera.Message)) {
	switch msg.Type {
	case camera.TypeOpenCamera:
		// Blocks on the client's permission answer, which this read loop delivers.
		go func() {
			if acq.OpenCamera(ctx) {
				width, height := acq.CameraSize()
				send(camera.Message{Type: camera.TypeCameraOpened, Width: width, Height: height})
				return
			}
			if text := acq.CameraError(); text != "" {
				send(camera.Message{Type: camera.TypeCameraError, Message: text})
			}
		}()
	case camera.TypeCameraGranted:
		if err := device.Grant(msg.Width, msg.Height); err != nil {
			if errors.Is(err, camera.ErrNoPendingRequest) {
				// The modal was closed before permission arrived.
				send(camera.Message{Type: camera.TypeCameraClosed})
				return
			}
			send(camera.Message{Type: camera.TypeError, Message: err.Error()})
		}
	case camera.TypeCameraDenied:
		if err := device.Deny(msg.Reason); err != nil {
			send(camera.Message{Type: camera.TypeError, Message: err.Error()})
		}
	case camera.TypeCapture:
		if err := acq.Capture(ctx); err != nil {
			h.logger.Debug("capture failed", zap.Error(err))
			text := "Unable to capture photo."
			if errors.Is(err, acquisition.ErrNoCaptureSession) {
				text = "Camera is not open."
			}
			send(camera.Message{Type: camera.TypeError, Message: text})
		}
	case camera.TypeCloseCamera:
		acq.CloseCamera()
	case camera.TypeSubmitFile:
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			send(camera.Message{Type: camera.TypeError, Message: "invalid file data"})
			return
		}
		acq.Submit(acquisition.File{Name: msg.Filename, ContentType: msg.ContentType, Data: data})
	default:
		send(camera.Message{Type: camera.TypeError, Message: "unknown message type"})
	}
}

func (h *cameraHandler) analyze(ctx context.Context, sessionID string, img acquisition.Image, send func(camera.Message)) {
	result, err := h.uc.Analyze(ctx, sessionID, img)
	if errors.Is(err, usecase.ErrSuperseded) {
		return
	}
	if err != nil {
		send(camera.Message{Type: camera.TypeError, Message: usecase.FailureMessage})
		return
	}
	if result.Superseded {
		return
	}
	send(camera.Message{Type: camera.TypeResult, RequestID: result.RequestID, Predictions: result.Predictions})
}
