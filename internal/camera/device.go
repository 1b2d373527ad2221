package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/example/skinsight/internal/acquisition"
)

var (
	// ErrRequestPending is returned when a second permission prompt is
	// requested before the first is answered.
	ErrRequestPending = errors.New("camera request already pending")
	// ErrNoPendingRequest is returned for an answer nobody asked for.
	ErrNoPendingRequest = errors.New("no camera request pending")

	// ErrFrameTooLarge is returned for frames beyond the capture limit.
	ErrFrameTooLarge = errors.New("camera frame too large")

	errNoFrame = errors.New("no frame received yet")
)

// SendFunc delivers a control message to the client.
type SendFunc func(Message) error

type answer struct {
	width, height int
	reason        string
	granted       bool
}

// Device is an acquisition.MediaDevices backed by one client connection.
type Device struct {
	send SendFunc

	mu      sync.Mutex
	pending chan answer
	stream  *Stream
}

// NewDevice returns a Device that prompts the client through send.
func NewDevice(send SendFunc) *Device {
	return &Device{send: send}
}

// GetUserMedia asks the client for a camera and waits for its answer.
func (d *Device) GetUserMedia(ctx context.Context, constraints acquisition.Constraints) (acquisition.MediaStream, error) {
	d.mu.Lock()
	if d.pending != nil {
		d.mu.Unlock()
		return nil, ErrRequestPending
	}
	ch := make(chan answer, 1)
	d.pending = ch
	d.mu.Unlock()

	// clearPending withdraws the request, reporting false when an answer
	// has already been queued on ch.
	clearPending := func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.pending == ch {
			d.pending = nil
			return true
		}
		return false
	}

	if err := d.send(Message{Type: TypeRequestCamera, FacingMode: constraints.FacingMode}); err != nil {
		clearPending()
		return nil, fmt.Errorf("%w: %v", acquisition.ErrCameraUnavailable, err)
	}

	var ans answer
	select {
	case ans = <-ch:
	case <-ctx.Done():
		if !clearPending() {
			if late := <-ch; late.granted {
				// Nobody will own this stream; tell the client to release it.
				_ = d.send(Message{Type: TypeCameraClosed})
			}
		}
		return nil, ctx.Err()
	}

	if !ans.granted {
		return nil, fmt.Errorf("%w: %s", acquisition.ErrCameraUnavailable, ans.reason)
	}

	stream := newStream(ans.width, ans.height, func() {
		_ = d.send(Message{Type: TypeCameraClosed})
	})

	d.mu.Lock()
	d.stream = stream
	d.mu.Unlock()
	return stream, nil
}

// Grant answers the pending request with the client's native resolution.
// A missing or implausible resolution is reported as unknown.
func (d *Device) Grant(width, height int) error {
	if !acquisition.ValidCaptureSize(width, height) {
		width, height = 0, 0
	}
	return d.resolve(answer{granted: true, width: width, height: height})
}

// Deny answers the pending request with a refusal.
func (d *Device) Deny(reason string) error {
	return d.resolve(answer{reason: reason})
}

func (d *Device) resolve(a answer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := d.pending
	if ch == nil {
		return ErrNoPendingRequest
	}
	d.pending = nil
	// Buffered; queued before the lock is released.
	ch <- a
	return nil
}

// PushFrame records the latest encoded frame for the live stream. Frames
// arriving with no live stream are dropped.
func (d *Device) PushFrame(data []byte) bool {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return false
	}
	return stream.setFrame(data)
}

// Stream is a client-side camera mirrored on the server.
type Stream struct {
	width, height int
	track         *track

	mu     sync.Mutex
	frame  []byte
	closed bool
}

func newStream(width, height int, onStop func()) *Stream {
	s := &Stream{width: width, height: height}
	s.track = &track{stream: s, onStop: onStop}
	return s
}

func (s *Stream) Tracks() []acquisition.Track {
	return []acquisition.Track{s.track}
}

func (s *Stream) VideoSize() (int, int) {
	return s.width, s.height
}

// Snapshot decodes the most recent frame.
func (s *Stream) Snapshot() (image.Image, error) {
	s.mu.Lock()
	frame := s.frame
	s.mu.Unlock()
	if frame == nil {
		return nil, errNoFrame
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if !acquisition.ValidCaptureSize(cfg.Width, cfg.Height) {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (s *Stream) setFrame(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frame = data
	return true
}

func (s *Stream) stop() {
	s.mu.Lock()
	s.closed = true
	s.frame = nil
	s.mu.Unlock()
}

type track struct {
	stream *Stream
	once   sync.Once
	onStop func()
}

// Stop ends the stream and tells the client to release its camera.
func (t *track) Stop() {
	t.once.Do(func() {
		t.stream.stop()
		if t.onStop != nil {
			t.onStop()
		}
	})
}
