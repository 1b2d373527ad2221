package acquisition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"

	"github.com/nfnt/resize"
)

const (
	// FacingEnvironment requests the rear camera.
	FacingEnvironment = "environment"

	// MaxCaptureDimension bounds either side of a capture and of a decoded
	// camera frame.
	MaxCaptureDimension = 4096

	captureQuality = 92
	defaultWidth   = 1280
	defaultHeight  = 720
)

// ValidCaptureSize reports whether a reported video size is usable.
func ValidCaptureSize(width, height int) bool {
	return width > 0 && height > 0 && width <= MaxCaptureDimension && height <= MaxCaptureDimension
}

// ErrCameraUnavailable is returned by MediaDevices when no camera can be used.
var ErrCameraUnavailable = errors.New("camera unavailable")

// Constraints describes the stream requested from a media device.
type Constraints struct {
	FacingMode string
	Audio      bool
}

// MediaDevices opens camera streams. Implementations may block while the
// user answers a permission prompt.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints Constraints) (MediaStream, error)
}

// MediaStream is a live camera stream.
type MediaStream interface {
	Tracks() []Track
	// VideoSize reports the native resolution, or zeros when unknown.
	VideoSize() (width, height int)
	// Snapshot returns the current frame.
	Snapshot() (image.Image, error)
}

// Track is one media track of a stream.
type Track interface {
	Stop()
}

// CaptureSession owns an open MediaStream until Close. Close may be called
// from any number of exit paths concurrently; tracks are stopped once.
type CaptureSession struct {
	stream MediaStream
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func newCaptureSession(stream MediaStream) *CaptureSession {
	return &CaptureSession{stream: stream}
}

// Close stops every track of the stream. Later calls are no-ops.
func (s *CaptureSession) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		for _, track := range s.stream.Tracks() {
			track.Stop()
		}
	})
}

// Closed reports whether the session has been released.
func (s *CaptureSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *CaptureSession) size() (int, int) {
	width, height := s.stream.VideoSize()
	if !ValidCaptureSize(width, height) {
		return defaultWidth, defaultHeight
	}
	return width, height
}

// Snapshot encodes the current frame as a JPEG still. A stream that knows its
// resolution is captured at the frame's own size; otherwise the frame is
// scaled to 1280x720. Oversized frames are scaled down to fit
// MaxCaptureDimension.
func (s *CaptureSession) Snapshot() ([]byte, error) {
	if s.Closed() {
		return nil, errSessionClosed
	}
	frame, err := s.stream.Snapshot()
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, errNoFrame
	}
	bounds := frame.Bounds()
	if bounds.Empty() {
		return nil, errNoFrame
	}

	switch width, height := s.stream.VideoSize(); {
	case !ValidCaptureSize(width, height):
		if bounds.Dx() != defaultWidth || bounds.Dy() != defaultHeight {
			frame = resize.Resize(defaultWidth, defaultHeight, frame, resize.Bilinear)
		}
	case !ValidCaptureSize(bounds.Dx(), bounds.Dy()):
		frame = resize.Thumbnail(MaxCaptureDimension, MaxCaptureDimension, frame, resize.Bilinear)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: captureQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	errSessionClosed = errors.New("capture session closed")
	errNoFrame       = errors.New("no frame available")
)
