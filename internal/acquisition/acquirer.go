package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CameraBlockedMessage is shown when the camera cannot be opened.
const CameraBlockedMessage = "Camera access was blocked or unavailable. You can still use file upload."

// ErrNoCaptureSession is returned by Capture when no camera is open.
var ErrNoCaptureSession = errors.New("no capture session open")

// ErrTornDown is returned once the acquirer has been torn down.
var ErrTornDown = errors.New("acquirer torn down")

// FallbackPicker opens a file input that hints native camera capture.
type FallbackPicker interface {
	OpenCaptureInput()
}

// Config wires an Acquirer to its caller.
type Config struct {
	// Upload receives every acquired image. It is called synchronously and
	// should hand long work to another goroutine.
	Upload func(Image)
	// OnPreview receives the preview data URL for each image, from its own
	// goroutine and in no fixed order relative to Upload.
	OnPreview func(string)
	Devices   MediaDevices
	Fallback  FallbackPicker
	Logger    *zap.Logger
	Now       func() time.Time
}

// Acquirer obtains one image at a time from a dropped or picked file or from
// a live camera, and owns the camera session while one is open.
type Acquirer struct {
	upload    func(Image)
	onPreview func(string)
	devices   MediaDevices
	fallback  FallbackPicker
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	session     *CaptureSession
	openSeq     uint64
	cancelOpen  context.CancelFunc
	cameraError string
	preview     string
	previewSeq  uint64
	tornDown    bool
	previews    sync.WaitGroup
}

// NewAcquirer builds an Acquirer. A nil Upload drops images.
func NewAcquirer(cfg Config) *Acquirer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Upload == nil {
		cfg.Upload = func(Image) {}
	}
	return &Acquirer{
		upload:    cfg.Upload,
		onPreview: cfg.OnPreview,
		devices:   cfg.Devices,
		fallback:  cfg.Fallback,
		logger:    cfg.Logger.Named("acquisition"),
		now:       cfg.Now,
	}
}

// Submit handles a dropped or picked file. Files whose declared type is not
// image/* are ignored and false is returned.
func (a *Acquirer) Submit(f File) bool {
	img, err := FromUpload(f.Name, f.ContentType, f.Data)
	if err != nil {
		a.logger.Debug("ignoring non-image file", zap.String("filename", f.Name), zap.String("content_type", f.ContentType))
		return false
	}

	a.mu.Lock()
	tornDown := a.tornDown
	a.mu.Unlock()
	if tornDown {
		return false
	}

	a.emit(img)
	return true
}

// OpenCamera opens a rear-facing camera session. When the camera is denied or
// missing it records CameraBlockedMessage, opens the fallback capture input
// and returns false. It never fails the caller. A request made while another
// is still waiting for permission is ignored.
func (a *Acquirer) OpenCamera(ctx context.Context) bool {
	a.mu.Lock()
	if a.tornDown {
		a.mu.Unlock()
		return false
	}
	if a.cancelOpen != nil {
		a.mu.Unlock()
		a.logger.Debug("camera request already pending")
		return false
	}
	a.cameraError = ""
	previous := a.session
	a.session = nil
	a.openSeq++
	seq := a.openSeq
	ctx, cancel := context.WithCancel(ctx)
	a.cancelOpen = cancel
	a.mu.Unlock()
	defer a.finishOpen(seq, cancel)

	if previous != nil {
		previous.Close()
	}

	if a.devices == nil {
		a.fallBack(ErrCameraUnavailable)
		return false
	}

	stream, err := a.devices.GetUserMedia(ctx, Constraints{FacingMode: FacingEnvironment, Audio: false})
	if err != nil {
		if a.abandoned(seq) {
			a.logger.Debug("camera request abandoned", zap.Error(err))
			return false
		}
		a.fallBack(err)
		return false
	}
	session := newCaptureSession(stream)

	a.mu.Lock()
	if a.tornDown || a.openSeq != seq {
		// Closed or torn down while the prompt was pending.
		a.mu.Unlock()
		session.Close()
		return false
	}
	a.session = session
	a.mu.Unlock()

	a.logger.Info("camera session opened")
	return true
}

func (a *Acquirer) finishOpen(seq uint64, cancel context.CancelFunc) {
	cancel()
	a.mu.Lock()
	if a.openSeq == seq {
		a.cancelOpen = nil
	}
	a.mu.Unlock()
}

// abandoned reports whether the open request seq was closed or torn down
// before it completed.
func (a *Acquirer) abandoned(seq uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tornDown || a.openSeq != seq
}

// abandonOpenLocked cancels a request still waiting for permission.
func (a *Acquirer) abandonOpenLocked() {
	a.openSeq++
	if a.cancelOpen != nil {
		a.cancelOpen()
		a.cancelOpen = nil
	}
}

func (a *Acquirer) fallBack(err error) {
	a.mu.Lock()
	a.cameraError = CameraBlockedMessage
	a.mu.Unlock()

	a.logger.Warn("camera unavailable, falling back to capture input", zap.Error(err))
	if a.fallback != nil {
		a.fallback.OpenCaptureInput()
	}
}

// Capture snapshots the open camera, closes the session and emits the still.
func (a *Acquirer) Capture(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	if a.tornDown {
		a.mu.Unlock()
		return ErrTornDown
	}
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return ErrNoCaptureSession
	}

	data, err := session.Snapshot()
	if err != nil {
		return fmt.Errorf("capture frame: %w", err)
	}

	img := Image{
		Data:        data,
		ContentType: "image/jpeg",
		Filename:    fmt.Sprintf("photo-%d.jpg", a.now().UnixMilli()),
	}

	a.releaseSession(session)
	a.emit(img)
	return nil
}

// CloseCamera releases the open session, if any, and abandons a request still
// waiting for permission.
func (a *Acquirer) CloseCamera() {
	a.mu.Lock()
	a.abandonOpenLocked()
	session := a.session
	a.mu.Unlock()
	if session != nil {
		a.releaseSession(session)
	}
}

// Teardown releases the camera and stops accepting images. It is safe to call
// more than once and concurrently with CloseCamera.
func (a *Acquirer) Teardown() {
	a.mu.Lock()
	a.tornDown = true
	a.abandonOpenLocked()
	session := a.session
	a.session = nil
	a.mu.Unlock()

	if session != nil {
		session.Close()
		a.logger.Info("camera session released on teardown")
	}
}

func (a *Acquirer) releaseSession(session *CaptureSession) {
	a.mu.Lock()
	if a.session == session {
		a.session = nil
	}
	a.mu.Unlock()
	session.Close()
}

// CameraOpen reports whether a capture session is active.
func (a *Acquirer) CameraOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

// CameraSize reports the open session's capture resolution, applying the
// 1280x720 default when the stream does not know its own.
func (a *Acquirer) CameraSize() (width, height int) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return 0, 0
	}
	return session.size()
}

// CameraError returns the last non-blocking camera message, or "".
func (a *Acquirer) CameraError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cameraError
}

// Preview returns the preview of the most recent image.
func (a *Acquirer) Preview() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preview
}

// ClearPreview drops the current preview.
func (a *Acquirer) ClearPreview() {
	a.mu.Lock()
	a.previewSeq++
	a.preview = ""
	a.mu.Unlock()
}

// WaitPreviews blocks until pending preview derivations finish.
func (a *Acquirer) WaitPreviews() {
	a.previews.Wait()
}

func (a *Acquirer) emit(img Image) {
	a.mu.Lock()
	a.previewSeq++
	seq := a.previewSeq
	a.mu.Unlock()

	a.previews.Add(1)
	go func() {
		defer a.previews.Done()
		preview := PreviewDataURL(img)

		a.mu.Lock()
		current := a.previewSeq == seq
		if current {
			a.preview = preview
		}
		a.mu.Unlock()

		if current && a.onPreview != nil {
			a.onPreview(preview)
		}
	}()

	a.logger.Debug("image acquired",
		zap.String("filename", img.Filename),
		zap.String("content_type", img.ContentType),
		zap.Int("bytes", len(img.Data)))
	a.upload(img)
}
