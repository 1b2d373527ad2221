package acquisition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTrack struct {
	stops atomic.Int32
}

func (t *fakeTrack) Stop() { t.stops.Add(1) }

type fakeStream struct {
	tracks []*fakeTrack
	width  int
	height int
	frame  image.Image
	err    error
}

func newFakeStream(width, height int, frame image.Image) *fakeStream {
	return &fakeStream{
		tracks: []*fakeTrack{{}, {}},
		width:  width,
		height: height,
		frame:  frame,
	}
}

func (s *fakeStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) VideoSize() (int, int) { return s.width, s.height }

func (s *fakeStream) Snapshot() (image.Image, error) { return s.frame, s.err }

func (s *fakeStream) stopCounts() []int32 {
	counts := make([]int32, len(s.tracks))
	for i, t := range s.tracks {
		counts[i] = t.stops.Load()
	}
	return counts
}

type fakeDevices struct {
	mu          sync.Mutex
	streams     []*fakeStream
	next        func() *fakeStream
	err         error
	constraints []Constraints
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, c Constraints) (MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constraints = append(d.constraints, c)
	if d.err != nil {
		return nil, d.err
	}
	s := d.next()
	d.streams = append(d.streams, s)
	return s, nil
}

type fakeFallback struct {
	opened atomic.Int32
}

func (f *fakeFallback) OpenCaptureInput() { f.opened.Add(1) }

type uploads struct {
	mu     sync.Mutex
	images []Image
}

func (u *uploads) record(img Image) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.images = append(u.images, img)
}

func (u *uploads) all() []Image {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Image(nil), u.images...)
}

func solidFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 90, A: 255})
		}
	}
	return img
}

func TestSubmitIgnoresNonImage(t *testing.T) {
	var got uploads
	a := NewAcquirer(Config{Upload: got.record})

	if a.Submit(File{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hi")}) {
		t.Fatal("expected non-image file to be rejected")
	}
	a.WaitPreviews()
	if len(got.all()) != 0 {
		t.Fatal("no upload should be triggered for a non-image file")
	}
	if a.Preview() != "" {
		t.Fatal("no preview should be derived for a non-image file")
	}
}

func TestSubmitImageUploadsAndPreviews(t *testing.T) {
	var got uploads
	previews := make(chan string, 1)
	a := NewAcquirer(Config{
		Upload:    got.record,
		OnPreview: func(p string) { previews <- p },
	})

	if !a.Submit(File{Name: "mole.png", ContentType: "image/png", Data: []byte{1, 2, 3}}) {
		t.Fatal("expected image to be accepted")
	}

	images := got.all()
	if len(images) != 1 || images[0].Filename != "mole.png" || images[0].ContentType != "image/png" {
		t.Fatalf("unexpected uploads: %+v", images)
	}

	select {
	case p := <-previews:
		if p != "data:image/png;base64,AQID" {
			t.Fatalf("unexpected preview %q", p)
		}
	case <-time.After(time.Second):
		t.Fatal("preview was not delivered")
	}
	a.WaitPreviews()
	if a.Preview() != "data:image/png;base64,AQID" {
		t.Fatalf("unexpected stored preview %q", a.Preview())
	}

	a.ClearPreview()
	if a.Preview() != "" {
		t.Fatal("expected preview to be cleared")
	}
}

func TestSubmitDoesNotEnforceSizeGuideline(t *testing.T) {
	var got uploads
	a := NewAcquirer(Config{Upload: got.record})

	big := make([]byte, SizeGuideline+1)
	if !a.Submit(File{Name: "big.jpg", ContentType: "image/jpeg", Data: big}) {
		t.Fatal("size guideline must not be enforced")
	}
	a.WaitPreviews()
}

func TestOpenCameraDeniedFallsBack(t *testing.T) {
	devices := &fakeDevices{err: errors.New("NotAllowedError")}
	fallback := &fakeFallback{}
	var got uploads
	a := NewAcquirer(Config{Upload: got.record, Devices: devices, Fallback: fallback})

	if a.OpenCamera(context.Background()) {
		t.Fatal("expected camera open to fail")
	}
	if a.CameraError() != CameraBlockedMessage {
		t.Fatalf("unexpected camera error %q", a.CameraError())
	}
	if fallback.opened.Load() != 1 {
		t.Fatalf("expected fallback input to open once, got %d", fallback.opened.Load())
	}
	if a.CameraOpen() {
		t.Fatal("no session should be open")
	}

	if !a.Submit(File{Name: "capture.jpg", ContentType: "image/jpeg", Data: []byte{0xff}}) {
		t.Fatal("fallback file input must remain usable")
	}
	a.WaitPreviews()
	if len(got.all()) != 1 {
		t.Fatal("expected fallback upload")
	}
}

func TestOpenCameraWithoutDevicesFallsBack(t *testing.T) {
	fallback := &fakeFallback{}
	a := NewAcquirer(Config{Fallback: fallback})

	if a.OpenCamera(context.Background()) {
		t.Fatal("expected camera open to fail")
	}
	if fallback.opened.Load() != 1 || a.CameraError() == "" {
		t.Fatal("expected fallback with message")
	}
}

func TestOpenCameraRequestsRearCameraVideoOnly(t *testing.T) {
	devices := &fakeDevices{next: func() *fakeStream { return newFakeStream(640, 480, solidFrame(640, 480)) }}
	a := NewAcquirer(Config{Devices: devices})

	if !a.OpenCamera(context.Background()) {
		t.Fatal("expected camera to open")
	}
	if len(devices.constraints) != 1 {
		t.Fatalf("expected one request, got %d", len(devices.constraints))
	}
	c := devices.constraints[0]
	if c.FacingMode != FacingEnvironment || c.Audio {
		t.Fatalf("unexpected constraints %+v", c)
	}
}

func TestOpenCameraClearsPreviousError(t *testing.T) {
	devices := &fakeDevices{err: errors.New("denied")}
	a := NewAcquirer(Config{Devices: devices})
	a.OpenCamera(context.Background())

	devices.err = nil
	devices.next = func() *fakeStream { return newFakeStream(0, 0, solidFrame(8, 8)) }
	if !a.OpenCamera(context.Background()) {
		t.Fatal("expected camera to open")
	}
	if a.CameraError() != "" {
		t.Fatalf("expected error to be cleared, got %q", a.CameraError())
	}
}

func TestCaptureUsesNativeResolution(t *testing.T) {
	devices := &fakeDevices{next: func() *fakeStream { return newFakeStream(64, 48, solidFrame(64, 48)) }}
	var got uploads
	a := NewAcquirer(Config{
		Upload:  got.record,
		Devices: devices,
		Now:     func() time.Time { return time.UnixMilli(1700000000000) },
	})

	if !a.OpenCamera(context.Background()) {
		t.Fatal("expected camera to open")
	}
	if err := a.Capture(context.Background()); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	a.WaitPreviews()

	images := got.all()
	if len(images) != 1 {
		t.Fatalf("expected one upload, got %d", len(images))
	}
	img := images[0]
	if img.ContentType != "image/jpeg" || img.Filename != "photo-1700000000000.jpg" {
		t.Fatalf("unexpected image metadata %+v", img)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("capture is not a jpeg: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 48 {
		t.Fatalf("expected 64x48, got %dx%d", cfg.Width, cfg.Height)
	}

	if a.CameraOpen() {
		t.Fatal("capture should close the session")
	}
	for i, n := range devices.streams[0].stopCounts() {
		if n != 1 {
			t.Fatalf("track %d stopped %d times", i, n)
		}
	}
	if !strings.HasPrefix(a.Preview(), "data:image/jpeg;base64,") {
		t.Fatalf("unexpected preview prefix %q", a.Preview())
	}
}

func TestCaptureDefaultsTo1280x720(t *testing.T) {
	devices := &fakeDevices{next: func() *fakeStream { return newFakeStream(0, 0, solidFrame(32, 18)) }}
	var got uploads
	a := NewAcquirer(Config{Upload: got.record, Devices: devices})

	a.OpenCamera(context.Background())
	if err := a.Capture(context.Background()); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	a.WaitPreviews()

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(got.all()[0].Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 1280 || cfg.Height != 720 {
		t.Fatalf("expected 1280x720, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestCaptureWithoutSession(t *testing.T) {
	a := NewAcquirer(Config{})
	if err := a.Capture(context.Background()); !errors.Is(err, ErrNoCaptureSession) {
		t.Fatalf("expected ErrNoCaptureSession, got %v", err)
	}
}

func TestCaptureFrameErrorKeepsSessionOpen(t *testing.T) {
	stream := newFakeStream(10, 10, nil)
	stream.err = errors.New("video not ready")
	devices := &fakeDevices{next: func() *fakeStream { return stream }}
	var got uploads
	a := NewAcquirer(Config{Upload: got.record, Devices: devices})

	a.OpenCamera(context.Background())
	if err := a.Capture(context.Background()); err == nil {
		t.Fatal("expected capture error")
	}
	if !a.CameraOpen() {
		t.Fatal("session should stay open after a failed capture")
	}
	if len(got.all()) != 0 {
		t.Fatal("no upload expected")
	}
}

func TestCloseCameraStopsTracksOnce(t *testing.T) {
	devices := &fakeDevices{next: func() *fakeStream { return newFakeStream(10, 10, solidFrame(10, 10)) }}
	a := NewAcquirer(Config{Devices: devices})
	a.OpenCamera(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.CloseCamera()
		}()
		go func() {
			defer wg.Done()
			a.Teardown()
		}()
	}
	wg.Wait()

	for i, n := range devices.streams[0].stopCounts() {
		if n != 1 {
			t.Fatalf("track %d stopped %d times", i, n)
		}
	}
}

func TestReopenReleasesPreviousSession(t *testing.T) {
	devices := &fakeDevices{next: func() *fakeStream { return newFakeStream(10, 10, solidFrame(10, 10)) }}
	a := NewAcquirer(Config{Devices: devices})

	a.OpenCamera(context.Background())
	a.OpenCamera(context.Background())

	if len(devices.streams) != 2 {
		t.Fatalf("expected two streams, got %d", len(devices.streams))
	}
	for i, n := range devices.streams[0].stopCounts() {
		if n != 1 {
			t.Fatalf("first stream track %d stopped %d times", i, n)
		}
	}
	for i, n := range devices.streams[1].stopCounts() {
		if n != 0 {
			t.Fatalf("second stream track %d stopped early (%d)", i, n)
		}
	}

	a.Teardown()
	for i, n := range devices.streams[1].stopCounts() {
		if n != 1 {
			t.Fatalf("second stream track %d stopped %d times", i, n)
		}
	}
}

func TestTeardownRejectsFurtherWork(t *testing.T) {
	devices := &fakeDevices{next: func() *fakeStream { return newFakeStream(10, 10, solidFrame(10, 10)) }}
	var got uploads
	a := NewAcquirer(Config{Upload: got.record, Devices: devices})
	a.Teardown()

	if a.OpenCamera(context.Background()) {
		t.Fatal("open after teardown should fail")
	}
	if a.Submit(File{Name: "a.png", ContentType: "image/png"}) {
		t.Fatal("submit after teardown should be ignored")
	}
	if err := a.Capture(context.Background()); !errors.Is(err, ErrTornDown) {
		t.Fatalf("expected ErrTornDown, got %v", err)
	}
	if len(devices.streams) != 0 {
		t.Fatal("no stream should be requested after teardown")
	}
}

func TestFromUpload(t *testing.T) {
	if _, err := FromUpload("a.pdf", "application/pdf", nil); !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
	img, err := FromUpload("a.webp", "Image/WebP", []byte{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Filename != "a.webp" || img.ContentType != "Image/WebP" {
		t.Fatalf("unexpected image %+v", img)
	}
}

// promptDevices holds GetUserMedia until answered or ctx is done.
type promptDevices struct {
	asked  chan struct{}
	answer chan *fakeStream
	calls  atomic.Int32
}

func newPromptDevices() *promptDevices {
	return &promptDevices{asked: make(chan struct{}, 4), answer: make(chan *fakeStream, 1)}
}

func (d *promptDevices) GetUserMedia(ctx context.Context, c Constraints) (MediaStream, error) {
	d.calls.Add(1)
	d.asked <- struct{}{}
	select {
	case s := <-d.answer:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCaptureIgnoresImplausibleReportedSize(t *testing.T) {
	devices := &fakeDevices{next: func() *fakeStream { return newFakeStream(8000, 8000, solidFrame(2, 2)) }}
	var got uploads
	a := NewAcquirer(Config{Upload: got.record, Devices: devices})

	a.OpenCamera(context.Background())
	if w, h := a.CameraSize(); w != 1280 || h != 720 {
		t.Fatalf("expected 1280x720, got %dx%d", w, h)
	}
	if err := a.Capture(context.Background()); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	a.WaitPreviews()

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(got.all()[0].Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 1280 || cfg.Height != 720 {
		t.Fatalf("expected 1280x720, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestCaptureScalesDownOversizedFrame(t *testing.T) {
	devices := &fakeDevices{next: func() *fakeStream {
		return newFakeStream(640, 480, solidFrame(MaxCaptureDimension*2, 4))
	}}
	var got uploads
	a := NewAcquirer(Config{Upload: got.record, Devices: devices})

	a.OpenCamera(context.Background())
	if err := a.Capture(context.Background()); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	a.WaitPreviews()

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(got.all()[0].Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width > MaxCaptureDimension || cfg.Height > MaxCaptureDimension {
		t.Fatalf("capture %dx%d exceeds the limit", cfg.Width, cfg.Height)
	}
}

func TestCloseCameraBeforePermissionAbandonsRequest(t *testing.T) {
	devices := newPromptDevices()
	fallback := &fakeFallback{}
	a := NewAcquirer(Config{Devices: devices, Fallback: fallback})

	opened := make(chan bool, 1)
	go func() { opened <- a.OpenCamera(context.Background()) }()
	<-devices.asked

	a.CloseCamera()

	select {
	case ok := <-opened:
		if ok {
			t.Fatal("open should fail once the camera is closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending open was not abandoned")
	}
	if a.CameraOpen() {
		t.Fatal("no session should be open after close")
	}
	if a.CameraError() != "" || fallback.opened.Load() != 0 {
		t.Fatal("closing the modal is not a camera failure")
	}
}

func TestLateGrantAfterCloseIsReleased(t *testing.T) {
	stream := newFakeStream(10, 10, solidFrame(10, 10))
	devices := &fakeDevices{}
	a := NewAcquirer(Config{Devices: devices})
	devices.next = func() *fakeStream {
		// The modal closes while the device is handing back the stream.
		a.CloseCamera()
		return stream
	}

	if a.OpenCamera(context.Background()) {
		t.Fatal("open should fail when closed before it completed")
	}
	if a.CameraOpen() {
		t.Fatal("no session should be open after close")
	}
	for i, n := range stream.stopCounts() {
		if n != 1 {
			t.Fatalf("track %d stopped %d times", i, n)
		}
	}
}

func TestOpenCameraWhilePromptPendingIsIgnored(t *testing.T) {
	devices := newPromptDevices()
	fallback := &fakeFallback{}
	a := NewAcquirer(Config{Devices: devices, Fallback: fallback})

	opened := make(chan bool, 1)
	go func() { opened <- a.OpenCamera(context.Background()) }()
	<-devices.asked

	if a.OpenCamera(context.Background()) {
		t.Fatal("second open should be ignored")
	}
	if a.CameraError() != "" || fallback.opened.Load() != 0 {
		t.Fatal("a pending prompt is not a camera failure")
	}
	if devices.calls.Load() != 1 {
		t.Fatalf("expected one permission prompt, got %d", devices.calls.Load())
	}

	devices.answer <- newFakeStream(10, 10, solidFrame(10, 10))
	if !<-opened {
		t.Fatal("first open should succeed")
	}
	if !a.CameraOpen() {
		t.Fatal("expected an open session")
	}
}
