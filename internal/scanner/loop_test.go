package scanner

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCamera struct {
	mu       sync.Mutex
	frames   []Frame
	repeat   Frame
	readErrs int
	reads    int
	closes   atomic.Int32
}

func (c *fakeCamera) ReadFrame(context.Context) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.readErrs > 0 {
		c.readErrs--
		return nil, errors.New("frame dropped")
	}
	if len(c.frames) > 0 {
		f := c.frames[0]
		c.frames = c.frames[1:]
		return f, nil
	}
	return c.repeat, nil
}

func (c *fakeCamera) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *fakeCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

type fakeProvider struct {
	mu   sync.Mutex
	cams map[string]*fakeCamera
	errs map[string]error
}

func (p *fakeProvider) Open(_ context.Context, id string) (Camera, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[id]; err != nil {
		return nil, err
	}
	cam, ok := p.cams[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return cam, nil
}

func repeated(code string, n int) []Frame {
	out := make([]Frame, n)
	for i := range out {
		out[i] = Frame(code)
	}
	return out
}

type scans struct {
	count atomic.Int32
	ch    chan string
}

func newScans() *scans { return &scans{ch: make(chan string, 16)} }

func (s *scans) onScan(code string) {
	s.count.Add(1)
	s.ch <- code
}

func (s *scans) next(t *testing.T) string {
	t.Helper()
	select {
	case code := <-s.ch:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("no scan delivered")
		return ""
	}
}

func fastLoop(p CameraProvider) *Loop {
	return NewLoop(p, TextDecoder{}, Options{Interval: time.Millisecond, Debounce: time.Second})
}

func TestLoopEmitsOncePerScan(t *testing.T) {
	cam := &fakeCamera{frames: repeated("QR-ABCD1234", 10)}
	l := fastLoop(&fakeProvider{cams: map[string]*fakeCamera{"cam0": cam}})
	s := newScans()

	require.NoError(t, l.Start(context.Background(), "cam0", s.onScan))
	assert.Equal(t, "QR-ABCD1234", s.next(t))

	assert.Eventually(t, func() bool { return l.State() == StateIdle }, time.Second, time.Millisecond)
	reads := cam.Reads()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, s.count.Load())
	assert.Equal(t, reads, cam.Reads(), "loop kept polling after detection")
	assert.EqualValues(t, 1, cam.closes.Load())
}

func TestLoopSwallowsDecodeMisses(t *testing.T) {
	cam := &fakeCamera{readErrs: 3, frames: []Frame{Frame("garbage"), nil, Frame("TKT-ZZZZ9999")}}
	l := fastLoop(&fakeProvider{cams: map[string]*fakeCamera{"cam0": cam}})
	s := newScans()

	require.NoError(t, l.Start(context.Background(), "cam0", s.onScan))
	assert.Equal(t, "TKT-ZZZZ9999", s.next(t))
}

func TestStopIsIdempotentAndReleasesCamera(t *testing.T) {
	cam := &fakeCamera{}
	l := fastLoop(&fakeProvider{cams: map[string]*fakeCamera{"cam0": cam}})

	require.NoError(t, l.Start(context.Background(), "cam0", func(string) {}))
	assert.Eventually(t, func() bool { return cam.Reads() > 2 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, l.Start(context.Background(), "cam0", func(string) {}), ErrLoopRunning)

	l.Stop()
	l.Stop()
	assert.Equal(t, StateStopped, l.State())
	assert.EqualValues(t, 1, cam.closes.Load())

	fresh := fastLoop(&fakeProvider{})
	fresh.Stop()
	assert.Equal(t, StateStopped, fresh.State())
}

func TestCancelledContextReleasesCamera(t *testing.T) {
	cam := &fakeCamera{}
	l := fastLoop(&fakeProvider{cams: map[string]*fakeCamera{"cam0": cam}})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Start(ctx, "cam0", func(string) {}))
	cancel()
	assert.Eventually(t, func() bool { return cam.closes.Load() == 1 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return l.State() == StateIdle }, time.Second, time.Millisecond)
}

func TestStopFromOnScan(t *testing.T) {
	cam := &fakeCamera{repeat: Frame("QR-ABCD1234")}
	l := fastLoop(&fakeProvider{cams: map[string]*fakeCamera{"cam0": cam}})
	stopped := make(chan struct{})

	require.NoError(t, l.Start(context.Background(), "cam0", func(string) {
		l.Stop()
		close(stopped)
	}))
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop inside onScan deadlocked")
	}
	assert.Equal(t, StateStopped, l.State())
}

// stopOnDecode stops the loop while a frame is being decoded, before the
// code reaches the debounce check.
type stopOnDecode struct {
	loop    *Loop
	stopped chan struct{}
	once    sync.Once
}

func (d *stopOnDecode) Decode(f Frame) (string, error) {
	d.once.Do(func() {
		go func() {
			d.loop.Stop()
			close(d.stopped)
		}()
		for d.loop.State() != StateStopped {
			time.Sleep(time.Millisecond)
		}
	})
	return TextDecoder{}.Decode(f)
}

func TestStopWithdrawsCodeNotYetHandedOver(t *testing.T) {
	cam := &fakeCamera{repeat: Frame("QR-ABCD1234")}
	dec := &stopOnDecode{stopped: make(chan struct{})}
	l := NewLoop(&fakeProvider{cams: map[string]*fakeCamera{"cam0": cam}}, dec, Options{Interval: time.Millisecond})
	dec.loop = l
	s := newScans()

	require.NoError(t, l.Start(context.Background(), "cam0", s.onScan))
	select {
	case <-dec.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, s.count.Load(), "code delivered after Stop returned")
	assert.Equal(t, StateStopped, l.State())
	assert.EqualValues(t, 1, cam.closes.Load())
}

func TestAcquisitionErrorsAreClassified(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		kind  error
		state State
	}{
		{"permission", os.ErrPermission, ErrPermissionDenied, StateDenied},
		{"eacces", &fs.PathError{Op: "open", Path: "/dev/ttyACM0", Err: syscall.EACCES}, ErrPermissionDenied, StateDenied},
		{"missing", fs.ErrNotExist, ErrNoDevice, StateIdle},
		{"busy", &fs.PathError{Op: "open", Path: "/dev/ttyACM0", Err: syscall.EBUSY}, ErrDeviceBusy, StateIdle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := fastLoop(&fakeProvider{errs: map[string]error{"cam0": tc.err}})
			err := l.Start(context.Background(), "cam0", func(string) {})

			var ae *AcquireError
			require.ErrorAs(t, err, &ae)
			assert.ErrorIs(t, err, tc.kind)
			assert.ErrorIs(t, err, tc.err)
			assert.NotEmpty(t, Guidance(err))
			assert.Equal(t, tc.state, l.State())
		})
	}
	assert.Empty(t, Guidance(errors.New("other")))
}

func TestDebounceSuppressesSameCode(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC).UnixNano())
	cam := &fakeCamera{repeat: Frame("QR-ABCD1234")}
	l := NewLoop(&fakeProvider{cams: map[string]*fakeCamera{"cam0": cam}}, TextDecoder{}, Options{
		Interval: time.Millisecond,
		Debounce: 2 * time.Second,
		Now:      func() time.Time { return time.Unix(0, now.Load()) },
	})
	s := newScans()

	require.NoError(t, l.Start(context.Background(), "cam0", s.onScan))
	s.next(t)
	assert.Eventually(t, func() bool { return l.State() == StateIdle }, time.Second, time.Millisecond)

	// the guest is still holding the same code in front of the reader
	require.NoError(t, l.Start(context.Background(), "cam0", s.onScan))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, s.count.Load())

	now.Add(int64(3 * time.Second))
	assert.Equal(t, "QR-ABCD1234", s.next(t))
}

func TestSwitchDeviceRestartsLoop(t *testing.T) {
	front := &fakeCamera{}
	rear := &fakeCamera{repeat: Frame("QR-REAR0001")}
	l := fastLoop(&fakeProvider{cams: map[string]*fakeCamera{"front": front, "rear": rear}})
	s := newScans()

	assert.ErrorIs(t, l.SwitchDevice(context.Background(), "rear"), ErrNotStarted)

	require.NoError(t, l.Start(context.Background(), "front", s.onScan))
	require.NoError(t, l.SwitchDevice(context.Background(), "rear"))
	assert.Equal(t, "QR-REAR0001", s.next(t))
	assert.EqualValues(t, 1, front.closes.Load())
	assert.Equal(t, "rear", l.Device())
}

func TestLineCameraFeedsLoop(t *testing.T) {
	pr, pw := io.Pipe()
	p := &LineCameraProvider{OpenDevice: func(string) (io.ReadCloser, error) { return pr, nil }}
	l := fastLoop(p)
	s := newScans()

	require.NoError(t, l.Start(context.Background(), "/dev/ttyACM0", s.onScan))
	go func() {
		_, _ = io.WriteString(pw, "noise\n\nqr-abcd1234\n")
	}()
	assert.Equal(t, "QR-ABCD1234", s.next(t))
	assert.Eventually(t, func() bool { return l.State() == StateIdle }, time.Second, time.Millisecond)
}

func TestLineCameraProviderHoldsDeviceOnce(t *testing.T) {
	p := &LineCameraProvider{OpenDevice: func(string) (io.ReadCloser, error) {
		pr, _ := io.Pipe()
		return pr, nil
	}}
	cam, err := p.Open(context.Background(), "/dev/ttyACM0")
	require.NoError(t, err)

	_, err = p.Open(context.Background(), "/dev/ttyACM0")
	assert.ErrorIs(t, err, ErrDeviceBusy)

	require.NoError(t, cam.Close())
	require.NoError(t, cam.Close())
	cam, err = p.Open(context.Background(), "/dev/ttyACM0")
	require.NoError(t, err)
	require.NoError(t, cam.Close())

	_, err = (&LineCameraProvider{}).Open(context.Background(), "/definitely/not/a/device")
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestTextDecoder(t *testing.T) {
	cases := map[string]string{
		"QR-ABCD1234":                           "QR-ABCD1234",
		"  tkt-0a1b2c3d \r":                     "TKT-0A1B2C3D",
		"https://hotel.example/v?c=QR-XYZ98765": "QR-XYZ98765",
	}
	for in, want := range cases {
		got, err := TextDecoder{}.Decode(Frame(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, miss := range []string{"", "hello", "QR-SHORT", "XX-ABCD1234"} {
		_, err := TextDecoder{}.Decode(Frame(miss))
		assert.ErrorIs(t, err, ErrNoCode, miss)
	}
}
