// Package scanner captures ticket codes from a camera-like device at the
// gate.  A Loop polls frames on a fixed interval, decodes them, and hands
// each physical scan to the caller exactly once.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the capture loop state.
type State int

const (
	StateIdle State = iota
	StateRequestingPermission
	StateGranted
	StateDenied
	StateStreaming
	StateScanning
	StateDetected
	StateStopped
)

var stateNames = [...]string{"idle", "requesting_permission", "granted", "denied", "streaming", "scanning", "detected", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Frame is one unit of device output.
type Frame []byte

// Camera is an acquired device.  ReadFrame returns the current frame and
// must not block past ctx; Close releases the device.
type Camera interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// CameraProvider acquires devices by id.
type CameraProvider interface {
	Open(ctx context.Context, deviceID string) (Camera, error)
}

// Decoder extracts a code from a frame, returning ErrNoCode on a miss.
type Decoder interface {
	Decode(f Frame) (string, error)
}

// Options tunes a Loop.
type Options struct {
	Interval time.Duration // frame polling interval, default 100ms
	Debounce time.Duration // same code is not re-emitted within this window, default 2s
	Now      func() time.Time
}

// Loop owns the camera and the decode ticker.  At most one decode loop
// runs at a time, and the camera is released on every exit path: a
// detection, Stop, or cancellation of the Start context.
type Loop struct {
	provider CameraProvider
	decoder  Decoder
	opts     Options

	mu       sync.Mutex
	state    State
	cam      Camera
	cancel   context.CancelFunc
	done     chan struct{}
	device   string
	onScan   func(string)
	lastCode string
	lastAt   time.Time
}

func NewLoop(provider CameraProvider, decoder Decoder, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loop{provider: provider, decoder: decoder, opts: opts}
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Device returns the device of the last Start.
func (l *Loop) Device() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.device
}

// Start acquires deviceID and begins decoding.  A refused permission
// leaves the loop Denied until the next Start; other acquisition failures
// leave it Idle.  onScan runs on the loop
// goroutine once per scan, after the camera has been released, so it may
// call Start again to wait for the next guest.  Acquisition failures are
// returned as *AcquireError; see Guidance.
func (l *Loop) Start(ctx context.Context, deviceID string, onScan func(code string)) error {
	l.mu.Lock()
	if l.done != nil {
		l.mu.Unlock()
		return ErrLoopRunning
	}
	l.state = StateRequestingPermission
	l.device, l.onScan = deviceID, onScan
	// reserve the slot so a concurrent Start fails while we acquire
	acquiring := make(chan struct{})
	l.done = acquiring
	l.mu.Unlock()

	cam, err := l.provider.Open(ctx, deviceID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		err = classify(deviceID, err)
		if l.state == StateRequestingPermission {
			l.state = StateIdle
			if errors.Is(err, ErrPermissionDenied) {
				l.state = StateDenied
			}
		}
		log.Warn().Err(err).Str("device", deviceID).Msg("scanner: acquisition failed")
		l.done = nil
		close(acquiring)
		return err
	}
	if l.state == StateStopped {
		// Stop ran while the device was being opened
		_ = cam.Close()
		l.done = nil
		close(acquiring)
		return context.Canceled
	}
	l.state = StateGranted
	l.cam = cam
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	done := make(chan struct{})
	l.done = done
	close(acquiring)
	go l.run(loopCtx, cam, onScan, done)
	return nil
}

// Stop cancels the loop and releases the camera.  It is idempotent and
// safe in any state, including from inside onScan.  A code detected before
// Stop took the lock has already been handed over and is still delivered;
// any later frame is discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.state = StateStopped
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	l.mu.Lock()
	l.release()
	l.state = StateStopped
	l.mu.Unlock()
}

// SwitchDevice restarts the loop on another device with the last onScan
// callback.
func (l *Loop) SwitchDevice(ctx context.Context, deviceID string) error {
	l.mu.Lock()
	onScan := l.onScan
	l.mu.Unlock()
	if onScan == nil {
		return ErrNotStarted
	}
	l.Stop()
	return l.Start(ctx, deviceID, onScan)
}

func (l *Loop) run(ctx context.Context, cam Camera, onScan func(string), done chan struct{}) {
	defer close(done)
	l.setState(StateStreaming)
	code := l.scan(ctx, cam)

	l.mu.Lock()
	if code == "" {
		// cancelled or stopped; the loop is still attached
		l.detach()
		if l.state != StateStopped {
			l.state = StateIdle
		}
		l.mu.Unlock()
		return
	}
	if l.state == StateDetected {
		l.state = StateIdle
	}
	l.mu.Unlock()

	if onScan != nil {
		onScan(code)
	}
}

// scan polls until a fresh code is decoded or ctx ends.
func (l *Loop) scan(ctx context.Context, cam Camera) string {
	t := time.NewTicker(l.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ""
		case <-t.C:
		}
		l.setState(StateScanning)
		frame, err := cam.ReadFrame(ctx)
		if err != nil || len(frame) == 0 {
			l.setState(StateStreaming)
			continue
		}
		code, err := l.decoder.Decode(frame)
		if err != nil || code == "" {
			l.setState(StateStreaming)
			continue
		}
		if l.accept(code) {
			return code
		}
		l.setState(StateStreaming)
	}
}

// accept applies the debounce window.  An accepted code marks the loop
// Detected and detaches it in the same critical section, so a concurrent
// Stop either withdraws the code or finds it already handed over.
func (l *Loop) accept(code string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateStopped {
		return false
	}
	now := l.opts.Now()
	if code == l.lastCode && now.Sub(l.lastAt) < l.opts.Debounce {
		return false
	}
	l.lastCode, l.lastAt = code, now
	l.state = StateDetected
	l.detach()
	return true
}

// detach releases the camera and forgets the running decode loop, which
// lets Start run again from onScan.  Callers hold mu.
func (l *Loop) detach() {
	l.release()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.done = nil
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	if l.state != StateStopped {
		l.state = s
	}
	l.mu.Unlock()
}

// release closes the camera once.  Callers hold mu.
func (l *Loop) release() {
	if l.cam == nil {
		return
	}
	if err := l.cam.Close(); err != nil {
		log.Warn().Err(err).Str("device", l.device).Msg("scanner: closing device")
	}
	l.cam = nil
}
