package scanner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// StdinDevice selects standard input as the scanner device.
const StdinDevice = "-"

// LineCameraProvider opens line-oriented scanners: keyboard-wedge readers
// piped to stdin, or serial readers exposed as a character device.  Each
// line the device emits is one frame.  A device can be held by one camera
// at a time.
type LineCameraProvider struct {
	// OpenDevice opens the device path; defaults to a read-only os.OpenFile.
	OpenDevice func(path string) (io.ReadCloser, error)

	mu      sync.Mutex
	held    map[string]bool
	sources map[string]*lineSource
}

// lineSource reads one device.  A persistent source (stdin, which cannot
// be closed) outlives its cameras and is reattached by the next Open;
// lines read while no camera is attached are dropped.
type lineSource struct {
	rc         io.ReadCloser
	persistent bool
	frames     chan Frame
	attached   atomic.Bool
	ended      chan struct{}
}

func newLineSource(rc io.ReadCloser, persistent bool) *lineSource {
	s := &lineSource{rc: rc, persistent: persistent, frames: make(chan Frame, 16), ended: make(chan struct{})}
	go s.pump()
	return s
}

func (s *lineSource) pump() {
	defer close(s.ended)
	sc := bufio.NewScanner(s.rc)
	for sc.Scan() {
		if !s.attached.Load() || len(sc.Bytes()) == 0 {
			continue
		}
		line := append(Frame(nil), sc.Bytes()...)
		select {
		case s.frames <- line:
		default:
			// the loop is behind; drop rather than block the device
		}
	}
}

func (s *lineSource) alive() bool {
	select {
	case <-s.ended:
		return false
	default:
		return true
	}
}

func (s *lineSource) drain() {
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}

func (p *LineCameraProvider) Open(ctx context.Context, deviceID string) (Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deviceID == "" {
		return nil, &AcquireError{Device: deviceID, Kind: ErrNoDevice, Err: errors.New("empty device path")}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held == nil {
		p.held = make(map[string]bool)
		p.sources = make(map[string]*lineSource)
	}
	if p.held[deviceID] {
		return nil, &AcquireError{Device: deviceID, Kind: ErrDeviceBusy, Err: errors.New("already open")}
	}

	src := p.sources[deviceID]
	if src == nil || !src.persistent || !src.alive() {
		rc, err := p.openDevice(deviceID)
		if err != nil {
			return nil, classify(deviceID, err)
		}
		src = newLineSource(rc, deviceID == StdinDevice && p.OpenDevice == nil)
		p.sources[deviceID] = src
	}
	src.drain()
	src.attached.Store(true)
	p.held[deviceID] = true
	return &LineCamera{src: src, release: func() { p.release(deviceID) }}, nil
}

func (p *LineCameraProvider) openDevice(path string) (io.ReadCloser, error) {
	if p.OpenDevice != nil {
		return p.OpenDevice(path)
	}
	if path == StdinDevice {
		return io.NopCloser(os.Stdin), nil
	}
	return os.OpenFile(path, os.O_RDONLY, 0)
}

func (p *LineCameraProvider) release(deviceID string) {
	p.mu.Lock()
	delete(p.held, deviceID)
	p.mu.Unlock()
}

// LineCamera is an attached line source.  ReadFrame never blocks: it
// returns the next buffered line, or an empty frame when none arrived.
type LineCamera struct {
	src     *lineSource
	release func()

	closeOnce sync.Once
	closeErr  error
}

func (c *LineCamera) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f := <-c.src.frames:
		return f, nil
	default:
		return nil, nil
	}
}

// Close detaches from the device and closes it.  Buffered lines are
// discarded by the next Open.
func (c *LineCamera) Close() error {
	c.closeOnce.Do(func() {
		c.src.attached.Store(false)
		if !c.src.persistent {
			c.closeErr = c.src.rc.Close()
		}
		c.release()
	})
	return c.closeErr
}
