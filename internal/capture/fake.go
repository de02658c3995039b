package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/lexiqai/speech-coach/internal/audio"
	"github.com/lexiqai/speech-coach/internal/stt"
)

// FakeRecognizer is a scriptable Recognizer for tests and offline runs
type FakeRecognizer struct {
	events chan stt.Event

	mu        sync.Mutex
	active    bool
	starts    int
	stops     int
	sent      int
	startErr  []error
	startGate chan struct{}
}

// NewFakeRecognizer creates an idle fake recognizer
func NewFakeRecognizer() *FakeRecognizer {
	return &FakeRecognizer{events: make(chan stt.Event, 64)}
}

// FailStarts makes the next len(errs) Start calls return errs in order
func (f *FakeRecognizer) FailStarts(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = append(f.startErr, errs...)
}

// BlockStarts makes Start wait until the returned release func is called
func (f *FakeRecognizer) BlockStarts() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.startGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *FakeRecognizer) Start(ctx context.Context) error {
	f.mu.Lock()
	gate := f.startGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if len(f.startErr) > 0 {
		err := f.startErr[0]
		f.startErr = f.startErr[1:]
		if err != nil {
			return err
		}
	}
	if f.active {
		return errors.New("already active")
	}
	f.active = true
	return nil
}

func (f *FakeRecognizer) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return stt.ErrNotActive
	}
	f.sent += len(pcm)
	return nil
}

func (f *FakeRecognizer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.active = false
	return nil
}

func (f *FakeRecognizer) Events() <-chan stt.Event { return f.events }

func (f *FakeRecognizer) Close() error { return f.Stop() }

// Emit queues an event as if the engine produced it
func (f *FakeRecognizer) Emit(ev stt.Event) {
	f.events <- ev
}

// End simulates the engine ending on its own
func (f *FakeRecognizer) End() {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
	f.events <- stt.Event{Kind: stt.EventEnded}
}

// Active reports whether a session is open
func (f *FakeRecognizer) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Starts returns how many times Start was called
func (f *FakeRecognizer) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// BytesSent returns the PCM byte count received while active
func (f *FakeRecognizer) BytesSent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

// FakeMicrophone is a Microphone whose frames are pushed by the test
type FakeMicrophone struct {
	mu      sync.Mutex
	open    bool
	onData  func([]byte)
	openErr error
	opens   int
}

// NewFakeMicrophone creates a closed fake microphone
func NewFakeMicrophone() *FakeMicrophone {
	return &FakeMicrophone{}
}

// Deny makes the next Open fail with err
func (f *FakeMicrophone) Deny(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *FakeMicrophone) Open(audio.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		err := f.openErr
		f.openErr = nil
		return err
	}
	if f.open {
		return errors.New("microphone already open")
	}
	f.open = true
	return nil
}

func (f *FakeMicrophone) Start(onData func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return errors.New("microphone not open")
	}
	f.onData = onData
	return nil
}

func (f *FakeMicrophone) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.onData = nil
}

// Push delivers a PCM frame if capture is running
func (f *FakeMicrophone) Push(pcm []byte) {
	f.mu.Lock()
	cb := f.onData
	f.mu.Unlock()
	if cb != nil {
		cb(pcm)
	}
}

// IsOpen reports whether the device is held
func (f *FakeMicrophone) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Opens returns how many times Open was called
func (f *FakeMicrophone) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}
