package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoMicrophone captures 16-bit PCM from the default input device
type MalgoMicrophone struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	format Format
}

// NewMalgoMicrophone creates an unopened microphone
func NewMalgoMicrophone() *MalgoMicrophone {
	return &MalgoMicrophone{}
}

// Open acquires the audio backend. Calling Open on an open microphone is an error.
func (m *MalgoMicrophone) Open(format Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return errors.New("microphone already open")
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return fmt.Errorf("invalid capture format: %+v", format)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	m.ctx = ctx
	m.format = format
	return nil
}

// Start begins delivering PCM frames to onData. Frames are copied out of the
// device buffer before the callback runs.
func (m *MalgoMicrophone) Start(onData func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return errors.New("microphone not open")
	}
	if m.device != nil {
		return errors.New("microphone already started")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.format.Channels)
	deviceConfig.SampleRate = uint32(m.format.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) == 0 {
				return
			}
			frame := make([]byte, len(input))
			copy(frame, input)
			onData(frame)
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}
	m.device = dev
	return nil
}

// Close stops capture and releases the device. Safe to call more than once.
func (m *MalgoMicrophone) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}
