package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-coach/internal/apperr"
	"github.com/lexiqai/speech-coach/internal/config"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/lexiqai/speech-coach/internal/resilience"
)

// ErrNotActive is returned by SendAudio while no connection is open
var ErrNotActive = errors.New("recognizer is not active")

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	recognizer *DeepgramRecognizer
	gen        uint64
}

// Message forwards transcription results
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.recognizer.handleMessage(m.gen, message)
	return nil
}

// Error maps a Deepgram error onto a capability error event
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	detail := fmt.Sprintf("%+v", errorResponse)
	m.recognizer.emit(m.gen, Event{Kind: EventError, Code: ClassifyError(detail), Detail: detail})
	return nil
}

// Close reports the end of the stream
func (m *messageCallbackHandler) Close(closeResponse *msginterfaces.CloseResponse) error {
	m.recognizer.handleClose(m.gen)
	return nil
}

// DeepgramRecognizer streams PCM to Deepgram and delivers ordered results.
// One connection is open at a time; Start after an end opens a new one.
type DeepgramRecognizer struct {
	config *config.Config
	logger zerolog.Logger
	events chan Event

	mu       sync.Mutex
	client   *listenClient.WSCallback
	ctx      context.Context
	cancel   context.CancelFunc
	gen      uint64
	active   bool
	stopping bool
}

// NewDeepgramRecognizer creates a recognizer for linear16 PCM at the
// configured sample rate and channel count
func NewDeepgramRecognizer(cfg *config.Config) *DeepgramRecognizer {
	return &DeepgramRecognizer{
		config: cfg,
		logger: observability.Component("stt"),
		events: make(chan Event, 256),
	}
}

// Events returns the event stream. The channel is never closed.
func (d *DeepgramRecognizer) Events() <-chan Event {
	return d.events
}

// Start opens a streaming connection, re-dialing with backoff if the first
// attempts fail
func (d *DeepgramRecognizer) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return fmt.Errorf("deepgram recognizer is already active")
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.gen++
	gen := d.gen
	d.stopping = false
	streamCtx, cancel := context.WithCancel(context.Background())
	d.ctx = streamCtx
	d.cancel = cancel
	d.mu.Unlock()

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: d.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  5 * time.Second,
	}

	var client *listenClient.WSCallback
	err := resilience.Reconnect(ctx, d.logger, func(ctx context.Context) error {
		c, err := d.dial(streamCtx, gen)
		if err != nil {
			return err
		}
		client = c
		return nil
	}, reconnectConfig)
	if err != nil {
		cancel()
		return apperr.Capability(apperr.CodeNetwork, err.Error())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen || d.stopping {
		// Stop raced with the dial
		client.Finish()
		return context.Canceled
	}
	d.client = client
	d.active = true

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Msg("Deepgram streaming recognizer started")
	return nil
}

func (d *DeepgramRecognizer) dial(ctx context.Context, gen uint64) (*listenClient.WSCallback, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       d.config.Channels,
		SampleRate:     d.config.SampleRate,
	}
	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		recognizer:             d,
		gen:                    gen,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.config.DeepgramAPIKey, cOptions, tOptions, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return nil, fmt.Errorf("failed to connect to Deepgram")
	}
	return client, nil
}

func (d *DeepgramRecognizer) handleMessage(gen uint64, msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	text := msg.Channel.Alternatives[0].Transcript
	if text == "" {
		return
	}

	kind := EventInterim
	if msg.IsFinal {
		kind = EventFinal
	}
	d.emit(gen, Event{Kind: kind, Text: text})
}

func (d *DeepgramRecognizer) handleClose(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	requested := d.stopping
	d.active = false
	d.client = nil
	d.mu.Unlock()

	if requested {
		return
	}
	d.logger.Warn().Msg("Deepgram stream ended unexpectedly")
	d.emit(gen, Event{Kind: EventEnded})
}

// emit delivers ev unless it belongs to a replaced connection or the
// recognizer was stopped
func (d *DeepgramRecognizer) emit(gen uint64, ev Event) {
	d.mu.Lock()
	current := gen == d.gen && !d.stopping
	ctx := d.ctx
	d.mu.Unlock()

	if !current {
		return
	}
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

// SendAudio writes one PCM frame to the open connection
func (d *DeepgramRecognizer) SendAudio(pcm []byte) error {
	d.mu.Lock()
	client := d.client
	active := d.active
	d.mu.Unlock()

	if !active || client == nil {
		return ErrNotActive
	}
	if _, err := client.Write(pcm); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

// Stop closes the connection. An end caused by Stop is not reported as an
// Ended event.
func (d *DeepgramRecognizer) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopping = true
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if !d.active {
		return nil
	}

	client := d.client
	d.client = nil
	d.active = false
	if client != nil {
		client.Finish()
	}
	d.logger.Info().Msg("Deepgram streaming recognizer stopped")
	return nil
}

// Close releases the recognizer
func (d *DeepgramRecognizer) Close() error {
	return d.Stop()
}

// Configured reports whether an API key is present
func (d *DeepgramRecognizer) Configured() bool {
	return d.config.DeepgramAPIKey != ""
}

// ClassifyError maps a Deepgram error description onto a capability code
func ClassifyError(detail string) apperr.CapabilityCode {
	s := strings.ToLower(detail)
	switch {
	case containsAny(s, "401", "403", "unauthorized", "forbidden", "invalid credentials", "insufficient permissions"):
		return apperr.CodePermissionDenied
	case containsAny(s, "no speech", "no_speech"):
		return apperr.CodeNoSpeech
	case containsAny(s, "network", "connection", "socket", "timeout", "eof", "broken pipe", "1006", "1011"):
		return apperr.CodeNetwork
	}
	return apperr.CodeUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
