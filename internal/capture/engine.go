// Package capture drives the recognition and microphone capabilities for
// one recording at a time.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-coach/internal/apperr"
	"github.com/lexiqai/speech-coach/internal/audio"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/lexiqai/speech-coach/internal/stt"
)

// ErrCaptureBusy is returned when capture is already owned by a recording
var ErrCaptureBusy = errors.New("capture already active")

// Recognizer is a continuous speech recognition capability
type Recognizer interface {
	Start(ctx context.Context) error
	SendAudio(pcm []byte) error
	Stop() error
	Events() <-chan stt.Event
	Close() error
}

// Microphone is an audio input capability delivering PCM frames
type Microphone interface {
	Open(format audio.Format) error
	Start(onData func(pcm []byte)) error
	Close()
}

// Sink receives the output of one recording. Calls arrive from capture
// goroutines; recognition results are delivered in order.
type Sink interface {
	// Active reports whether the owner still considers itself recording
	Active() bool
	OnInterim(text string)
	OnFinal(text string)
	OnChunk(chunk audio.Chunk)
	// OnCapabilityError receives every non-benign recognizer error
	OnCapabilityError(err *apperr.Error)
}

// Config holds capture tuning
type Config struct {
	Format        audio.Format
	BufferSize    int
	ChunkInterval time.Duration
	RestartDelay  time.Duration
}

// Engine owns the microphone and recognizer exclusively while a recording
// is in progress
type Engine struct {
	rec    Recognizer
	mic    Microphone
	cfg    Config
	logger zerolog.Logger

	mu  sync.Mutex
	run *run
}

type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	sink   Sink
	buf    *audio.RingBuffer

	micOpen    bool
	restartTmr *time.Timer
	stopped    bool
	wg         sync.WaitGroup
}

// NewEngine creates an idle engine
func NewEngine(rec Recognizer, mic Microphone, cfg Config) *Engine {
	return &Engine{
		rec:    rec,
		mic:    mic,
		cfg:    cfg,
		logger: observability.Component("capture"),
	}
}

// Active reports whether capture is currently owned
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run != nil
}

// Open acquires the microphone. Failure is a permission error and leaves
// the engine idle.
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return ErrCaptureBusy
	}
	if err := e.mic.Open(e.cfg.Format); err != nil {
		return apperr.Permission("microphone", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.run = &run{
		ctx:     ctx,
		cancel:  cancel,
		buf:     audio.NewRingBuffer(e.cfg.BufferSize),
		micOpen: true,
	}
	return nil
}

// Begin starts recognition, then the microphone feed and chunk cadence.
// Open must have succeeded. On error the caller is expected to call Stop.
func (e *Engine) Begin(ctx context.Context, sink Sink) error {
	e.mu.Lock()
	r := e.run
	if r == nil || r.stopped {
		e.mu.Unlock()
		return errors.New("capture not open")
	}
	r.sink = sink
	e.mu.Unlock()

	// Events left over from the previous recording belong to its sink
	e.drainEvents()

	if err := e.rec.Start(ctx); err != nil {
		return e.recognitionStartError(err)
	}

	if !e.track(r) {
		e.rec.Stop()
		return context.Canceled
	}
	go func() {
		defer r.wg.Done()
		e.consume(r)
	}()

	if err := e.mic.Start(func(pcm []byte) { e.feed(r, pcm) }); err != nil {
		return apperr.Permission("microphone", err)
	}

	if !e.track(r) {
		return context.Canceled
	}
	chunker := audio.NewChunker(r.buf, e.cfg.ChunkInterval)
	chunker.DetectSpeech(audio.NewVADDetector(audio.DefaultVADConfig(), e.cfg.Format))
	go func() {
		defer r.wg.Done()
		chunker.Run(r.ctx, func(chunk audio.Chunk) {
			observability.SetInputLevel(chunk.Level)
			observability.RecordSpeechRatio(chunk.Speech)
			sink.OnChunk(chunk)
		})
	}()

	return nil
}

// track registers a goroutine with r unless r was already stopped
func (e *Engine) track(r *run) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.stopped {
		return false
	}
	r.wg.Add(1)
	return true
}

func (e *Engine) recognitionStartError(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Capability(apperr.CodeUnknown, err.Error())
}

// Stop releases everything the current recording acquired. It is safe to
// call at any point, including when nothing was started.
func (e *Engine) Stop() {
	e.mu.Lock()
	r := e.run
	if r == nil {
		e.mu.Unlock()
		return
	}
	r.stopped = true
	if r.restartTmr != nil {
		r.restartTmr.Stop()
	}
	e.run = nil
	e.mu.Unlock()

	e.rec.Stop()
	r.cancel()
	if r.micOpen {
		e.mic.Close()
	}
	r.wg.Wait()
	e.drainEvents()
}

// drainEvents discards whatever the recognizer has queued without blocking
func (e *Engine) drainEvents() {
	events := e.rec.Events()
	for {
		select {
		case ev := <-events:
			e.logger.Debug().Str("kind", ev.Kind.String()).Msg("Discarding recognizer event from a finished recording")
		default:
			return
		}
	}
}

// Close stops capture and releases the recognizer
func (e *Engine) Close() error {
	e.Stop()
	return e.rec.Close()
}

func (e *Engine) feed(r *run, pcm []byte) {
	if r.ctx.Err() != nil {
		return
	}
	if err := e.rec.SendAudio(pcm); err != nil && !errors.Is(err, stt.ErrNotActive) {
		e.logger.Debug().Err(err).Msg("Dropping audio frame for recognizer")
	}
	r.buf.Write(pcm)
}

func (e *Engine) consume(r *run) {
	events := e.rec.Events()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-events:
			e.handle(r, ev)
		}
	}
}

func (e *Engine) handle(r *run, ev stt.Event) {
	switch ev.Kind {
	case stt.EventInterim:
		r.sink.OnInterim(ev.Text)

	case stt.EventFinal:
		r.sink.OnFinal(ev.Text)

	case stt.EventError:
		observability.RecordCapabilityError(string(ev.Code))
		if ev.Code == apperr.CodeNoSpeech {
			e.logger.Debug().Msg("Recognizer reported no speech")
			return
		}
		e.logger.Warn().Str("code", string(ev.Code)).Str("detail", ev.Detail).Msg("Recognizer error")
		r.sink.OnCapabilityError(apperr.Capability(ev.Code, ev.Detail))

	case stt.EventEnded:
		e.scheduleRestart(r)
	}
}

// scheduleRestart makes exactly one attempt to bring recognition back after
// an unexpected end, provided the recording is still live when the delay
// expires
func (e *Engine) scheduleRestart(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r.stopped || e.run != r {
		return
	}
	if r.restartTmr != nil {
		r.restartTmr.Stop()
	}
	r.restartTmr = time.AfterFunc(e.cfg.RestartDelay, func() {
		e.restart(r)
	})
}

func (e *Engine) restart(r *run) {
	e.mu.Lock()
	live := !r.stopped && e.run == r
	e.mu.Unlock()

	if !live || !r.sink.Active() {
		e.logger.Debug().Msg("Skipping recognition restart; recording no longer active")
		return
	}

	err := e.rec.Start(r.ctx)
	observability.RecordRecognitionRestart(err == nil)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Recognition restart failed")
		r.sink.OnCapabilityError(apperr.Capability(apperr.CodeNetwork, "recognition restart failed: "+err.Error()))
		return
	}

	e.mu.Lock()
	stopped := r.stopped
	e.mu.Unlock()
	if stopped {
		// Stop ran while the restart was dialing
		e.rec.Stop()
		return
	}
	e.logger.Info().Msg("Recognition restarted after unexpected end")
}
