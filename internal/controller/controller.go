// Package controller implements the recording session state machine. It owns
// the remote session, the transcript, live stats and final analysis, and
// sequences the capture, backend and stats polling components.
package controller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-coach/internal/apperr"
	"github.com/lexiqai/speech-coach/internal/audio"
	"github.com/lexiqai/speech-coach/internal/backend"
	"github.com/lexiqai/speech-coach/internal/capture"
	"github.com/lexiqai/speech-coach/internal/history"
	"github.com/lexiqai/speech-coach/internal/observability"
	"github.com/lexiqai/speech-coach/internal/stats"
	"github.com/lexiqai/speech-coach/internal/transcript"
)

var (
	// ErrBusy is returned by Clear while a stop is in progress
	ErrBusy = errors.New("controller is busy")
	// ErrStartAborted is returned by Start when Stop was requested mid-start
	ErrStartAborted = errors.New("start aborted by stop request")
)

// Backend is the coaching backend as the controller uses it
type Backend interface {
	Create(ctx context.Context) (string, error)
	Start(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) (*backend.FinalAnalysis, error)
	Delete(ctx context.Context, sessionID string) error
	PostAudio(ctx context.Context, sessionID string, post backend.AudioPost) (stats.Update, error)
	stats.Fetcher
}

// Capture is the capture engine as the controller uses it
type Capture interface {
	Open() error
	Begin(ctx context.Context, sink capture.Sink) error
	Stop()
}

// Archive stores final analyses
type Archive interface {
	Record(ctx context.Context, e history.Entry) (int64, error)
}

// Options tunes a Controller
type Options struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
	// Archive is optional
	Archive Archive
}

// Controller is the session state machine. All methods are safe for
// concurrent use; a start or stop requested while another transition is in
// flight is a no-op.
type Controller struct {
	backend Backend
	capture Capture
	poller  *stats.Poller
	board   *stats.Board
	archive Archive
	timeout time.Duration
	logger  zerolog.Logger

	mu         sync.Mutex
	mode       Mode
	sessionID  string
	epoch      uint64
	abort      bool
	clearAfter bool
	settled    chan struct{}
	assembler  transcript.Assembler
	dedup      transcript.Deduplicator
	analysis   *backend.FinalAnalysis
	errMsg     string
	warning    string
	startedAt  time.Time
	runLog     zerolog.Logger
	version    uint64

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// New creates an idle controller
func New(b Backend, c Capture, opts Options) *Controller {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	logger := observability.Component("controller")

	settled := make(chan struct{})
	close(settled)

	return &Controller{
		backend:   b,
		capture:   c,
		poller:    stats.NewPoller(b, opts.PollInterval, observability.Component("stats")),
		board:     stats.NewBoard(),
		archive:   opts.Archive,
		timeout:   opts.RequestTimeout,
		logger:    logger,
		settled:   settled,
		runLog:    logger,
		observers: make(map[int]Observer),
	}
}

// Subscribe registers an observer and returns a function removing it
func (c *Controller) Subscribe(fn Observer) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// Snapshot returns the current View
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	v := View{
		Version:     c.version,
		Mode:        c.mode,
		SessionID:   c.sessionID,
		Transcript:  c.assembler.Current(),
		FinalText:   c.assembler.FinalText(),
		InterimText: c.assembler.InterimText(),
		Stats:       c.board.Load(),
		Error:       c.errMsg,
		Warning:     c.warning,
	}
	if c.analysis != nil {
		a := *c.analysis
		v.Analysis = &a
	}
	return v
}

// changedLocked bumps the version and returns the view to publish
func (c *Controller) changedLocked() View {
	c.version++
	return c.viewLocked()
}

func (c *Controller) publish(v View) {
	c.obsMu.Lock()
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range observers {
		fn(v)
	}
}

func (c *Controller) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

// Start begins a recording. It is a no-op unless the controller is Idle.
// Steps run in order: ensure a session exists, open the microphone, start
// the backend session, start recognition and chunking, enter Recording,
// start polling. Any failure rolls back to Idle and is returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if mode := c.mode; mode != Idle {
		c.mu.Unlock()
		c.logger.Debug().Str("mode", mode.String()).Msg("Start ignored; not idle")
		return nil
	}
	c.mode = Starting
	c.epoch++
	epoch := c.epoch
	c.abort = false
	c.settled = make(chan struct{})
	c.errMsg = ""
	c.warning = ""
	c.dedup.Reset()
	sessionID := c.sessionID
	c.runLog = c.logger.With().Str("correlation_id", observability.NewCorrelationID()).Logger()
	logger := c.runLog
	v := c.changedLocked()
	c.mu.Unlock()
	c.publish(v)

	logger.Info().Str("session_id", sessionID).Msg("Starting recording")

	if sessionID == "" {
		id, err := c.backend.Create(ctx)
		if err != nil {
			return c.rollback(ctx, err, false)
		}
		c.mu.Lock()
		c.sessionID = id
		c.mu.Unlock()
		sessionID = id
		logger.Info().Str("session_id", id).Msg("Session created")
	}
	if c.aborted() {
		return c.rollback(ctx, ErrStartAborted, false)
	}

	if err := c.capture.Open(); err != nil {
		return c.rollback(ctx, err, false)
	}
	if c.aborted() {
		return c.rollback(ctx, ErrStartAborted, false)
	}

	if err := c.backend.Start(ctx, sessionID); err != nil {
		c.forgetStaleSession(sessionID, err)
		return c.rollback(ctx, err, false)
	}
	if c.aborted() {
		return c.rollback(ctx, ErrStartAborted, true)
	}

	if err := c.capture.Begin(ctx, &sink{c: c, epoch: epoch}); err != nil {
		if c.aborted() {
			err = ErrStartAborted
		}
		return c.rollback(ctx, err, true)
	}

	c.mu.Lock()
	if c.abort {
		c.mu.Unlock()
		return c.rollback(ctx, ErrStartAborted, true)
	}
	c.mode = Recording
	c.startedAt = time.Now()
	close(c.settled)
	v = c.changedLocked()
	c.mu.Unlock()

	observability.RecordRecordingStart()
	c.poller.Start(sessionID, func(u stats.Update) { c.applyStats(epoch, u) })
	c.publish(v)

	logger.Info().Str("session_id", sessionID).Msg("Recording started")
	return nil
}

func (c *Controller) aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abort
}

// forgetStaleSession drops a session id the backend no longer knows, so the
// next attempt creates a fresh one
func (c *Controller) forgetStaleSession(sessionID string, err error) {
	var re *backend.ResponseError
	if !errors.As(err, &re) || re.StatusCode != http.StatusNotFound {
		return
	}
	c.mu.Lock()
	if c.sessionID == sessionID {
		c.sessionID = ""
	}
	c.mu.Unlock()
}

// rollback undoes a failed or aborted start and returns to Idle
func (c *Controller) rollback(ctx context.Context, cause error, backendStarted bool) error {
	c.capture.Stop()

	c.mu.Lock()
	sessionID := c.sessionID
	logger := c.runLog
	c.mu.Unlock()

	if backendStarted && sessionID != "" {
		stopCtx, cancel := c.requestContext(ctx)
		if _, err := c.backend.Stop(stopCtx, sessionID); err != nil {
			logger.Warn().Err(err).Msg("Backend stop after aborted start failed")
		}
		cancel()
	}

	aborted := errors.Is(cause, ErrStartAborted)

	c.mu.Lock()
	c.mode = Idle
	c.epoch++
	c.abort = false
	if !aborted {
		c.errMsg = apperr.UserMessage(cause)
	}
	clearAfter := c.clearAfter
	c.clearAfter = false
	close(c.settled)
	v := c.changedLocked()
	c.mu.Unlock()
	c.publish(v)

	if aborted {
		logger.Info().Msg("Start aborted by stop request")
	} else {
		logger.Error().Err(cause).Msg("Start failed; rolled back")
		observability.RecordError(kindLabel(cause), "controller")
	}

	if clearAfter {
		if err := c.Clear(ctx); err != nil {
			logger.Warn().Err(err).Msg("Deferred clear failed")
		}
	}

	if aborted {
		return ErrStartAborted
	}
	return cause
}

// Stop ends the recording. While Starting it marks the attempt for abort
// and returns at once; the Start call finishes the rollback. Backend failures
// still leave the controller Idle; the remote session is kept for reuse.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.mode {
	case Starting:
		c.abort = true
		c.mu.Unlock()
		c.logger.Info().Msg("Stop requested during start; aborting once in-flight step settles")
		return nil
	case Recording:
	default:
		c.mu.Unlock()
		return nil
	}

	c.mode = Stopping
	c.epoch++
	c.settled = make(chan struct{})
	sessionID := c.sessionID
	startedAt := c.startedAt
	logger := c.runLog
	v := c.changedLocked()
	c.mu.Unlock()
	c.publish(v)

	// Poller first so no stats land after this point
	c.poller.Stop()
	c.capture.Stop()
	observability.RecordRecordingEnd(startedAt)

	stopCtx, cancel := c.requestContext(ctx)
	analysis, err := c.backend.Stop(stopCtx, sessionID)
	cancel()

	c.mu.Lock()
	c.mode = Idle
	c.assembler.DropInterim()
	if err != nil {
		c.errMsg = apperr.UserMessage(err)
	} else if analysis != nil {
		c.analysis = analysis
	}
	entry := history.Entry{
		SessionID:  sessionID,
		Transcript: c.assembler.FinalText(),
		Stats:      c.board.Load(),
	}
	close(c.settled)
	v = c.changedLocked()
	c.mu.Unlock()
	c.publish(v)

	if err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("Backend stop failed; forced idle")
		observability.RecordError(kindLabel(err), "controller")
		return err
	}
	logger.Info().Str("session_id", sessionID).Bool("analysis", analysis != nil).Msg("Recording stopped")

	if analysis != nil && c.archive != nil {
		entry.Analysis = *analysis
		entry.RecordedAt = time.Now()
		archiveCtx, cancel := c.requestContext(ctx)
		if _, err := c.archive.Record(archiveCtx, entry); err != nil {
			logger.Warn().Err(err).Msg("Failed to archive analysis")
		}
		cancel()
	}
	return nil
}

// Clear stops any recording, deletes the remote session and resets the
// transcript, live stats, analysis and dedup state. During a start it is
// deferred until the start has been aborted; during a stop it returns ErrBusy.
func (c *Controller) Clear(ctx context.Context) error {
	c.mu.Lock()
	mode := c.mode
	switch mode {
	case Stopping:
		c.mu.Unlock()
		return ErrBusy
	case Starting:
		c.abort = true
		c.clearAfter = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if mode == Recording {
		if err := c.Stop(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Stop before clear failed; clearing anyway")
		}
	}

	c.mu.Lock()
	if c.mode != Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	sessionID := c.sessionID
	c.sessionID = ""
	c.epoch++
	c.assembler.Reset()
	c.dedup.Reset()
	c.board.Reset()
	c.analysis = nil
	c.errMsg = ""
	c.warning = ""
	logger := c.runLog
	v := c.changedLocked()
	c.mu.Unlock()
	c.publish(v)

	if sessionID == "" {
		return nil
	}

	delCtx, cancel := c.requestContext(ctx)
	err := c.backend.Delete(delCtx, sessionID)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete session")
		c.mu.Lock()
		c.errMsg = apperr.UserMessage(err)
		v = c.changedLocked()
		c.mu.Unlock()
		c.publish(v)
		return err
	}
	logger.Info().Str("session_id", sessionID).Msg("Session cleared")
	return nil
}

// awaitSettled waits until no transition is in flight, aborting a start
func (c *Controller) awaitSettled(ctx context.Context) error {
	for {
		c.mu.Lock()
		mode := c.mode
		settled := c.settled
		if mode == Starting {
			c.abort = true
		}
		c.mu.Unlock()

		if mode == Idle || mode == Recording {
			return nil
		}
		select {
		case <-settled:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown runs the stop sequence for teardown. It is idempotent and safe
// when nothing was ever started.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.awaitSettled(ctx); err != nil {
		return err
	}
	err := c.Stop(ctx)
	c.poller.Stop()
	c.capture.Stop()
	return err
}

// Logout tears down the recording and clears all session state
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.Shutdown(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Stop during logout failed")
	}
	if err := c.awaitSettled(ctx); err != nil {
		return err
	}
	return c.Clear(ctx)
}

// accepting reports whether results tagged with epoch may change state
func (c *Controller) acceptingLocked(epoch uint64) bool {
	if epoch != c.epoch || c.abort {
		return false
	}
	return c.mode == Recording || c.mode == Starting
}

func (c *Controller) applyStats(epoch uint64, u stats.Update) {
	c.mu.Lock()
	if !c.acceptingLocked(epoch) {
		c.mu.Unlock()
		return
	}
	c.board.Apply(u)
	v := c.changedLocked()
	c.mu.Unlock()
	c.publish(v)
}

func (c *Controller) postAnalysis(epoch uint64, sessionID string, post backend.AudioPost) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	update, err := c.backend.PostAudio(ctx, sessionID, post)
	if len(post.PCM) > 0 {
		observability.RecordAudioChunk(len(post.PCM), err == nil)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("session_id", sessionID).Msg("Analysis post failed; continuing")
		return
	}
	if !update.Empty() {
		c.applyStats(epoch, update)
	}
}

func kindLabel(err error) string {
	for _, k := range []apperr.Kind{apperr.KindPermission, apperr.KindSession, apperr.KindTransport, apperr.KindCapability} {
		if apperr.IsKind(err, k) {
			return k.String()
		}
	}
	return apperr.KindUnknown.String()
}

// sink routes one recording's capture output into the controller
type sink struct {
	c     *Controller
	epoch uint64
}

func (s *sink) Active() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.acceptingLocked(s.epoch)
}

func (s *sink) OnInterim(text string) {
	c := s.c
	c.mu.Lock()
	if !c.acceptingLocked(s.epoch) {
		c.mu.Unlock()
		return
	}
	c.assembler.Apply(transcript.Interim, text)
	v := c.changedLocked()
	c.mu.Unlock()
	c.publish(v)
}

func (s *sink) OnFinal(text string) {
	c := s.c
	c.mu.Lock()
	if !c.acceptingLocked(s.epoch) {
		c.mu.Unlock()
		return
	}
	segment, committed := c.assembler.Apply(transcript.Final, text)
	forward := committed && c.dedup.ShouldForward(segment)
	sessionID := c.sessionID
	v := c.changedLocked()
	c.mu.Unlock()
	c.publish(v)

	if committed {
		observability.RecordSegment(forward)
	}
	if forward {
		go c.postAnalysis(s.epoch, sessionID, backend.AudioPost{TextChunk: segment})
	}
}

func (s *sink) OnChunk(chunk audio.Chunk) {
	c := s.c
	c.mu.Lock()
	accepting := c.acceptingLocked(s.epoch)
	sessionID := c.sessionID
	c.mu.Unlock()
	if !accepting {
		return
	}
	go c.postAnalysis(s.epoch, sessionID, backend.AudioPost{PCM: chunk.PCM})
}

func (s *sink) OnCapabilityError(err *apperr.Error) {
	c := s.c
	c.mu.Lock()
	if !c.acceptingLocked(s.epoch) {
		c.mu.Unlock()
		return
	}
	fatal := err.Kind == apperr.KindPermission
	if fatal {
		c.errMsg = apperr.UserMessage(err)
	} else {
		c.warning = apperr.UserMessage(err)
	}
	v := c.changedLocked()
	c.mu.Unlock()
	c.publish(v)

	if !fatal {
		c.logger.Warn().Err(err).Str("code", string(apperr.CodeOf(err))).Msg("Recognition capability degraded")
		return
	}
	c.logger.Error().Err(err).Str("code", string(apperr.CodeOf(err))).Msg("Recognition permission revoked; stopping")
	go func() {
		if err := c.Stop(context.Background()); err != nil {
			c.logger.Warn().Err(err).Msg("Stop after permission error failed")
		}
	}()
}
