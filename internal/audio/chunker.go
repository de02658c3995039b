package audio

import (
	"context"
	"time"
)

// Chunk is one interval's worth of captured PCM
type Chunk struct {
	Seq    int
	PCM    []byte
	Level  float64 // RMS, 0..1
	Speech float64 // fraction of frames with voice activity; 0 without a detector
	At     time.Time
}

// Chunker cuts the PCM accumulated in a RingBuffer into fixed-cadence chunks
type Chunker struct {
	buf      *RingBuffer
	interval time.Duration
	vad      *VADDetector
}

// NewChunker creates a chunker draining buf every interval
func NewChunker(buf *RingBuffer, interval time.Duration) *Chunker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Chunker{buf: buf, interval: interval}
}

// DetectSpeech makes every chunk carry its voice activity ratio
func (c *Chunker) DetectSpeech(vad *VADDetector) {
	c.vad = vad
}

// Run emits one chunk per interval until ctx is done. Intervals with no
// captured audio emit nothing. Audio still buffered at cancellation is discarded.
func (c *Chunker) Run(ctx context.Context, emit func(Chunk)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			c.buf.Clear()
			return
		case now := <-ticker.C:
			pcm := c.buf.Drain()
			if len(pcm) == 0 {
				continue
			}
			seq++
			chunk := Chunk{Seq: seq, PCM: pcm, Level: Level(pcm), At: now}
			if c.vad != nil {
				chunk.Speech = c.vad.Analyze(pcm)
			}
			emit(chunk)
		}
	}
}
