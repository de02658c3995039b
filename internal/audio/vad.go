package audio

import "time"

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64       // RMS over int16 samples above which a frame is speech
	SilenceFrames   int           // Consecutive quiet frames that end a speech run
	FrameDuration   time.Duration // Analysis frame length
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10, // 200ms at 20ms frames
		FrameDuration:   20 * time.Millisecond,
	}
}

// VADDetector tracks whether the speaker is talking, frame by frame
type VADDetector struct {
	config     VADConfig
	frameBytes int
	silence    int
	speaking   bool
}

// NewVADDetector creates a detector framing audio of the given format
func NewVADDetector(config VADConfig, format Format) *VADDetector {
	if config.FrameDuration <= 0 {
		config.FrameDuration = 20 * time.Millisecond
	}
	frameBytes := int(int64(format.BytesPerSecond()) * int64(config.FrameDuration) / int64(time.Second))
	frameBytes -= frameBytes % 2
	if frameBytes < 2 {
		frameBytes = 2
	}
	return &VADDetector{config: config, frameBytes: frameBytes}
}

// ProcessFrame feeds one frame and returns (speaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	var started, ended bool

	if CalculateRMS(samples) > v.config.EnergyThreshold {
		v.silence = 0
		if !v.speaking {
			started = true
			v.speaking = true
		}
	} else {
		v.silence++
		if v.speaking && v.silence >= v.config.SilenceFrames {
			ended = true
			v.speaking = false
			v.silence = 0
		}
	}

	return v.speaking, started, ended
}

// Analyze runs every whole frame of pcm through the detector and returns
// the fraction of frames during which the speaker was talking. State
// carries over between calls, so a pause shorter than SilenceFrames does
// not count as silence.
func (v *VADDetector) Analyze(pcm []byte) float64 {
	frames, voiced := 0, 0
	for off := 0; off+v.frameBytes <= len(pcm); off += v.frameBytes {
		frames++
		if speaking, _, _ := v.ProcessFrame(BytesToSamples(pcm[off : off+v.frameBytes])); speaking {
			voiced++
		}
	}
	if frames == 0 {
		return 0
	}
	return float64(voiced) / float64(frames)
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silence = 0
	v.speaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.speaking
}
