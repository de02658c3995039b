package audio

import (
	"testing"
	"time"
)

var testFormat = Format{SampleRate: 8000, Channels: 1}

func constantFrame(n int, amplitude int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = amplitude
	}
	return samples
}

func constantPCM(samples int, amplitude int16) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		pcm[i*2] = byte(amplitude)
		pcm[i*2+1] = byte(amplitude >> 8)
	}
	return pcm
}

func TestVADDetector_ProcessFrame_Speech(t *testing.T) {
	vad := NewVADDetector(DefaultVADConfig(), testFormat)

	for i := 0; i < 5; i++ {
		isSpeaking, speechStarted, _ := vad.ProcessFrame(constantFrame(160, 5000))
		if !isSpeaking {
			t.Errorf("Expected speech detection on frame %d", i)
		}
		if i == 0 && !speechStarted {
			t.Error("Expected speech to start on first frame")
		}
	}
}

func TestVADDetector_SpeechToSilence(t *testing.T) {
	vad := NewVADDetector(DefaultVADConfig(), testFormat)

	for i := 0; i < 5; i++ {
		vad.ProcessFrame(constantFrame(160, 5000))
	}

	endedAt := -1
	for i := 0; i < 15; i++ {
		if _, _, ended := vad.ProcessFrame(constantFrame(160, 10)); ended {
			endedAt = i
			break
		}
	}
	if endedAt != 9 {
		t.Errorf("Expected speech to end on the 10th quiet frame, got index %d", endedAt)
	}
}

func TestVADDetector_Threshold(t *testing.T) {
	low := NewVADDetector(VADConfig{EnergyThreshold: 100, SilenceFrames: 10}, testFormat)
	high := NewVADDetector(VADConfig{EnergyThreshold: 5000, SilenceFrames: 10}, testFormat)

	frame := constantFrame(160, 1000)
	if speaking, _, _ := low.ProcessFrame(frame); !speaking {
		t.Error("Expected low threshold to detect speech")
	}
	if speaking, _, _ := high.ProcessFrame(frame); speaking {
		t.Error("Expected high threshold to not detect speech")
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := NewVADDetector(DefaultVADConfig(), testFormat)
	vad.ProcessFrame(constantFrame(160, 5000))
	if !vad.IsSpeaking() {
		t.Fatal("Expected speech to be detected")
	}

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected speech state to be false after reset")
	}
}

func TestVADDetector_Analyze(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"all speech", constantPCM(1600, 5000), 1},
		{"all silence", constantPCM(1600, 10), 0},
		{"short of one frame", constantPCM(100, 5000), 0},
		{"speech then pause", append(constantPCM(800, 5000), constantPCM(800, 10)...), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vad := NewVADDetector(DefaultVADConfig(), testFormat)
			if got := vad.Analyze(tt.pcm); got != tt.want {
				t.Errorf("Expected ratio %v, got %v", tt.want, got)
			}
		})
	}
}

func TestVADDetector_AnalyzeLongSilenceEndsSpeech(t *testing.T) {
	vad := NewVADDetector(DefaultVADConfig(), testFormat)
	// 5 speech frames then 15 quiet frames; the last 6 quiet ones count as silence
	pcm := append(constantPCM(5*160, 5000), constantPCM(15*160, 10)...)

	got := vad.Analyze(pcm)
	want := 14.0 / 20.0
	if got != want {
		t.Errorf("Expected ratio %v, got %v", want, got)
	}
}

func TestNewVADDetector_FrameSize(t *testing.T) {
	vad := NewVADDetector(VADConfig{FrameDuration: 20 * time.Millisecond}, Format{SampleRate: 16000, Channels: 1})
	if vad.frameBytes != 640 {
		t.Errorf("Expected 640 byte frames, got %d", vad.frameBytes)
	}
}
