package audio

import (
	"math"

	"github.com/tarz-one/Companion/internal/config"
)

// VAD is a frame-based RMS energy gate used to cut the microphone stream into
// utterances. It reports speech onset and, after a run of quiet frames, speech
// end.
type VAD struct {
	threshold  float64
	maxSilence int
	speaking   bool
	silent     int
}

func NewVAD(cfg config.VADConfig, frameDurationMS int) *VAD {
	if frameDurationMS <= 0 {
		frameDurationMS = 20
	}
	maxSilence := cfg.SilenceMS / frameDurationMS
	if maxSilence < 1 {
		maxSilence = 1
	}
	return &VAD{
		threshold:  cfg.EnergyThreshold,
		maxSilence: maxSilence,
	}
}

// Process consumes one frame of samples and returns whether speech is active,
// whether it just started, and whether it just ended. Speech stays active
// through the silence hangover so trailing frames reach the recognizer.
func (v *VAD) Process(samples []int16) (speaking, started, ended bool) {
	if RMS(samples) > v.threshold {
		if !v.speaking {
			v.speaking = true
			started = true
		}
		v.silent = 0
		return true, started, false
	}

	if !v.speaking {
		return false, false, false
	}
	v.silent++
	if v.silent >= v.maxSilence {
		v.speaking = false
		v.silent = 0
		return false, false, true
	}
	return true, false, false
}

func (v *VAD) Reset() {
	v.speaking = false
	v.silent = 0
}

// RMS computes root-mean-square energy over 16-bit samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
