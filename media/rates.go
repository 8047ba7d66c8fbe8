package media

import "time"

// Capture-side audio geometry. The live endpoint expects 16 kHz mono in and
// answers with 24 kHz mono out.
const (
	InputSampleRate   = 16000
	AudioChunkSamples = 4096
)

// FrameSamples returns the number of samples covering duration at the given
// rate and channel count.
func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}

// SamplesDuration is the inverse: how long sampleCount mono samples last at
// the given rate.
func SamplesDuration(sampleCount, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(sampleCount) / float64(rate) * float64(time.Second))
}
