package media

import (
	"encoding/base64"
	"encoding/binary"
)

// pcm16Bytes clamps each sample to [-1, 1] and scales it to a little-endian
// signed 16-bit integer. Negative samples scale by 32768 and non-negative
// ones by 32767; the server decodes with the same asymmetric convention, so
// it must not be "fixed" to a single divisor.
func pcm16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// EncodeAudioChunk converts one buffer of raw float32 microphone samples into
// a transport-ready chunk. Pure function; safe to call from the capture
// pump without blocking.
func EncodeAudioChunk(samples []float32) Chunk {
	return Chunk{
		MimeType: MimeAudioPCM,
		Data:     base64.StdEncoding.EncodeToString(pcm16Bytes(samples)),
	}
}
