package media

// MIME tags carried on every outgoing chunk. The remote service routes on
// these, so they must match the advertised capture rates exactly.
const (
	MimeAudioPCM = "audio/pcm;rate=16000"
	MimeJPEG     = "image/jpeg"
)

// Chunk is one discrete unit of encoded media bound for the live transport:
// either a PCM16 audio chunk or a downscaled JPEG still.
type Chunk struct {
	MimeType string
	Data     string // base64 payload, no data-URI prefix
}

// ChunkSink receives encoded chunks. The live transport implements it;
// tests substitute a recording fake.
type ChunkSink interface {
	Send(chunk Chunk) error
}
