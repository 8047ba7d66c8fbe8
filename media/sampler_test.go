package media

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgetty/live-coach/shared"
)

type stubFrames struct {
	frame image.Image
	ok    bool
	grabs int
}

func (s *stubFrames) GrabFrame() (image.Image, bool) {
	s.grabs++
	return s.frame, s.ok
}

type collectSink struct {
	chunks []Chunk
}

func (s *collectSink) Send(chunk Chunk) error {
	s.chunks = append(s.chunks, chunk)
	return nil
}

func testFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	return img
}

func TestSamplerTickSendsDownscaledJPEG(t *testing.T) {
	frames := &stubFrames{frame: testFrame(640, 480), ok: true}
	sink := &collectSink{}
	s := NewSampler(shared.NewNopLogger(), frames, sink, nil)

	s.tick()

	require.Len(t, sink.chunks, 1)
	chunk := sink.chunks[0]
	assert.Equal(t, MimeJPEG, chunk.MimeType)

	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 160, cfg.Width)
	assert.Equal(t, 120, cfg.Height)
}

func TestSamplerSkipsWhenGateDisabled(t *testing.T) {
	frames := &stubFrames{frame: testFrame(64, 64), ok: true}
	sink := &collectSink{}
	s := NewSampler(shared.NewNopLogger(), frames, sink, func() bool { return false })

	s.tick()

	assert.Zero(t, frames.grabs)
	assert.Empty(t, sink.chunks)
}

func TestSamplerSkipsWhenNoFrameAvailable(t *testing.T) {
	frames := &stubFrames{ok: false}
	sink := &collectSink{}
	s := NewSampler(shared.NewNopLogger(), frames, sink, nil)

	s.tick()

	assert.Equal(t, 1, frames.grabs)
	assert.Empty(t, sink.chunks)
}

func TestSamplerClosedTickNeverSends(t *testing.T) {
	frames := &stubFrames{frame: testFrame(64, 64), ok: true}
	sink := &collectSink{}
	s := NewSampler(shared.NewNopLogger(), frames, sink, nil)

	s.Close()
	s.tick()

	assert.Zero(t, frames.grabs)
	assert.Empty(t, sink.chunks)
}
