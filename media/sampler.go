package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/jpeg"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"
	"go.uber.org/zap"

	"github.com/deepgetty/live-coach/shared"
)

// One frame per second is enough for pose analysis and keeps the upstream
// token/bandwidth cost bounded.
const (
	FrameInterval = time.Second
	frameDivisor  = 4 // sampled stills are 25% of native capture resolution
	jpegQuality   = 50
)

// Sampler periodically rasterizes the live video frame to a downscaled JPEG
// chunk. A disabled camera or a source that is not producing frames yet is
// normal (startup, paused); the sampler skips silently in both cases.
type Sampler struct {
	logger shared.LoggerAdapter
	frames FrameSource
	sink   ChunkSink
	gate   func() bool

	closed atomic.Bool
}

func NewSampler(logger shared.LoggerAdapter, frames FrameSource, sink ChunkSink, gate func() bool) *Sampler {
	if gate == nil {
		gate = func() bool { return true }
	}
	return &Sampler{logger: logger, frames: frames, sink: sink, gate: gate}
}

// Run ticks at FrameInterval until ctx is cancelled, then marks the sampler
// closed so a tick that raced the cancellation cannot reach the transport.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Close makes every subsequent tick a no-op.
func (s *Sampler) Close() {
	s.closed.Store(true)
}

func (s *Sampler) tick() {
	if s.closed.Load() || !s.gate() {
		return
	}
	frame, ok := s.frames.GrabFrame()
	if !ok {
		return
	}
	chunk, err := encodeFrame(frame)
	if err != nil {
		// Non-fatal: drop the frame, keep the session streaming.
		s.logger.Warn("dropping video frame", zap.Error(err))
		return
	}
	if s.closed.Load() {
		return
	}
	if err := s.sink.Send(chunk); err != nil {
		s.logger.Warn("sending video frame", zap.Error(err))
	}
}

func encodeFrame(frame image.Image) (Chunk, error) {
	b := frame.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()/frameDivisor, b.Dy()/frameDivisor))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, b, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Chunk{}, err
	}
	return Chunk{
		MimeType: MimeJPEG,
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}
