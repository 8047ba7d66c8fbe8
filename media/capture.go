package media

import (
	"fmt"
	"image"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	audioio "github.com/pion/mediadevices/pkg/io/audio"
	videoio "github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"

	"github.com/deepgetty/live-coach/shared"
)

// AudioSource yields fixed-size buffers of raw mono float32 samples at
// InputSampleRate. ReadChunk blocks until a full buffer is available.
type AudioSource interface {
	ReadChunk() ([]float32, error)
}

// FrameSource yields the most recent camera frame, or ok=false when no valid
// frame is available yet. Abstracted so the sampler can be driven by a
// synthetic source in tests.
type FrameSource interface {
	GrabFrame() (img image.Image, ok bool)
}

// CaptureHandle wraps the live camera+microphone tracks for one session.
type CaptureHandle interface {
	Audio() AudioSource
	Frames() FrameSource
	SetCameraEnabled(enabled bool)
	SetMicEnabled(enabled bool)
	CameraEnabled() bool
	MicEnabled() bool
	Release()
}

// Capture is the mediadevices-backed CaptureHandle. Enable toggles are soft
// gates consulted by the producers; the underlying tracks keep running so
// re-enabling never renegotiates the device.
type Capture struct {
	logger shared.LoggerAdapter

	audioTrack *mediadevices.AudioTrack
	videoTrack *mediadevices.VideoTrack

	audio  *trackAudioSource
	frames *trackFrameSource

	camEnabled atomic.Bool
	micEnabled atomic.Bool

	releaseOnce sync.Once
}

var _ CaptureHandle = (*Capture)(nil)

// Acquire requests a combined camera + mono 16 kHz microphone stream.
// Failure maps to ErrPermissionDenied or ErrDeviceUnavailable; the caller
// degrades the session to its error state rather than retrying here.
func Acquire(logger shared.LoggerAdapter) (*Capture, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {},
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(InputSampleRate)
			c.ChannelCount = prop.Int(1)
			c.SampleSize = prop.Int(16)
		},
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "permission") {
			return nil, fmt.Errorf("%w: %v", shared.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrDeviceUnavailable, err)
	}

	c := &Capture{logger: logger}
	if tracks := stream.GetAudioTracks(); len(tracks) > 0 {
		c.audioTrack = tracks[0].(*mediadevices.AudioTrack)
	}
	if tracks := stream.GetVideoTracks(); len(tracks) > 0 {
		c.videoTrack = tracks[0].(*mediadevices.VideoTrack)
	}
	if c.audioTrack == nil || c.videoTrack == nil {
		c.Release()
		return nil, fmt.Errorf("%w: stream is missing a track", shared.ErrDeviceUnavailable)
	}

	c.audio = &trackAudioSource{reader: c.audioTrack.NewReader(false)}
	c.frames = &trackFrameSource{reader: c.videoTrack.NewReader(true)}
	c.camEnabled.Store(true)
	c.micEnabled.Store(true)
	logger.Info("capture acquired")
	return c, nil
}

func (c *Capture) Audio() AudioSource  { return c.audio }
func (c *Capture) Frames() FrameSource { return c.frames }

func (c *Capture) SetCameraEnabled(enabled bool) { c.camEnabled.Store(enabled) }
func (c *Capture) SetMicEnabled(enabled bool)    { c.micEnabled.Store(enabled) }
func (c *Capture) CameraEnabled() bool           { return c.camEnabled.Load() }
func (c *Capture) MicEnabled() bool              { return c.micEnabled.Load() }

// Release stops every track exactly once. Safe to call repeatedly; a leaked
// track keeps the OS camera/mic indicator lit after the session is gone.
func (c *Capture) Release() {
	c.releaseOnce.Do(func() {
		if c.audioTrack != nil {
			if err := c.audioTrack.Close(); err != nil {
				c.logger.Error("closing audio track", err)
			}
		}
		if c.videoTrack != nil {
			if err := c.videoTrack.Close(); err != nil {
				c.logger.Error("closing video track", err)
			}
		}
		if c.logger != nil {
			c.logger.Info("capture released")
		}
	})
}

type trackAudioSource struct {
	reader audioio.Reader
	pend   []float32
}

func (s *trackAudioSource) ReadChunk() ([]float32, error) {
	for len(s.pend) < AudioChunkSamples {
		chunk, release, err := s.reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading audio track: %w", err)
		}
		info := chunk.ChunkInfo()
		for i := 0; i < info.Len; i++ {
			sample := wave.Float32SampleFormat.Convert(chunk.At(i, 0)).(wave.Float32Sample)
			s.pend = append(s.pend, float32(sample))
		}
		release()
	}
	out := make([]float32, AudioChunkSamples)
	copy(out, s.pend[:AudioChunkSamples])
	s.pend = s.pend[AudioChunkSamples:]
	return out, nil
}

type trackFrameSource struct {
	reader videoio.Reader
}

func (s *trackFrameSource) GrabFrame() (image.Image, bool) {
	frame, release, err := s.reader.Read()
	if err != nil {
		return nil, false
	}
	defer release()
	if frame == nil {
		return nil, false
	}
	b := frame.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, false
	}
	return frame, true
}
