package media

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deepgetty/live-coach/shared"
)

// ClipState tracks one recording clip's lifecycle.
type ClipState int

const (
	ClipIdle ClipState = iota
	ClipRecording
	ClipStoppedManual
	ClipStoppedTimeout
)

// MaxClipSeconds is the hard cap; the recorder stops itself without user
// action when it is reached.
const MaxClipSeconds = 300

// ClipRecorder buffers the session's microphone PCM while recording and
// finalizes it into a downloadable WAV on stop. At most one clip records at
// a time; a stopped clip cannot be resumed.
type ClipRecorder struct {
	logger shared.LoggerAdapter
	dir    string

	mu       sync.Mutex
	state    ClipState
	pcm      []byte
	elapsed  int
	stopTick chan struct{}
	lastFile string
}

func NewClipRecorder(logger shared.LoggerAdapter, dir string) *ClipRecorder {
	if dir == "" {
		dir = "."
	}
	return &ClipRecorder{logger: logger, dir: dir}
}

// Start begins a new clip and its 1-second elapsed timer.
func (r *ClipRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == ClipRecording {
		return shared.ErrRecorderBusy
	}
	r.state = ClipRecording
	r.pcm = nil
	r.elapsed = 0
	r.stopTick = make(chan struct{})
	go r.runTimer(r.stopTick)
	r.logger.Info("clip recording started")
	return nil
}

func (r *ClipRecorder) runTimer(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick advances the elapsed clock by one second and auto-stops at the cap.
func (r *ClipRecorder) tick() {
	r.mu.Lock()
	if r.state != ClipRecording {
		r.mu.Unlock()
		return
	}
	r.elapsed++
	timedOut := r.elapsed >= MaxClipSeconds
	r.mu.Unlock()
	if timedOut {
		if err := r.stop(ClipStoppedTimeout); err != nil {
			r.logger.Error("auto-stopping clip", err)
		}
	}
}

// Append buffers one chunk of raw microphone samples. No-op unless a clip is
// recording, so the capture pump can call it unconditionally.
func (r *ClipRecorder) Append(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ClipRecording {
		return
	}
	r.pcm = append(r.pcm, pcm16Bytes(samples)...)
}

// Stop finalizes the clip into a WAV file. Idempotent: stopping when nothing
// is recording is a no-op, never an error.
func (r *ClipRecorder) Stop() error {
	return r.stop(ClipStoppedManual)
}

func (r *ClipRecorder) stop(state ClipState) error {
	r.mu.Lock()
	if r.state != ClipRecording {
		r.mu.Unlock()
		return nil
	}
	r.state = state
	pcm := r.pcm
	r.pcm = nil
	r.elapsed = 0
	close(r.stopTick)
	r.stopTick = nil

	name := fmt.Sprintf("session-%s.wav", time.Now().UTC().Format(time.RFC3339))
	path := filepath.Join(r.dir, name)
	r.lastFile = path
	r.mu.Unlock()

	if err := writeWAV(path, pcm, InputSampleRate); err != nil {
		return fmt.Errorf("finalizing clip: %w", err)
	}
	r.logger.Info("clip finalized", zap.String("file", path), zap.Int("bytes", len(pcm)))
	return nil
}

func (r *ClipRecorder) State() ClipState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *ClipRecorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// LastFile reports the most recently finalized clip path.
func (r *ClipRecorder) LastFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFile
}

// writeWAV wraps raw little-endian PCM16 mono samples in a minimal RIFF/WAVE
// container.
func writeWAV(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := f.Write(header[:]); err != nil {
		return err
	}
	if _, err := f.Write(pcm); err != nil {
		return err
	}
	return f.Close()
}
