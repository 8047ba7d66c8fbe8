// Package playback decodes streamed model audio and schedules it for
// gap-free sequential output, with hard barge-in interruption.
package playback

import (
	"encoding/binary"

	"sync"

	"go.uber.org/zap"

	"github.com/deepgetty/live-coach/shared"
)

// OutputSampleRate is the rate of model audio: 24 kHz mono PCM16.
const OutputSampleRate = 24000

// Clock reports the playback timeline position in seconds.
type Clock interface {
	Now() float64
}

// Unit is one decoded audio buffer tracked by the scheduler until it either
// finishes naturally or is flushed by an interruption.
type Unit struct {
	ID       uint64
	PCM      []byte // little-endian PCM16 as received
	Samples  []float32
	Duration float64 // seconds
}

// Sink realizes scheduled playback. Start must be asynchronous and invoke
// done exactly once when the unit finishes naturally; Stop must silence the
// unit immediately and must not invoke done.
type Sink interface {
	Start(u *Unit, at float64, done func())
	Stop(u *Unit)
}

// Scheduler chains each unit's start time to the previous unit's computed
// end time, so chunks arriving at irregular intervals play back-to-back
// without gaps or overlap.
type Scheduler struct {
	logger shared.LoggerAdapter
	clock  Clock
	sink   Sink

	mu        sync.Mutex
	nextStart float64
	nextID    uint64
	active    map[uint64]*Unit
}

func NewScheduler(logger shared.LoggerAdapter, clock Clock, sink Sink) *Scheduler {
	return &Scheduler{
		logger: logger,
		clock:  clock,
		sink:   sink,
		active: make(map[uint64]*Unit),
	}
}

// DecodePCM16 converts raw little-endian PCM16 bytes to normalized float32
// samples. A trailing odd byte is ignored.
func DecodePCM16(raw []byte) []float32 {
	n := len(raw) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768.0
	}
	return out
}

// Enqueue decodes one incoming audio payload and schedules it at
// max(now, end of the previous unit). Finished units remove themselves from
// the tracking set, keeping it bounded over a long session.
func (s *Scheduler) Enqueue(raw []byte) {
	samples := DecodePCM16(raw)
	if len(samples) == 0 {
		return
	}
	u := &Unit{
		PCM:      raw,
		Samples:  samples,
		Duration: float64(len(samples)) / OutputSampleRate,
	}

	s.mu.Lock()
	s.nextID++
	u.ID = s.nextID
	start := s.clock.Now()
	if s.nextStart > start {
		start = s.nextStart
	}
	s.nextStart = start + u.Duration
	s.active[u.ID] = u
	s.mu.Unlock()

	s.sink.Start(u, start, func() { s.unitDone(u.ID) })
}

func (s *Scheduler) unitDone(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Interrupt implements barge-in: every tracked unit, including one
// mid-playback, stops immediately, and the schedule resets so the next unit
// starts as soon as it arrives instead of behind the discarded backlog.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	units := make([]*Unit, 0, len(s.active))
	for _, u := range s.active {
		units = append(units, u)
	}
	s.active = make(map[uint64]*Unit)
	s.nextStart = 0
	s.mu.Unlock()

	for _, u := range units {
		s.sink.Stop(u)
	}
	if len(units) > 0 {
		s.logger.Debug("playback interrupted", zap.Int("flushed", len(units)))
	}
}

// Tracked reports how many units are currently scheduled or playing.
func (s *Scheduler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart exposes the schedule head for the controller's status surface.
func (s *Scheduler) NextStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Close flushes everything; the scheduler must not be reused afterwards.
func (s *Scheduler) Close() {
	s.Interrupt()
}
