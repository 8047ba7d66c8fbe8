package playback

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/deepgetty/live-coach/shared"
)

const drainPollInterval = 20 * time.Millisecond

// SpeakerSink plays scheduled units on the default output device through a
// shared oto context. Each unit gets its own player so an interruption can
// silence one mid-stream without touching the device context.
type SpeakerSink struct {
	logger shared.LoggerAdapter
	otoCtx *oto.Context
	clock  Clock

	mu      sync.Mutex
	closed  bool
	timers  map[uint64]*time.Timer
	players map[uint64]*oto.Player
}

var _ Sink = (*SpeakerSink)(nil)

func NewSpeakerSink(logger shared.LoggerAdapter, clock Clock, bufferMs int) (*SpeakerSink, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   OutputSampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(bufferMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("creating audio output context: %w", err)
	}
	<-ready
	return &SpeakerSink{
		logger:  logger,
		otoCtx:  otoCtx,
		clock:   clock,
		timers:  make(map[uint64]*time.Timer),
		players: make(map[uint64]*oto.Player),
	}, nil
}

func (s *SpeakerSink) Start(u *Unit, at float64, done func()) {
	delay := time.Duration((at - s.clock.Now()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.timers[u.ID] = time.AfterFunc(delay, func() { s.play(u, done) })
	s.mu.Unlock()
}

func (s *SpeakerSink) play(u *Unit, done func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, u.ID)
	player := s.otoCtx.NewPlayer(bytes.NewReader(u.PCM))
	s.players[u.ID] = player
	s.mu.Unlock()

	player.Play()
	go s.awaitDrain(u.ID, player, done)
}

// awaitDrain watches for natural completion. A player removed by Stop or
// Close never reports done.
func (s *SpeakerSink) awaitDrain(id uint64, player *oto.Player, done func()) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		_, tracked := s.players[id]
		if !tracked || s.closed {
			s.mu.Unlock()
			return
		}
		if !player.IsPlaying() {
			delete(s.players, id)
			s.mu.Unlock()
			if err := player.Close(); err != nil {
				s.logger.Error("closing drained player", err)
			}
			done()
			return
		}
		s.mu.Unlock()
	}
}

func (s *SpeakerSink) Stop(u *Unit) {
	s.mu.Lock()
	timer := s.timers[u.ID]
	delete(s.timers, u.ID)
	player := s.players[u.ID]
	delete(s.players, u.ID)
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if player != nil {
		if err := player.Close(); err != nil {
			s.logger.Error("closing interrupted player", err)
		}
	}
}

// Close silences everything. The oto context itself has no close; suspending
// it releases the device until the process exits.
func (s *SpeakerSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timers := s.timers
	players := s.players
	s.timers = map[uint64]*time.Timer{}
	s.players = map[uint64]*oto.Player{}
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	for _, p := range players {
		if err := p.Close(); err != nil {
			s.logger.Error("closing player", err)
		}
	}
	return s.otoCtx.Suspend()
}
