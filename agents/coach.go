package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	pkg "github.com/deepgetty/live-coach"
	"github.com/deepgetty/live-coach/media"
	"github.com/deepgetty/live-coach/shared"
)

// CoachAgent drives one interactive coaching session from a terminal:
// spawns the controller, surfaces its state transitions, and translates
// user commands into camera/mic/clip actions.
type CoachAgent struct {
	logger     shared.LoggerAdapter
	printer    *shared.Printer
	controller *pkg.Controller
	chat       *pkg.ChatClient
	history    []pkg.ChatMessage

	mu sync.Mutex
}

type sessionSummary struct {
	Role      string   `yaml:"role"`
	LiveModel string   `yaml:"live_model"`
	ChatModel string   `yaml:"chat_model"`
	Voice     string   `yaml:"voice"`
	Routine   string   `yaml:"routine,omitempty"`
	Steps     []string `yaml:"steps,omitempty"`
}

func (a *CoachAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	prefs *shared.Preferences,
	role pkg.Role,
	routine *pkg.RoutineContext,
	printer *shared.Printer,
) (<-chan struct{}, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if prefs == nil {
		return nil, shared.ErrNoConfig
	}
	if prefs.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	a.logger = logger
	a.printer = printer
	a.logger.Info("spawning coach agent")
	if err := a.printer.Writeln("🏋️ Spawning coach agent...\n", 0); err != nil {
		a.logger.Error("printing spawning message", err)
	}

	// Echoing the effective session settings
	if err := a.printer.Writeln("📋 Session Settings\n", 0); err != nil {
		a.logger.Error("printing session settings message", err)
	}
	summary := sessionSummary{
		Role:      roleName(role),
		LiveModel: orDefault(prefs.LiveModel, shared.DefaultLiveModel),
		ChatModel: orDefault(prefs.ChatModel, shared.DefaultChatModel),
		Voice:     orDefault(prefs.Voice, shared.DefaultVoice),
	}
	if routine != nil {
		summary.Routine = routine.Title
		summary.Steps = routine.Steps
	}
	yamlBytes, err := yaml.Marshal(summary)
	if err != nil {
		a.logger.Error("marshaling session settings to yaml", err)
		return nil, err
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing session settings", err)
		return nil, err
	}

	a.chat, err = pkg.NewChatClient(a.logger, prefs)
	if err != nil {
		a.logger.Error("creating chat client", err)
		return nil, err
	}

	// Creating and starting the session controller
	if err := a.printer.Writeln("\n🎥 Requesting camera and microphone...", 0); err != nil {
		a.logger.Error("printing capture request message", err)
	}
	a.controller, err = pkg.NewController(a.logger, pkg.ControllerConfig{
		Prefs:   prefs,
		Role:    role,
		Routine: routine,
	})
	if err != nil {
		a.logger.Error("creating controller", err)
		return nil, err
	}
	if err := a.controller.Start(ctx); err != nil {
		a.logger.Error("starting session", err)
		if errors.Is(err, shared.ErrPermissionDenied) || errors.Is(err, shared.ErrDeviceUnavailable) {
			if perr := a.printer.Writeln("❌ Unable to access camera/microphone. Please ensure the devices are connected and permission is granted.\n", 0); perr != nil {
				a.logger.Error("printing capture failure message", perr)
			}
		}
		return nil, err
	}
	a.logger.Info("session started", zap.String("session", a.controller.SessionID()))
	if err := a.printer.Writeln("✅ Session is live. The coach can see and hear you.\n", 0); err != nil {
		a.logger.Error("printing session live message", err)
	}

	return a.controller.Done(), nil
}

// ToggleCamera flips the camera gate and reports the new position.
func (a *CoachAgent) ToggleCamera() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controller == nil {
		return
	}
	enabled := !a.controller.CameraEnabled()
	a.controller.SetCameraEnabled(enabled)
	a.report(fmt.Sprintf("📷 Camera %s", onOff(enabled)))
}

// ToggleMic flips the microphone gate and reports the new position.
func (a *CoachAgent) ToggleMic() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controller == nil {
		return
	}
	enabled := !a.controller.MicEnabled()
	a.controller.SetMicEnabled(enabled)
	a.report(fmt.Sprintf("🎤 Microphone %s", onOff(enabled)))
}

// ToggleClip starts a capped session recording, or finalizes the one in
// flight.
func (a *CoachAgent) ToggleClip() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controller == nil {
		return
	}
	rec := a.controller.Recorder()
	if rec != nil && rec.State() == media.ClipRecording {
		if err := a.controller.StopClip(); err != nil {
			a.logger.Error("stopping clip", err)
			a.report("❌ Could not stop the recording")
			return
		}
		a.report(fmt.Sprintf("💾 Recording saved: %s", rec.LastFile()))
		return
	}
	if err := a.controller.StartClip(); err != nil {
		a.logger.Error("starting clip", err)
		a.report("❌ Could not start a recording")
		return
	}
	a.report(fmt.Sprintf("⏺️ Recording started (auto-stops after %d seconds)", media.MaxClipSeconds))
}

// Ask streams one support-chat exchange, printing the reply fragments as
// they arrive. The conversation history accumulates across calls.
func (a *CoachAgent) Ask(ctx context.Context, question string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chat == nil {
		return
	}
	a.history = append(a.history, pkg.ChatMessage{Role: "user", Text: question})
	a.report("💬 Support:")
	var reply string
	err := a.chat.Stream(ctx, a.history, func(text string) {
		reply += text
		if perr := a.printer.Stream(text); perr != nil {
			a.logger.Error("printing chat fragment", perr)
		}
	})
	if perr := a.printer.Stream("\n\n"); perr != nil {
		a.logger.Error("printing chat terminator", perr)
	}
	if err != nil {
		// The apology was already streamed; keep the history consistent
		// without recording a model turn that never happened.
		a.history = a.history[:len(a.history)-1]
		return
	}
	a.history = append(a.history, pkg.ChatMessage{Role: "model", Text: reply})
}

// Status prints the current session and recorder state.
func (a *CoachAgent) Status() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controller == nil {
		return
	}
	line := fmt.Sprintf(
		"📊 session=%s state=%s camera=%s mic=%s",
		a.controller.SessionID(),
		a.controller.State(),
		onOff(a.controller.CameraEnabled()),
		onOff(a.controller.MicEnabled()),
	)
	if rec := a.controller.Recorder(); rec != nil && rec.State() == media.ClipRecording {
		line += fmt.Sprintf(" recording=%ds", rec.Elapsed())
	}
	a.report(line)
}

func (a *CoachAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controller == nil {
		return nil
	}
	if err := a.controller.Close(); err != nil {
		return err
	}
	a.report("👋 Session closed")
	return nil
}

func (a *CoachAgent) report(s string) {
	if err := a.printer.Writeln(s, 0); err != nil {
		a.logger.Error("printing status line", err)
	}
}

func roleName(role pkg.Role) string {
	if role == pkg.RoleRoutineCoach {
		return "routine_coach"
	}
	return "generic_coach"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
