package livecoach

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/deepgetty/live-coach/media"
)

// Role selects which coaching persona a session speaks with.
type Role int

const (
	// RoleGenericCoach is the free-form studio coach: observes the camera,
	// answers questions, comments on form.
	RoleGenericCoach Role = iota
	// RoleRoutineCoach guides the user through one specific routine.
	RoleRoutineCoach
)

// RoutineContext carries the routine a ROUTINE_COACH session is bound to.
// Immutable for the session lifetime.
type RoutineContext struct {
	Title string
	Steps []string
}

const genericInstruction = `You are DeepGetty, an elite, technical, and grounded fitness coach.
You are currently observing the user through their camera and listening to them.
Your goal is to provide real-time feedback on their form and answer questions about the disciplines.

TONE GUIDELINES:
- Be calm, authoritative, and professional.
- Do not be overly perky, "bubbly", or high-pitched.
- Speak with a steady, encouraging confidence.
- Be concise.

If you see them standing still, calmly ask if they are ready to start the 'Routine'.
Refer to classes as 'Routines' only.`

// buildInstruction renders the role-specific system instruction sent in the
// transport setup payload.
func buildInstruction(role Role, routine *RoutineContext) string {
	if role != RoleRoutineCoach || routine == nil {
		return genericInstruction
	}
	firstStep := ""
	if len(routine.Steps) > 0 {
		firstStep = routine.Steps[0]
	}
	return fmt.Sprintf(`You are DeepGetty, an elite AI fitness instructor.
The user is currently performing the routine: %q.
This routine has %d steps.
Step 1 is %q.

You are watching the user through their camera.
Your job is to:
1. Briefly welcome them to the %q class.
2. Guide them through the movements.
3. Correct their form based on what you see in the video feed.
4. Be high-energy but focused.

If the user stops moving, encourage them.
If they ask "What's next?", tell them the next step.`,
		routine.Title, len(routine.Steps), firstStep, routine.Title)
}

// IncomingMessage is one decoded unit from the live transport: streamed
// model audio, an interruption signal, or a turn boundary.
type IncomingMessage struct {
	Audio        []byte // raw 24 kHz mono PCM16, nil when absent
	Interrupted  bool
	TurnComplete bool
}

// --- wire frames ---

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type contentPayload struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type setupPayload struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SystemInstruction *contentPayload  `json:"systemInstruction,omitempty"`
}

type setupFrame struct {
	Setup setupPayload `json:"setup"`
}

type realtimeInputPayload struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type realtimeInputFrame struct {
	RealtimeInput realtimeInputPayload `json:"realtimeInput"`
}

type serverContentPayload struct {
	ModelTurn    *contentPayload `json:"modelTurn,omitempty"`
	Interrupted  bool            `json:"interrupted,omitempty"`
	TurnComplete bool            `json:"turnComplete,omitempty"`
}

type serverFrame struct {
	SetupComplete *struct{}             `json:"setupComplete,omitempty"`
	ServerContent *serverContentPayload `json:"serverContent,omitempty"`
}

func encodeSetupFrame(model, voice, instruction string) ([]byte, error) {
	frame := setupFrame{Setup: setupPayload{
		Model: "models/" + model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
			},
		},
		SystemInstruction: &contentPayload{Parts: []part{{Text: instruction}}},
	}}
	return sonic.Marshal(frame)
}

func encodeMediaFrame(chunk media.Chunk) ([]byte, error) {
	frame := realtimeInputFrame{RealtimeInput: realtimeInputPayload{
		MediaChunks: []inlineData{{MimeType: chunk.MimeType, Data: chunk.Data}},
	}}
	return sonic.Marshal(frame)
}

func decodeInto(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// decodeServerFrame parses one transport message. Frames that carry neither
// audio nor a signal (setup acks, empty turns) return a nil message.
func decodeServerFrame(data []byte) (*IncomingMessage, error) {
	var frame serverFrame
	if err := sonic.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("unmarshaling server frame: %w", err)
	}
	sc := frame.ServerContent
	if sc == nil {
		return nil, nil
	}
	msg := &IncomingMessage{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MimeType, "audio/pcm") {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("decoding model audio: %w", err)
			}
			msg.Audio = raw
			break
		}
	}
	if msg.Audio == nil && !msg.Interrupted && !msg.TurnComplete {
		return nil, nil
	}
	return msg, nil
}
