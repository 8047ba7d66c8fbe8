package livecoach

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/deepgetty/live-coach/shared"
)

const (
	defaultChatEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	chatRequestTimeout  = 60 * time.Second

	// Shown to the user when the chat backend is unreachable or misconfigured,
	// so the support panel never surfaces a bare stack trace.
	chatApology = "I'm sorry, I'm having trouble connecting to the support system right now. Please try again in a moment."

	supportInstruction = `You are the DeepGetty support assistant.
Help users with questions about their fitness routines, account settings, and how to use the app.
Be concise and friendly. If a question needs a human, say so and suggest contacting support@deepgetty.example.`
)

// ChatMessage is one turn of a support conversation.
type ChatMessage struct {
	Role string // "user" or "model"
	Text string
}

// ChatClient streams text replies from the generative chat endpoint. It is
// stateless; callers keep the conversation history and pass it whole on each
// call.
type ChatClient struct {
	logger   shared.LoggerAdapter
	client   *fasthttp.Client
	apiKey   string
	model    string
	endpoint string
}

func NewChatClient(logger shared.LoggerAdapter, prefs *shared.Preferences) (*ChatClient, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if prefs == nil {
		return nil, shared.ErrNoConfig
	}
	model := prefs.ChatModel
	if model == "" {
		model = shared.DefaultChatModel
	}
	return &ChatClient{
		logger: logger.With(zap.String("component", "chat")),
		client: &fasthttp.Client{
			ReadTimeout:        chatRequestTimeout,
			WriteTimeout:       chatRequestTimeout,
			StreamResponseBody: true,
		},
		apiKey:   prefs.APIKey,
		model:    model,
		endpoint: defaultChatEndpoint,
	}, nil
}

// SetEndpoint overrides the chat base URL. Tests point it at a local server.
func (c *ChatClient) SetEndpoint(endpoint string) {
	c.endpoint = strings.TrimRight(endpoint, "/")
}

type chatContentRequest struct {
	Contents          []contentPayload `json:"contents"`
	SystemInstruction *contentPayload  `json:"systemInstruction,omitempty"`
}

type chatCandidate struct {
	Content *contentPayload `json:"content,omitempty"`
}

type chatStreamChunk struct {
	Candidates []chatCandidate `json:"candidates,omitempty"`
}

// Stream sends the conversation and invokes onChunk for each text fragment
// as it arrives. Any failure is reported to the user as a single apology
// chunk; the underlying error is logged and returned.
func (c *ChatClient) Stream(ctx context.Context, history []ChatMessage, onChunk func(text string)) error {
	err := c.stream(ctx, history, onChunk)
	if err != nil {
		c.logger.Error("chat stream failed", err)
		onChunk(chatApology)
	}
	return err
}

func (c *ChatClient) stream(ctx context.Context, history []ChatMessage, onChunk func(text string)) error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: configure an API key in the admin preferences", shared.ErrAuthentication)
	}

	contents := make([]contentPayload, 0, len(history))
	for _, m := range history {
		contents = append(contents, contentPayload{
			Role:  m.Role,
			Parts: []part{{Text: m.Text}},
		})
	}
	body, err := sonic.Marshal(chatContentRequest{
		Contents:          contents,
		SystemInstruction: &contentPayload{Parts: []part{{Text: supportInstruction}}},
	})
	if err != nil {
		return fmt.Errorf("marshaling chat request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.endpoint, c.model, c.apiKey))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(chatRequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("%w: chat request: %v", shared.ErrConnection, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("%w: chat endpoint returned %d", shared.ErrConnection, resp.StatusCode())
	}

	stream := resp.BodyStream()
	if stream == nil {
		return c.scanEvents(ctx, bytes.NewReader(resp.Body()), onChunk)
	}
	defer func() { _ = resp.CloseBodyStream() }()
	return c.scanEvents(ctx, stream, onChunk)
}

// scanEvents reads server-sent events and forwards each candidate's text.
// Unparseable events are skipped; the model occasionally interleaves
// metadata-only chunks.
func (c *ChatClient) scanEvents(ctx context.Context, r io.Reader, onChunk func(text string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		payload := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(payload, []byte("[DONE]")) {
			break
		}
		var chunk chatStreamChunk
		if err := sonic.Unmarshal(payload, &chunk); err != nil {
			c.logger.Warn("skipping malformed chat event", zap.Error(err))
			continue
		}
		for _, cand := range chunk.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, p := range cand.Content.Parts {
				if p.Text != "" {
					onChunk(p.Text)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading chat stream: %v", shared.ErrConnection, err)
	}
	return nil
}
