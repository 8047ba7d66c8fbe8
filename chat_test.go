package livecoach

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgetty/live-coach/shared"
)

func newTestChatClient(t *testing.T, handler http.HandlerFunc) (*ChatClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewChatClient(shared.NewNopLogger(), &shared.Preferences{
		APIKey:    "test-key",
		ChatModel: "test-model",
	})
	require.NoError(t, err)
	client.SetEndpoint(server.URL)
	return client, server
}

func sseEvent(text string) string {
	return `data: {"candidates":[{"content":{"parts":[{"text":` + mustQuote(text) + `}]}}]}` + "\n\n"
}

func mustQuote(s string) string {
	out, err := sonic.MarshalString(s)
	if err != nil {
		panic(err)
	}
	return out
}

func TestChatStreamDeliversFragmentsInOrder(t *testing.T) {
	client, _ := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "models/test-model")
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseEvent("Hello")))
		_, _ = w.Write([]byte(sseEvent(", ")))
		_, _ = w.Write([]byte(sseEvent("world!")))
	})

	var got []string
	err := client.Stream(context.Background(), []ChatMessage{{Role: "user", Text: "hi"}}, func(text string) {
		got = append(got, text)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ", ", "world!"}, got)
}

func TestChatStreamSendsHistoryAndInstruction(t *testing.T) {
	var body chatContentRequest
	client, _ := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(sseEvent("ok")))
	})

	history := []ChatMessage{
		{Role: "user", Text: "How do I record a session?"},
		{Role: "model", Text: "Use the record button."},
		{Role: "user", Text: "Thanks!"},
	}
	err := client.Stream(context.Background(), history, func(string) {})
	require.NoError(t, err)

	require.Len(t, body.Contents, 3)
	assert.Equal(t, "user", body.Contents[0].Role)
	assert.Equal(t, "How do I record a session?", body.Contents[0].Parts[0].Text)
	assert.Equal(t, "model", body.Contents[1].Role)
	require.NotNil(t, body.SystemInstruction)
	assert.Contains(t, body.SystemInstruction.Parts[0].Text, "support assistant")
}

func TestChatStreamSkipsMetadataOnlyEvents(t *testing.T) {
	client, _ := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data: {\"usageMetadata\":{\"totalTokenCount\":12}}\n\n"))
		_, _ = w.Write([]byte(sseEvent("answer")))
		_, _ = w.Write([]byte(": keep-alive comment\n\n"))
	})

	var got []string
	err := client.Stream(context.Background(), nil, func(text string) {
		got = append(got, text)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"answer"}, got)
}

func TestChatStreamApologizesOnServerError(t *testing.T) {
	client, _ := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	var got []string
	err := client.Stream(context.Background(), nil, func(text string) {
		got = append(got, text)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConnection)
	require.Len(t, got, 1)
	assert.True(t, strings.Contains(got[0], "sorry"), "apology expected, got %q", got[0])
}

func TestChatStreamApologizesWithoutCredential(t *testing.T) {
	client, err := NewChatClient(shared.NewNopLogger(), &shared.Preferences{})
	require.NoError(t, err)

	var got []string
	err = client.Stream(context.Background(), nil, func(text string) {
		got = append(got, text)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrAuthentication)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "sorry")
}

func TestChatClientDefaultsModel(t *testing.T) {
	client, err := NewChatClient(shared.NewNopLogger(), &shared.Preferences{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, shared.DefaultChatModel, client.model)
}
