package livecoach

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgetty/live-coach/media"
	"github.com/deepgetty/live-coach/shared"
)

var testUpgrader = websocket.Upgrader{}

// liveServer is a minimal stand-in for the realtime endpoint: it acks the
// setup frame and then runs the given script against the connection.
func liveServer(t *testing.T, script func(conn *websocket.Conn, setup setupFrame)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var setup setupFrame
		require.NoError(t, sonic.Unmarshal(data, &setup))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)))

		if script != nil {
			script(conn, setup)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestOpenChannelRequiresAPIKey(t *testing.T) {
	_, err := OpenChannel(context.Background(), shared.NewNopLogger(), ChannelConfig{}, ChannelCallbacks{})
	assert.ErrorIs(t, err, shared.ErrAuthentication)
}

func TestOpenChannelHandshake(t *testing.T) {
	setups := make(chan setupFrame, 1)
	server := liveServer(t, func(conn *websocket.Conn, setup setupFrame) {
		setups <- setup
		// Hold the connection open until the client hangs up.
		_, _, _ = conn.ReadMessage()
	})

	opened := make(chan struct{}, 1)
	ch, err := OpenChannel(context.Background(), shared.NewNopLogger(), ChannelConfig{
		APIKey:   "test-key",
		Role:     RoleRoutineCoach,
		Routine:  &RoutineContext{Title: "Kinetic Flow", Steps: []string{"Warm-up"}},
		Endpoint: wsURL(server),
	}, ChannelCallbacks{
		OnOpen: func() { opened <- struct{}{} },
	})
	require.NoError(t, err)
	defer ch.Close()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen never fired")
	}

	setup := <-setups
	assert.Equal(t, "models/"+shared.DefaultLiveModel, setup.Setup.Model)
	assert.Equal(t, shared.DefaultVoice, setup.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.NotNil(t, setup.Setup.SystemInstruction)
	assert.Contains(t, setup.Setup.SystemInstruction.Parts[0].Text, "Kinetic Flow")
}

func TestOpenChannelRejectsBadAck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{}}`))
	}))
	t.Cleanup(server.Close)

	_, err := OpenChannel(context.Background(), shared.NewNopLogger(), ChannelConfig{
		APIKey:   "test-key",
		Endpoint: wsURL(server),
	}, ChannelCallbacks{})
	assert.ErrorIs(t, err, shared.ErrConnection)
}

func TestChannelSendAndReceive(t *testing.T) {
	received := make(chan realtimeInputFrame, 1)
	server := liveServer(t, func(conn *websocket.Conn, _ setupFrame) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame realtimeInputFrame
		require.NoError(t, sonic.Unmarshal(data, &frame))
		received <- frame

		// Answer with audio, then an interruption.
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AQACAA=="}}]}}}`,
		))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"interrupted":true}}`))
		_, _, _ = conn.ReadMessage()
	})

	var mu sync.Mutex
	var messages []*IncomingMessage
	gotBoth := make(chan struct{})
	ch, err := OpenChannel(context.Background(), shared.NewNopLogger(), ChannelConfig{
		APIKey:   "test-key",
		Endpoint: wsURL(server),
	}, ChannelCallbacks{
		OnMessage: func(msg *IncomingMessage) {
			mu.Lock()
			messages = append(messages, msg)
			if len(messages) == 2 {
				close(gotBoth)
			}
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send(media.Chunk{MimeType: media.MimeAudioPCM, Data: "AAAA"}))

	frame := <-received
	require.Len(t, frame.RealtimeInput.MediaChunks, 1)
	assert.Equal(t, media.MimeAudioPCM, frame.RealtimeInput.MediaChunks[0].MimeType)

	select {
	case <-gotBoth:
	case <-time.After(2 * time.Second):
		t.Fatal("server messages never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x00}, messages[0].Audio)
	assert.True(t, messages[1].Interrupted)
}

func TestChannelMalformedFramesAreDropped(t *testing.T) {
	server := liveServer(t, func(conn *websocket.Conn, _ setupFrame) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"turnComplete":true}}`))
		_, _, _ = conn.ReadMessage()
	})

	got := make(chan *IncomingMessage, 1)
	ch, err := OpenChannel(context.Background(), shared.NewNopLogger(), ChannelConfig{
		APIKey:   "test-key",
		Endpoint: wsURL(server),
	}, ChannelCallbacks{
		OnMessage: func(msg *IncomingMessage) { got <- msg },
	})
	require.NoError(t, err)
	defer ch.Close()

	select {
	case msg := <-got:
		// The bad frame was skipped; the session delivered the next one.
		assert.True(t, msg.TurnComplete)
	case <-time.After(2 * time.Second):
		t.Fatal("message after malformed frame never arrived")
	}
}

func TestChannelRemoteCloseFiresOnClose(t *testing.T) {
	server := liveServer(t, func(conn *websocket.Conn, _ setupFrame) {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	})

	closed := make(chan struct{})
	ch, err := OpenChannel(context.Background(), shared.NewNopLogger(), ChannelConfig{
		APIKey:   "test-key",
		Endpoint: wsURL(server),
	}, ChannelCallbacks{
		OnClose: func() { close(closed) },
	})
	require.NoError(t, err)
	defer ch.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose never fired")
	}
}

func TestChannelSendAfterClose(t *testing.T) {
	server := liveServer(t, func(conn *websocket.Conn, _ setupFrame) {
		_, _, _ = conn.ReadMessage()
	})

	ch, err := OpenChannel(context.Background(), shared.NewNopLogger(), ChannelConfig{
		APIKey:   "test-key",
		Endpoint: wsURL(server),
	}, ChannelCallbacks{})
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(media.Chunk{MimeType: media.MimeAudioPCM}), shared.ErrSessionClosed)
	// Close stays idempotent.
	assert.NoError(t, ch.Close())
}
