package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Veri5ied/sightline/pkg/live"
	"github.com/Veri5ied/sightline/pkg/live/gemini"
)

// upstream is a scriptable stand-in for the Gemini Live endpoint.
type upstream struct {
	srv    *httptest.Server
	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan map[string]any
	ready  chan struct{}
	path   string
	query  string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{
		frames: make(chan map[string]any, 32),
		ready:  make(chan struct{}),
	}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.path = r.URL.Path
		u.query = r.URL.RawQuery
		u.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		u.mu.Lock()
		u.conn = conn
		u.mu.Unlock()
		close(u.ready)

		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			var frame map[string]any
			if json.Unmarshal(data, &frame) == nil {
				u.frames <- frame
			}
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) send(t *testing.T, v any) {
	t.Helper()
	select {
	case <-u.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never accepted a connection")
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal upstream frame: %v", err)
	}
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write upstream frame: %v", err)
	}
}

func (u *upstream) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case f := <-u.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a client frame")
		return nil
	}
}

func (u *upstream) closeConn(t *testing.T, reason string) {
	t.Helper()
	select {
	case <-u.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never accepted a connection")
	}
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, reason)
}

// eventRecorder collects hook invocations.
type eventRecorder struct {
	mu      sync.Mutex
	events  []live.ServerEvent
	errors  []error
	closes  []string
	eventCh chan struct{}
	closeCh chan struct{}
	errCh   chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		eventCh: make(chan struct{}, 32),
		closeCh: make(chan struct{}, 4),
		errCh:   make(chan struct{}, 32),
	}
}

func (r *eventRecorder) hooks() live.Hooks {
	return live.Hooks{
		OnMessage: func(ev live.ServerEvent) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
			r.eventCh <- struct{}{}
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errors = append(r.errors, err)
			r.mu.Unlock()
			r.errCh <- struct{}{}
		},
		OnClose: func(reason string) {
			r.mu.Lock()
			r.closes = append(r.closes, reason)
			r.mu.Unlock()
			r.closeCh <- struct{}{}
		},
	}
}

func (r *eventRecorder) waitEvent(t *testing.T) live.ServerEvent {
	t.Helper()
	select {
	case <-r.eventCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a server event")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func connect(t *testing.T, u *upstream, cfg live.SessionConfig, rec *eventRecorder) live.Session {
	t.Helper()
	p := gemini.New("test-key", gemini.WithBaseURL(u.srv.URL))
	sess, err := p.Connect(context.Background(), cfg, rec.hooks())
	if err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestConnect_SetupMessage(t *testing.T) {
	t.Parallel()

	u := newUpstream(t)
	rec := newEventRecorder()
	connect(t, u, live.SessionConfig{
		SystemInstruction:   "observe quietly",
		InputTranscription:  true,
		OutputTranscription: true,
	}, rec)

	frame := u.next(t)
	setup, ok := frame["setup"].(map[string]any)
	if !ok {
		t.Fatalf("first frame = %v, want a setup message", frame)
	}
	if setup["model"] != "models/"+gemini.DefaultModel {
		t.Errorf("model = %v, want models/%s", setup["model"], gemini.DefaultModel)
	}
	gc := setup["generationConfig"].(map[string]any)
	mods := gc["responseModalities"].([]any)
	if len(mods) != 1 || mods[0] != "AUDIO" {
		t.Errorf("responseModalities = %v, want [AUDIO]", mods)
	}
	si := setup["systemInstruction"].(map[string]any)
	parts := si["parts"].([]any)
	if parts[0].(map[string]any)["text"] != "observe quietly" {
		t.Errorf("systemInstruction = %v, want the configured prompt", si)
	}
	if _, ok := setup["inputAudioTranscription"]; !ok {
		t.Error("inputAudioTranscription missing from setup")
	}
	if _, ok := setup["outputAudioTranscription"]; !ok {
		t.Error("outputAudioTranscription missing from setup")
	}

	u.mu.Lock()
	query := u.query
	u.mu.Unlock()
	if !strings.Contains(query, "key=test-key") {
		t.Errorf("query = %q, want the API key parameter", query)
	}
}

func TestConnect_ModelOverride(t *testing.T) {
	t.Parallel()

	u := newUpstream(t)
	rec := newEventRecorder()
	connect(t, u, live.SessionConfig{Model: "gemini-custom"}, rec)

	frame := u.next(t)
	setup := frame["setup"].(map[string]any)
	if setup["model"] != "models/gemini-custom" {
		t.Errorf("model = %v, want models/gemini-custom", setup["model"])
	}
	if _, ok := setup["inputAudioTranscription"]; ok {
		t.Error("inputAudioTranscription present though not requested")
	}
}

func TestReceive_SetupComplete(t *testing.T) {
	t.Parallel()

	u := newUpstream(t)
	rec := newEventRecorder()
	connect(t, u, live.SessionConfig{}, rec)
	u.next(t) // setup

	u.send(t, map[string]any{"setupComplete": map[string]any{"sessionId": "sess-42"}})

	ev := rec.waitEvent(t)
	if ev.SetupComplete == nil || ev.SetupComplete.SessionID != "sess-42" {
		t.Errorf("event = %+v, want setup complete with sess-42", ev)
	}
}

func TestReceive_ServerContent(t *testing.T) {
	t.Parallel()

	u := newUpstream(t)
	rec := newEventRecorder()
	connect(t, u, live.SessionConfig{}, rec)
	u.next(t) // setup

	audio := []byte{0x10, 0x20, 0x30}
	u.send(t, map[string]any{
		"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []any{
					map[string]any{"inlineData": map[string]any{
						"mimeType": "audio/pcm;rate=24000",
						"data":     base64.StdEncoding.EncodeToString(audio),
					}},
				},
			},
			"outputTranscription": map[string]any{"text": "hello"},
			"turnComplete":        true,
		},
	})

	ev := rec.waitEvent(t)
	if len(ev.ModelTurn) != 1 || ev.ModelTurn[0].InlineData == nil {
		t.Fatalf("event = %+v, want one inline-data part", ev)
	}
	blob := ev.ModelTurn[0].InlineData
	if blob.MIMEType != "audio/pcm;rate=24000" || string(blob.Data) != string(audio) {
		t.Errorf("blob = %+v, want the decoded audio", blob)
	}
	if ev.OutputTranscription == nil || ev.OutputTranscription.Text != "hello" {
		t.Errorf("OutputTranscription = %+v, want hello", ev.OutputTranscription)
	}
	if !ev.TurnComplete {
		t.Error("TurnComplete = false, want true")
	}
}

func TestReceive_ErrorFrame(t *testing.T) {
	t.Parallel()

	u := newUpstream(t)
	rec := newEventRecorder()
	connect(t, u, live.SessionConfig{}, rec)
	u.next(t) // setup

	u.send(t, map[string]any{"error": map[string]any{"code": 429, "message": "quota exceeded"}})

	select {
	case <-rec.errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the error hook")
	}
	rec.mu.Lock()
	got := rec.errors[len(rec.errors)-1].Error()
	rec.mu.Unlock()
	if !strings.Contains(got, "quota exceeded") {
		t.Errorf("error = %q, want it to carry the upstream message", got)
	}
}

func TestSendContent_Frame(t *testing.T) {
	t.Parallel()

	u := newUpstream(t)
	rec := newEventRecorder()
	sess := connect(t, u, live.SessionConfig{}, rec)
	u.next(t) // setup

	if err := sess.SendContent(live.Turn{Text: "hello there", Complete: true}); err != nil {
		t.Fatalf("SendContent returned error: %v", err)
	}

	frame := u.next(t)
	cc, ok := frame["clientContent"].(map[string]any)
	if !ok {
		t.Fatalf("frame = %v, want clientContent", frame)
	}
	if cc["turnComplete"] != true {
		t.Errorf("turnComplete = %v, want true", cc["turnComplete"])
	}
	turns := cc["turns"].([]any)
	turn := turns[0].(map[string]any)
	if turn["role"] != "user" {
		t.Errorf("role = %v, want user (default)", turn["role"])
	}
	if turn["parts"].([]any)[0].(map[string]any)["text"] != "hello there" {
		t.Errorf("turn = %v, want the text part", turn)
	}
}

func TestSendRealtimeInput_Frames(t *testing.T) {
	t.Parallel()

	u := newUpstream(t)
	rec := newEventRecorder()
	sess := connect(t, u, live.SessionConfig{}, rec)
	u.next(t) // setup

	payload := []byte{1, 2, 3, 4}
	if err := sess.SendRealtimeInput(live.RealtimeInput{
		Audio: &live.Blob{MIMEType: "audio/pcm;rate=16000", Data: payload},
	}); err != nil {
		t.Fatalf("SendRealtimeInput returned error: %v", err)
	}
	frame := u.next(t)
	ri := frame["realtimeInput"].(map[string]any)
	chunk := ri["audio"].(map[string]any)
	if chunk["data"] != base64.StdEncoding.EncodeToString(payload) {
		t.Errorf("audio data = %v, want base64 payload", chunk["data"])
	}

	if err := sess.SendRealtimeInput(live.RealtimeInput{ActivityStart: true}); err != nil {
		t.Fatalf("SendRealtimeInput returned error: %v", err)
	}
	frame = u.next(t)
	ri = frame["realtimeInput"].(map[string]any)
	if _, ok := ri["activityStart"]; !ok {
		t.Errorf("frame = %v, want activityStart", ri)
	}

	if err := sess.SendRealtimeInput(live.RealtimeInput{AudioStreamEnd: true}); err != nil {
		t.Fatalf("SendRealtimeInput returned error: %v", err)
	}
	frame = u.next(t)
	ri = frame["realtimeInput"].(map[string]any)
	if ri["audioStreamEnd"] != true {
		t.Errorf("frame = %v, want audioStreamEnd", ri)
	}

	if err := sess.SendRealtimeInput(live.RealtimeInput{}); err == nil {
		t.Error("expected error for empty realtime input, got nil")
	}
}

func TestUpstreamClose_FiresOnCloseWithReason(t *testing.T) {
	t.Parallel()

	u := newUpstream(t)
	rec := newEventRecorder()
	connect(t, u, live.SessionConfig{}, rec)
	u.next(t) // setup

	u.closeConn(t, "server going away")

	select {
	case <-rec.closeCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the close hook")
	}
	rec.mu.Lock()
	reason := rec.closes[0]
	rec.mu.Unlock()
	if reason != "server going away" {
		t.Errorf("reason = %q, want the upstream close reason", reason)
	}
}

func TestCallerClose_SuppressesOnClose(t *testing.T) {
	t.Parallel()

	u := newUpstream(t)
	rec := newEventRecorder()
	sess := connect(t, u, live.SessionConfig{}, rec)
	u.next(t) // setup

	if err := sess.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}

	select {
	case <-rec.closeCh:
		t.Fatal("OnClose fired for a caller-initiated close")
	case <-time.After(100 * time.Millisecond):
	}

	// Sends after close fail fast.
	if err := sess.SendContent(live.Turn{Text: "too late"}); err == nil {
		t.Error("expected error sending on a closed session, got nil")
	}
}
