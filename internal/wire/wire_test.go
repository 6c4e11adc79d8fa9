package wire_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Veri5ied/sightline/internal/wire"
)

func TestEncode_SplicesTypeTag(t *testing.T) {
	t.Parallel()

	data, err := wire.Encode(wire.TextTurn{Text: "hello"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("Encode produced invalid JSON: %v", err)
	}
	if obj["type"] != wire.TypeTextTurn {
		t.Errorf("type = %v, want %q", obj["type"], wire.TypeTextTurn)
	}
	if obj["text"] != "hello" {
		t.Errorf("text = %v, want %q", obj["text"], "hello")
	}
}

func TestEncode_EmptyPayload(t *testing.T) {
	t.Parallel()

	data, err := wire.Encode(wire.Ping{})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	want := []byte(`{"type":"ping"}`)
	if !bytes.Equal(data, want) {
		t.Errorf("Encode = %s, want %s", data, want)
	}
}

func TestDecodeClient_RoundTrip(t *testing.T) {
	t.Parallel()

	in := wire.AudioChunk{Data: []byte{0x01, 0x02, 0x03}, MIMEType: "audio/pcm;rate=16000"}
	data, err := wire.Encode(in)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	msg, err := wire.DecodeClient(data)
	if err != nil {
		t.Fatalf("DecodeClient returned error: %v", err)
	}
	got, ok := msg.(wire.AudioChunk)
	if !ok {
		t.Fatalf("DecodeClient returned %T, want wire.AudioChunk", msg)
	}
	if !bytes.Equal(got.Data, in.Data) {
		t.Errorf("Data = %v, want %v", got.Data, in.Data)
	}
	if got.MIMEType != in.MIMEType {
		t.Errorf("MIMEType = %q, want %q", got.MIMEType, in.MIMEType)
	}
}

func TestDecodeClient_Base64Audio(t *testing.T) {
	t.Parallel()

	// Data travels base64-encoded inside the JSON envelope.
	msg, err := wire.DecodeClient([]byte(`{"type":"audio.chunk","data":"AQID","mimeType":"audio/pcm;rate=16000"}`))
	if err != nil {
		t.Fatalf("DecodeClient returned error: %v", err)
	}
	chunk := msg.(wire.AudioChunk)
	if !bytes.Equal(chunk.Data, []byte{1, 2, 3}) {
		t.Errorf("Data = %v, want [1 2 3]", chunk.Data)
	}
}

func TestDecodeClient_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := wire.DecodeClient([]byte(`{"type":"bogus.tag"}`))
	if err == nil {
		t.Fatal("expected error for unknown tag, got nil")
	}
	if !errors.Is(err, wire.ErrUnknownType) {
		t.Errorf("error = %v, want ErrUnknownType", err)
	}
}

func TestDecodeClient_MalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := wire.DecodeClient([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestDecodeClient_ServerTagRejected(t *testing.T) {
	t.Parallel()

	// The vocabularies are disjoint: a server tag is unknown inbound.
	_, err := wire.DecodeClient([]byte(`{"type":"agent.turn.complete"}`))
	if !errors.Is(err, wire.ErrUnknownType) {
		t.Errorf("error = %v, want ErrUnknownType", err)
	}
}

func TestTextTurn_CompleteDefaultsTrue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		json string
		want bool
	}{
		{"absent", `{"type":"text.turn","text":"hi"}`, true},
		{"explicit true", `{"type":"text.turn","text":"hi","turnComplete":true}`, true},
		{"explicit false", `{"type":"text.turn","text":"hi","turnComplete":false}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg, err := wire.DecodeClient([]byte(tt.json))
			if err != nil {
				t.Fatalf("DecodeClient returned error: %v", err)
			}
			if got := msg.(wire.TextTurn).Complete(); got != tt.want {
				t.Errorf("Complete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeServer_RoundTrip(t *testing.T) {
	t.Parallel()

	msgs := []wire.ServerMessage{
		wire.ServerReady{Model: "m"},
		wire.SessionConnected{SessionID: "s-1"},
		wire.SessionClosed{Reason: "gone"},
		wire.UserTranscript{Text: "hello", Finished: true},
		wire.AgentTextDelta{Text: "frag"},
		wire.AgentAudioChunk{Data: []byte{9}, MIMEType: "audio/pcm;rate=24000"},
		wire.AgentTurnComplete{},
		wire.LiveInterrupted{},
		wire.LiveWaitingInput{Waiting: true},
		wire.LiveError{Message: "boom"},
		wire.Pong{},
	}
	for _, in := range msgs {
		t.Run(in.Tag(), func(t *testing.T) {
			t.Parallel()
			data, err := wire.Encode(in)
			if err != nil {
				t.Fatalf("Encode returned error: %v", err)
			}
			out, err := wire.DecodeServer(data)
			if err != nil {
				t.Fatalf("DecodeServer returned error: %v", err)
			}
			if out.Tag() != in.Tag() {
				t.Errorf("Tag() = %q, want %q", out.Tag(), in.Tag())
			}
		})
	}
}

func TestDecodeServer_WaitingFalsePreserved(t *testing.T) {
	t.Parallel()

	msg, err := wire.DecodeServer([]byte(`{"type":"live.waiting-input","waiting":false}`))
	if err != nil {
		t.Fatalf("DecodeServer returned error: %v", err)
	}
	if msg.(wire.LiveWaitingInput).Waiting {
		t.Error("Waiting = true, want false")
	}
}
