package signaling

import (
	"testing"
)

func TestDecodeRequiresType(t *testing.T) {
	if _, err := Decode([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestEncodeDecodeEnvelope(t *testing.T) {
	data, err := Encode(MessageTypeJoin, JoinPayload{ParticipantID: "alice", RoomID: "room"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != MessageTypeJoin {
		t.Fatalf("expected join, got %s", env.Type)
	}

	var join JoinPayload
	if err := env.DecodePayload(&join); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if join.ParticipantID != "alice" || join.RoomID != "room" {
		t.Fatalf("payload mangled: %+v", join)
	}
}

func TestSignalPayloadStaysOpaque(t *testing.T) {
	raw := []byte(`{"type":"signal","payload":{"senderId":"bob","receiverId":"alice","signalPayload":{"anything":["goes",1,true]}}}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var sig SignalPayload
	if err := env.DecodePayload(&sig); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if string(sig.Data) != `{"anything":["goes",1,true]}` {
		t.Fatalf("inner payload altered: %s", sig.Data)
	}
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	raw := []byte(`{"type":"join","payload":{"participantId":"a","roomId":"r","extra":42}}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var join JoinPayload
	if err := env.DecodePayload(&join); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if join.ParticipantID != "a" {
		t.Fatalf("payload mangled: %+v", join)
	}
}
