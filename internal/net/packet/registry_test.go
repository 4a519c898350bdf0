package packet

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestRegistryStateGating(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	calls := 0
	reg.Register(MsgPing, Connected, func(_ any, r *Reader) {
		calls++
		if r.ReadUvarint() != 5 {
			t.Errorf("payload not positioned after type byte")
		}
	})

	msg := NewMessageWriter(MsgPing)
	msg.WriteUvarint(5)

	if err := reg.Dispatch(nil, StateHandshake, msg.Bytes()); !errors.Is(err, ErrStateNotAllowed) {
		t.Fatalf("handshake dispatch err = %v", err)
	}
	if err := reg.Dispatch(nil, StateReady, msg.Bytes()); err != nil {
		t.Fatalf("ready dispatch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if err := reg.Dispatch(nil, StateReady, []byte{byte(MsgPong)}); err != nil {
		t.Fatalf("unknown type should be ignored, got %v", err)
	}
}

func TestRegistryRecoversPanic(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(MsgRPC, Connected, func(any, *Reader) { panic("boom") })
	if err := reg.Dispatch(nil, StateReady, []byte{byte(MsgRPC)}); err == nil {
		t.Fatal("expected error from recovered panic")
	}
}
