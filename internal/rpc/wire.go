package rpc

import (
	"fmt"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
)

// RPC message body:
//
//	objectId:varint fnId:varint receiver:byte target:varint(zigzag)
//	caller:varint(zigzag) args...
type header struct {
	objectID entity.ObjectID
	fnID     uint64
	receiver Receiver
	caller   entity.ConnID
}

func encode(id entity.ObjectID, fnID uint8, recv Receiver, caller entity.ConnID, args []packet.Value) []byte {
	w := packet.NewMessageWriter(packet.MsgRPC)
	w.WriteUvarint(uint64(id))
	w.WriteUvarint(uint64(fnID))
	w.WriteUint8(byte(recv.Kind))
	w.WriteVarint(int64(recv.Conn))
	w.WriteVarint(int64(caller))
	packet.WriteValues(w, args)
	return w.Bytes()
}

func decodeHeader(r *packet.Reader) (header, error) {
	h := header{
		objectID: entity.ObjectID(r.ReadUvarint()),
		fnID:     r.ReadUvarint(),
	}
	h.receiver.Kind = ReceiverKind(r.ReadUint8())
	h.receiver.Conn = entity.ConnID(r.ReadVarint())
	h.caller = entity.ConnID(r.ReadVarint())
	if err := r.Err(); err != nil {
		return header{}, fmt.Errorf("rpc header: %w", err)
	}
	return h, nil
}
