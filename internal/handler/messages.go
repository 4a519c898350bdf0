package handler

import (
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
)

// ErrorCode travels in ServerError messages.
type ErrorCode byte

const (
	ErrorVersion ErrorCode = iota + 1
	ErrorRejected
	ErrorInternal
)

func EncodeHello(version uint32, key string, payload []byte) []byte {
	w := packet.NewMessageWriter(packet.MsgHello)
	w.WriteUvarint(uint64(version))
	w.WriteString(key)
	w.WriteBlob(payload)
	return w.Bytes()
}

func EncodeApprove(conn entity.ConnID, tick uint32, sceneName string) []byte {
	w := packet.NewMessageWriter(packet.MsgApprove)
	w.WriteVarint(int64(conn))
	w.WriteUvarint(uint64(tick))
	w.WriteString(sceneName)
	return w.Bytes()
}

func EncodeReady() []byte {
	return packet.NewMessageWriter(packet.MsgReady).Bytes()
}

func EncodeServerError(code ErrorCode, msg string) []byte {
	w := packet.NewMessageWriter(packet.MsgServerError)
	w.WriteUint8(byte(code))
	w.WriteString(msg)
	return w.Bytes()
}

func EncodeSceneChange(name string) []byte {
	w := packet.NewMessageWriter(packet.MsgSceneChange)
	w.WriteString(name)
	return w.Bytes()
}

func EncodeSetObjectOwner(id entity.ObjectID, owner entity.ConnID) []byte {
	w := packet.NewMessageWriter(packet.MsgSetObjectOwner)
	w.WriteUvarint(uint64(id))
	w.WriteVarint(int64(owner))
	return w.Bytes()
}

// EncodePing carries the sender's clock in unix nanoseconds; Pong echoes it.
func EncodePing(sentAt int64) []byte {
	w := packet.NewMessageWriter(packet.MsgPing)
	w.WriteVarint(sentAt)
	return w.Bytes()
}

func EncodePong(sentAt int64) []byte {
	w := packet.NewMessageWriter(packet.MsgPong)
	w.WriteVarint(sentAt)
	return w.Bytes()
}

func EncodeDisconnect(reason string) []byte {
	w := packet.NewMessageWriter(packet.MsgDisconnect)
	w.WriteString(reason)
	return w.Bytes()
}
