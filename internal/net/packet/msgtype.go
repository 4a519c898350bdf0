package packet

import "fmt"

// MsgType is the first byte of every framed message. Server->client and
// client->server share one namespace.
type MsgType byte

const (
	MsgHello MsgType = iota + 1
	MsgApprove
	MsgReady
	MsgRequest
	MsgResponse
	MsgRPC
	MsgSyncBaseline
	MsgSyncDelta
	MsgServerError
	MsgSceneChange
	MsgSetObjectOwner
	MsgPing
	MsgPong
	MsgDisconnect
)

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "Hello"
	case MsgApprove:
		return "Approve"
	case MsgReady:
		return "Ready"
	case MsgRequest:
		return "Request"
	case MsgResponse:
		return "Response"
	case MsgRPC:
		return "RPC"
	case MsgSyncBaseline:
		return "SyncBaseline"
	case MsgSyncDelta:
		return "SyncDelta"
	case MsgServerError:
		return "ServerError"
	case MsgSceneChange:
		return "SceneChange"
	case MsgSetObjectOwner:
		return "SetObjectOwner"
	case MsgPing:
		return "Ping"
	case MsgPong:
		return "Pong"
	case MsgDisconnect:
		return "Disconnect"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(t))
	}
}

// Channel selects delivery guarantees for an outgoing message.
type Channel byte

const (
	Reliable Channel = iota
	Unreliable
)

func (c Channel) String() string {
	if c == Unreliable {
		return "unreliable"
	}
	return "reliable"
}
