package handler

import (
	"context"

	"github.com/replinet/server/internal/config"
	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/interest"
	"github.com/replinet/server/internal/net"
	"github.com/replinet/server/internal/net/packet"
	"github.com/replinet/server/internal/persist"
	"github.com/replinet/server/internal/replication"
	"github.com/replinet/server/internal/request"
	"github.com/replinet/server/internal/rpc"
	"github.com/replinet/server/internal/scene"
	"github.com/replinet/server/internal/scripting"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all message handlers.
// Server-only and client-only fields are nil on the other side.
type Deps struct {
	Ctx       context.Context
	Config    *config.Config
	Log       *zap.Logger
	Registry  *entity.Registry
	Sessions  *net.SessionStore
	Clock     *coresys.Clock
	RPC       *rpc.Dispatcher
	Requests  *request.Layer
	Scenes    *scene.Loader
	Scripting *scripting.Engine // optional

	// server
	Interest interest.Manager
	Journal  *persist.Journal // optional

	// client
	Applier *replication.Applier
	Client  *ClientState
}

func (d *Deps) tick() uint32 {
	if d.Clock == nil {
		return 0
	}
	return d.Clock.Now()
}

var (
	handshake = []packet.SessionState{packet.StateHandshake}
	approved  = []packet.SessionState{packet.StateApproved}
	ready     = []packet.SessionState{packet.StateReady}
	anyState  = []packet.SessionState{packet.StateHandshake, packet.StateApproved, packet.StateReady}
)

// RegisterServer registers the authoritative side's handlers.
func RegisterServer(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.MsgHello, handshake,
		func(sess any, r *packet.Reader) {
			HandleHello(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgReady, approved,
		func(sess any, r *packet.Reader) {
			HandleReady(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgRPC, ready,
		func(sess any, r *packet.Reader) {
			HandleRPC(sess.(*net.Session), r, deps)
		},
	)
	registerShared(reg, deps)
}

// RegisterClient registers the remote client's handlers.
func RegisterClient(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.MsgApprove, handshake,
		func(sess any, r *packet.Reader) {
			HandleApprove(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgServerError, anyState,
		func(sess any, r *packet.Reader) {
			HandleServerError(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgSyncBaseline, packet.Connected,
		func(sess any, r *packet.Reader) {
			HandleSync(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgSyncDelta, packet.Connected,
		func(sess any, r *packet.Reader) {
			HandleSync(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgSceneChange, packet.Connected,
		func(sess any, r *packet.Reader) {
			HandleSceneChange(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgSetObjectOwner, packet.Connected,
		func(sess any, r *packet.Reader) {
			HandleSetObjectOwner(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgRPC, packet.Connected,
		func(sess any, r *packet.Reader) {
			HandleRPC(sess.(*net.Session), r, deps)
		},
	)
	registerShared(reg, deps)
}

func registerShared(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.MsgRequest, packet.Connected,
		func(sess any, r *packet.Reader) {
			HandleRequest(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgResponse, packet.Connected,
		func(sess any, r *packet.Reader) {
			HandleResponse(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgPing, packet.Connected,
		func(sess any, r *packet.Reader) {
			HandlePing(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgPong, packet.Connected,
		func(sess any, r *packet.Reader) {
			HandlePong(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.MsgDisconnect, anyState,
		func(sess any, r *packet.Reader) {
			HandleDisconnect(sess.(*net.Session), r, deps)
		},
	)
}
