package handler

import (
	"errors"
	"fmt"
	"time"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net"
	"github.com/replinet/server/internal/net/packet"
	"github.com/replinet/server/internal/persist"
	"github.com/replinet/server/internal/rpc"
	"go.uber.org/zap"
)

// HandleRequest answers a request through the request layer.
func HandleRequest(sess *net.Session, r *packet.Reader, deps *Deps) {
	if err := deps.Requests.HandleRequest(sess.ID, r); err != nil {
		deps.Log.Debug("bad request", zap.Int32("conn", int32(sess.ID)), zap.Error(err))
	}
}

// HandleResponse completes a pending request.
func HandleResponse(sess *net.Session, r *packet.Reader, deps *Deps) {
	if err := deps.Requests.HandleResponse(sess.ID, r); err != nil {
		deps.Log.Debug("bad response", zap.Int32("conn", int32(sess.ID)), zap.Error(err))
	}
}

// HandleRPC hands a remote call to the dispatcher. Authorization failures
// are expected from misbehaving peers and logged at debug.
func HandleRPC(sess *net.Session, r *packet.Reader, deps *Deps) {
	err := deps.RPC.Handle(sess.ID, r)
	switch {
	case err == nil:
	case errors.Is(err, rpc.ErrUnauthorized), errors.Is(err, rpc.ErrUnknown):
		deps.Log.Debug("rpc rejected", zap.Int32("conn", int32(sess.ID)), zap.Error(err))
	default:
		deps.Log.Warn("rpc failed", zap.Int32("conn", int32(sess.ID)), zap.Error(err))
	}
}

// HandlePing echoes the sender's timestamp.
func HandlePing(sess *net.Session, r *packet.Reader, _ *Deps) {
	sentAt := r.ReadVarint()
	if r.Err() != nil {
		return
	}
	sess.Send(packet.Unreliable, EncodePong(sentAt))
}

// HandlePong folds a round-trip sample into the peer's RTT.
func HandlePong(sess *net.Session, r *packet.Reader, deps *Deps) {
	sentAt := r.ReadVarint()
	if r.Err() != nil {
		return
	}
	sample := time.Since(time.Unix(0, sentAt))
	if sample < 0 {
		return
	}
	if deps.Client != nil {
		deps.Client.RTT = sample
		return
	}
	if p, ok := deps.Registry.Player(sess.ID); ok {
		p.UpdateRTT(sample)
	}
}

// HandleDisconnect closes the link at the peer's request. Cleanup happens
// in Disconnect once the input system sees the session closed.
func HandleDisconnect(sess *net.Session, r *packet.Reader, deps *Deps) {
	reason := r.ReadString()
	deps.Log.Info(fmt.Sprintf("peer disconnected  conn=%d  reason=%q", sess.ID, reason))
	sess.Close()
}

// Disconnect removes a closed session's player, fails its outstanding
// requests and journals the session.
func Disconnect(sess *net.Session, deps *Deps) {
	if deps.Requests != nil {
		if n := deps.Requests.Drop(sess.ID); n > 0 {
			deps.Log.Debug("dropped pending requests", zap.Int32("conn", int32(sess.ID)), zap.Int("count", n))
		}
	}
	if _, ok := deps.Registry.Player(sess.ID); ok {
		if err := deps.Registry.RemovePlayer(sess.ID); err != nil {
			deps.Log.Warn("remove player", zap.Int32("conn", int32(sess.ID)), zap.Error(err))
		}
	}
	if deps.Journal != nil {
		deps.Journal.RecordSession(persist.SessionRecord{
			TraceID:        sess.TraceID,
			ConnID:         int32(sess.ID),
			RemoteAddr:     sess.RemoteAddr,
			ConnectedAt:    sess.ConnectedAt,
			DisconnectedAt: time.Now(),
			Reason:         "closed",
		})
	}
	deps.Log.Info(fmt.Sprintf("session closed  conn=%d  addr=%s  dropped=%d", sess.ID, sess.RemoteAddr, sess.Dropped()))
}

// HandleSync applies a SyncBaseline or SyncDelta on the client.
func HandleSync(_ *net.Session, r *packet.Reader, deps *Deps) {
	if err := deps.Applier.Apply(r); err != nil {
		deps.Log.Warn("sync apply failed", zap.Error(err))
	}
}

// HandleSceneChange reloads the mirrored scene. Ready stays set: the server
// replicates the new scene content to ready players.
func HandleSceneChange(_ *net.Session, r *packet.Reader, deps *Deps) {
	name := r.ReadString()
	if r.Err() != nil {
		return
	}
	deps.Client.Scene = name
	if deps.Scenes != nil {
		deps.Scenes.Load(deps.Ctx, name)
	}
}

// HandleSetObjectOwner mirrors an owner change.
func HandleSetObjectOwner(_ *net.Session, r *packet.Reader, deps *Deps) {
	id := entity.ObjectID(r.ReadUvarint())
	owner := entity.ConnID(r.ReadVarint())
	if r.Err() != nil {
		return
	}
	if err := deps.Registry.SetOwner(id, owner); err != nil {
		// the spawn carrying the new owner may still be queued
		deps.Log.Debug("owner change for unknown object", zap.Uint32("object_id", uint32(id)), zap.Error(err))
	}
}

// BroadcastSceneChange tells every approved peer to load name.
func BroadcastSceneChange(name string, deps *Deps) {
	msg := EncodeSceneChange(name)
	deps.Sessions.ForEach(func(sess *net.Session) {
		switch sess.State() {
		case packet.StateApproved, packet.StateReady:
			sess.Send(packet.Reliable, msg)
		}
	})
}
