package handler

import (
	"fmt"
	"time"

	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net"
	"github.com/replinet/server/internal/net/packet"
	"github.com/replinet/server/internal/scripting"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ClientState is what a remote client knows about its server link.
type ClientState struct {
	ConnID    entity.ConnID
	Approved  bool
	Ready     bool
	Scene     string
	RTT       time.Duration
	LastError string
}

// HandleHello approves or rejects a connecting peer. Approval checks the
// protocol version, the bcrypt approval key and the optional script hook.
func HandleHello(sess *net.Session, r *packet.Reader, deps *Deps) {
	version := uint32(r.ReadUvarint())
	key := r.ReadString()
	payload := r.ReadBlob()
	if err := r.Err(); err != nil {
		deps.Log.Debug("malformed hello", zap.Int32("conn", int32(sess.ID)), zap.Error(err))
		reject(sess, ErrorRejected, "malformed hello", deps)
		return
	}

	cfg := deps.Config.Server
	if version != cfg.ProtocolVersion {
		reject(sess, ErrorVersion, fmt.Sprintf("protocol %d, server speaks %d", version, cfg.ProtocolVersion), deps)
		return
	}
	if cfg.ApprovalHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(cfg.ApprovalHash), []byte(key)); err != nil {
			reject(sess, ErrorRejected, "approval key rejected", deps)
			return
		}
	}
	if deps.Scripting != nil {
		ok, reason := deps.Scripting.ApproveConnection(scripting.ApproveContext{
			ConnID:     int32(sess.ID),
			RemoteAddr: sess.RemoteAddr,
			Version:    version,
			Payload:    payload,
		})
		if !ok {
			if reason == "" {
				reason = "rejected by policy"
			}
			reject(sess, ErrorRejected, reason, deps)
			return
		}
	}

	deps.Registry.AddPlayer(sess.ID, false)
	sess.SetState(packet.StateApproved)
	sceneName := ""
	if deps.Scenes != nil {
		sceneName = deps.Scenes.Name()
	}
	sess.Send(packet.Reliable, EncodeApprove(sess.ID, deps.tick(), sceneName))
	deps.Log.Info(fmt.Sprintf("connection approved  conn=%d  addr=%s", sess.ID, sess.RemoteAddr))
}

func reject(sess *net.Session, code ErrorCode, msg string, deps *Deps) {
	deps.Log.Info(fmt.Sprintf("connection rejected  conn=%d  addr=%s  reason=%s", sess.ID, sess.RemoteAddr, msg))
	sess.Send(packet.Reliable, EncodeServerError(code, msg))
	sess.SetState(packet.StateDisconnecting)
	sess.FlushOutput()
	sess.CloseAfter(time.Second)
}

// HandleReady starts replication to the peer: it spawns the configured player
// asset owned by the connection and computes its first interest set.
func HandleReady(sess *net.Session, _ *packet.Reader, deps *Deps) {
	p, err := deps.Registry.SetReady(sess.ID)
	if err != nil {
		deps.Log.Warn("ready from unknown player", zap.Int32("conn", int32(sess.ID)), zap.Error(err))
		return
	}
	sess.SetState(packet.StateReady)

	if asset := deps.Config.Server.PlayerAsset; asset != 0 {
		if _, err := deps.Registry.Spawn(entity.SpawnParams{AssetID: asset, Owner: sess.ID}); err != nil {
			deps.Log.Error("spawn player object", zap.Int32("conn", int32(sess.ID)), zap.Error(err))
		}
	}
	if deps.Interest != nil {
		deps.Interest.RebuildPlayer(p)
	}
	deps.Log.Debug("player ready", zap.Int32("conn", int32(sess.ID)), zap.Int("subscribings", p.SubscribingCount()))
}

// HandleApprove records the connection id the server assigned and starts
// mirroring its scene. Ready is sent once the scene is loaded.
func HandleApprove(sess *net.Session, r *packet.Reader, deps *Deps) {
	conn := entity.ConnID(r.ReadVarint())
	serverTick := uint32(r.ReadUvarint())
	sceneName := r.ReadString()
	if err := r.Err(); err != nil {
		deps.Log.Warn("malformed approve", zap.Error(err))
		return
	}

	st := deps.Client
	st.ConnID = conn
	st.Approved = true
	st.Scene = sceneName
	sess.SetState(packet.StateApproved)
	deps.Log.Info(fmt.Sprintf("approved by server  conn=%d  tick=%d  scene=%q", conn, serverTick, sceneName))

	if sceneName == "" || deps.Scenes == nil {
		SendReady(sess, deps)
		return
	}
	deps.Scenes.Load(deps.Ctx, sceneName)
}

// SendReady tells the server the client can receive replication. Called
// after approval once the scene finished loading; repeated calls are no-ops.
func SendReady(sess *net.Session, deps *Deps) {
	st := deps.Client
	if !st.Approved || st.Ready {
		return
	}
	st.Ready = true
	sess.Send(packet.Reliable, EncodeReady())
	sess.SetState(packet.StateReady)
}

// HandleServerError records the error; rejections close the link.
func HandleServerError(sess *net.Session, r *packet.Reader, deps *Deps) {
	code := ErrorCode(r.ReadUint8())
	msg := r.ReadString()
	deps.Client.LastError = msg
	deps.Log.Warn("server error", zap.Uint8("code", uint8(code)), zap.String("message", msg))
	if code == ErrorVersion || code == ErrorRejected {
		sess.Close()
	}
}
