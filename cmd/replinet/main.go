package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/replinet/server/internal/config"
	"github.com/replinet/server/internal/core/event"
	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/data"
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/handler"
	"github.com/replinet/server/internal/host"
	"github.com/replinet/server/internal/interest"
	gonet "github.com/replinet/server/internal/net"
	"github.com/replinet/server/internal/net/packet"
	"github.com/replinet/server/internal/persist"
	"github.com/replinet/server/internal/prefab"
	"github.com/replinet/server/internal/replication"
	"github.com/replinet/server/internal/request"
	"github.com/replinet/server/internal/rpc"
	"github.com/replinet/server/internal/scene"
	"github.com/replinet/server/internal/scripting"
	"github.com/replinet/server/internal/syncvar"
	"github.com/replinet/server/internal/system"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name, mode string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              replinet  v0.1.0             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mnode:\033[0m %s \033[90m(mode: %s)\033[0m\n\n", name, mode)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main loop ─────────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("REPLINET_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus()
	event.Subscribe(bus, func(ev event.PlayerJoined) {
		log.Info(fmt.Sprintf("player joined  conn=%d", ev.ConnID))
	})
	event.Subscribe(bus, func(ev event.PlayerLeft) {
		log.Info(fmt.Sprintf("player left  conn=%d", ev.ConnID))
	})
	headless := host.NewHeadless()
	reg := entity.NewRegistry(headless, bus, log)
	runner := coresys.NewRunner()
	isClient := cfg.Server.Mode == "client"

	// 3. Persistence (authoritative side only)
	var (
		db      *persist.DB
		objects *persist.ObjectStore
		journal *persist.Journal
	)
	if !isClient && cfg.Database.Driver != "" {
		printSection("database")
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		db, err = persist.Open(openCtx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK(fmt.Sprintf("%s connected", db.Dialect))

		if err := persist.RunMigrations(openCtx, db); err != nil {
			cancel()
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")

		objects = persist.NewObjectStore(db)
		journal = &persist.Journal{}
		highest, err := objects.HighestObjectID(openCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("query highest object id: %w", err)
		}
		reg.IDs().Observe(entity.ObjectID(highest))
		printStat("highest object id", int(highest))
		fmt.Println()
	}

	// 4. Load data tables
	printSection("data")
	assets, err := data.LoadAssetTable(filepath.Join(cfg.Scene.DataDir, "assets.yaml"))
	if err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	printStat("assets", assets.Count())

	scenes, err := data.LoadSceneTable(filepath.Join(cfg.Scene.DataDir, "scenes"))
	if err != nil {
		return fmt.Errorf("load scenes: %w", err)
	}
	if err := scenes.Validate(assets); err != nil {
		return fmt.Errorf("validate scenes: %w", err)
	}
	printStat("scenes", scenes.Count())

	// 5. Scripting
	var luaEngine *scripting.Engine
	var ranger prefab.Ranger
	if cfg.Scripting.Enabled {
		luaEngine, err = scripting.NewEngine(cfg.Scripting.Dir, log)
		if err != nil {
			return fmt.Errorf("lua engine: %w", err)
		}
		defer luaEngine.Close()
		ranger = luaEngine
		printOK("lua scripts loaded")
	}

	builder := prefab.NewBuilder(ranger, log)
	builder.Handle("avatar", "say", func(c rpc.Call) {
		if len(c.Args) == 1 {
			log.Info(fmt.Sprintf("say  conn=%d  object=%d  text=%q", c.Caller, c.Entity.ID, c.Args[0].Str()))
		}
	})
	if err := builder.RegisterAll(reg, assets); err != nil {
		return fmt.Errorf("register prefabs: %w", err)
	}
	printOK("prefabs registered")
	fmt.Println()

	// 6. Shared layers
	codec, err := gonet.NewFrameCodec(cfg.Network.CompressThreshold, cfg.Network.MaxMessageSize)
	if err != nil {
		return fmt.Errorf("frame codec: %w", err)
	}
	defer codec.Close()

	store := gonet.NewSessionStore()
	netOpts := gonet.Options{
		InQueueSize:      cfg.Network.InQueueSize,
		OutQueueSize:     cfg.Network.OutQueueSize,
		MaxPacketsPerSec: cfg.Network.MaxPacketsPerSec,
		ReadTimeout:      cfg.Network.ReadTimeout,
		WriteTimeout:     cfg.Network.WriteTimeout,
		MaxMessageSize:   cfg.Network.MaxMessageSize,
	}
	deps := &handler.Deps{
		Ctx:       ctx,
		Config:    cfg,
		Log:       log,
		Registry:  reg,
		Sessions:  store,
		Clock:     runner.Clock(),
		Requests:  request.New(store, log),
		Scripting: luaEngine,
	}
	pktReg := packet.NewRegistry(log)

	// Shared by both roles; the role-specific systems are added below.
	runner.Register(system.NewTransformSystem(reg))
	runner.Register(system.NewCleanupSystem(headless.World()))

	if isClient {
		return runClient(ctx, cfg, deps, pktReg, runner, bus, scenes, codec, netOpts, log)
	}
	return runServer(ctx, cfg, deps, pktReg, runner, bus, scenes, codec, netOpts, objects, journal, log)
}

func runServer(
	ctx context.Context,
	cfg *config.Config,
	deps *handler.Deps,
	pktReg *packet.Registry,
	runner *coresys.Runner,
	bus *event.Bus,
	scenes *data.SceneTable,
	codec *gonet.FrameCodec,
	netOpts gonet.Options,
	objects *persist.ObjectStore,
	journal *persist.Journal,
	log *zap.Logger,
) error {
	reg := deps.Registry

	// Interest and replication
	policy := &interest.Policy{DefaultRange: float32(cfg.Interest.DefaultRange)}
	if deps.Scripting != nil && deps.Scripting.HasFilter() {
		policy.Filter = deps.Scripting
	}
	var mgr interest.Manager
	switch cfg.Interest.Mode {
	case "proximity":
		mgr = interest.NewProximityManager(reg, policy, cfg.Interest.RebuildInterval, log)
	default:
		mgr = interest.NewRebuildManager(reg, policy, cfg.Interest.RebuildInterval, log)
	}

	channels, err := buildChannels(cfg.Replication.Channels)
	if err != nil {
		return err
	}
	engine := replication.NewEngine(reg, channels, deps.Sessions, replication.Config{
		BaselineInterval: cfg.Replication.BaselineInterval,
		Safe:             cfg.Replication.SafeMode,
	}, log)
	reg.AddHook(handler.NewOwnerNotifier(deps.Sessions, journal, deps.Clock))

	deps.RPC = rpc.NewServer(reg, deps.Sessions, log)
	deps.Interest = mgr
	deps.Journal = journal

	loader := scene.NewLoader(reg, scene.TableSource{Table: scenes}, scene.Options{
		SpawnBatch: cfg.Scene.SpawnBatch,
		OnReady: func(name string) {
			handler.BroadcastSceneChange(name, deps)
			mgr.Rebuild()
		},
	}, log)
	defer loader.Close()
	deps.Scenes = loader
	handler.RegisterServer(pktReg, deps)

	// Network server
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, cfg.Network.Path, codec, netOpts, log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	// The host plays on connection 0 without a socket.
	if cfg.Server.Mode == "host" {
		reg.AddPlayer(0, true)
		if _, err := reg.SetReady(0); err != nil {
			return fmt.Errorf("host player: %w", err)
		}
		if asset := cfg.Server.PlayerAsset; asset != 0 {
			if _, err := reg.Spawn(entity.SpawnParams{AssetID: asset, Owner: 0}); err != nil {
				return fmt.Errorf("spawn host player: %w", err)
			}
		}
	}

	// Systems
	onDisconnect := func(sess *gonet.Session) { handler.Disconnect(sess, deps) }
	runner.Register(system.NewInputSystem(netServer, pktReg, deps.Sessions, cfg.Network.MaxPacketsPerTick, onDisconnect, log))
	runner.Register(system.NewEventSystem(bus))
	runner.Register(system.NewRequestSweepSystem(deps.Requests, cfg.Request.SweepInterval, log))
	runner.Register(system.NewSceneSystem(loader))
	runner.Register(system.NewPingSystem(deps.Sessions, cfg.Network.PingInterval))
	runner.Register(system.NewInterestSystem(mgr, deps.Clock))
	runner.Register(system.NewReplicationSystem(engine, deps.Clock))
	runner.Register(system.NewOutputSystem(deps.Sessions))
	var persistSys *system.PersistenceSystem
	if objects != nil {
		persistSys = system.NewPersistenceSystem(reg.IDs(), objects, journal, log, cfg.Database.CheckpointInterval)
		runner.Register(persistSys)
	}

	if cfg.Scene.Initial != "" {
		loader.Load(ctx, cfg.Scene.Initial)
	}

	printSection("ready")
	printReady(fmt.Sprintf("listening on %s%s", netServer.Addr().String(), cfg.Network.Path))
	printReady(fmt.Sprintf("tick loop started (tick: %s)", cfg.Network.TickRate))
	fmt.Println()

	loop(ctx, runner, cfg.Network.TickRate)

	log.Info("shutting down")
	bye := handler.EncodeDisconnect("server shutting down")
	deps.Sessions.ForEach(func(sess *gonet.Session) {
		sess.Send(packet.Reliable, bye)
		sess.FlushOutput()
		sess.CloseAfter(time.Second)
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := netServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("net server shutdown", zap.Error(err))
	}
	deps.Sessions.ForEach(func(sess *gonet.Session) { handler.Disconnect(sess, deps) })
	if persistSys != nil {
		if err := persistSys.Flush(); err != nil {
			log.Error("final checkpoint failed", zap.Error(err))
		}
	}
	log.Info("server stopped")
	return nil
}

func runClient(
	ctx context.Context,
	cfg *config.Config,
	deps *handler.Deps,
	pktReg *packet.Registry,
	runner *coresys.Runner,
	bus *event.Bus,
	scenes *data.SceneTable,
	codec *gonet.FrameCodec,
	netOpts gonet.Options,
	log *zap.Logger,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := deps.Registry
	deps.RPC = rpc.NewClient(reg, deps.Sessions, log)
	deps.Applier = replication.NewApplier(reg, cfg.Replication.SafeMode, log)
	deps.Client = &handler.ClientState{}

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	link, err := gonet.Dial(dialCtx, cfg.Server.ConnectURL, codec, netOpts, log)
	dialCancel()
	if err != nil {
		return err
	}
	deps.Sessions.Add(link)

	loader := scene.NewLoader(reg, scene.TableSource{Table: scenes}, scene.Options{
		SpawnBatch: cfg.Scene.SpawnBatch,
		Mirror:     true,
		OnReady:    func(string) { handler.SendReady(link, deps) },
	}, log)
	defer loader.Close()
	deps.Scenes = loader
	handler.RegisterClient(pktReg, deps)

	onDisconnect := func(sess *gonet.Session) {
		handler.Disconnect(sess, deps)
		cancel()
	}
	runner.Register(system.NewInputSystem(nil, pktReg, deps.Sessions, cfg.Network.MaxPacketsPerTick, onDisconnect, log))
	runner.Register(system.NewEventSystem(bus))
	runner.Register(system.NewRequestSweepSystem(deps.Requests, cfg.Request.SweepInterval, log))
	runner.Register(system.NewSceneSystem(loader))
	runner.Register(system.NewPingSystem(deps.Sessions, cfg.Network.PingInterval))
	runner.Register(system.NewOutputSystem(deps.Sessions))

	link.Send(packet.Reliable, handler.EncodeHello(cfg.Server.ProtocolVersion, cfg.Server.ApprovalKey, nil))
	link.FlushOutput()

	printSection("ready")
	printReady(fmt.Sprintf("connected to %s", cfg.Server.ConnectURL))
	fmt.Println()

	loop(ctx, runner, cfg.Network.TickRate)

	if !link.IsClosed() {
		link.Send(packet.Reliable, handler.EncodeDisconnect("client closing"))
		link.FlushOutput()
		link.CloseAfter(time.Second)
	}
	if msg := deps.Client.LastError; msg != "" {
		return fmt.Errorf("server: %s", msg)
	}
	log.Info("client stopped")
	return nil
}

func loop(ctx context.Context, runner *coresys.Runner, rate time.Duration) {
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runner.Tick(rate)
		case <-ctx.Done():
			return
		}
	}
}

func buildChannels(defs []config.ChannelConfig) (*syncvar.Channels, error) {
	chans := make([]syncvar.Channel, 0, len(defs))
	for _, d := range defs {
		chans = append(chans, syncvar.Channel{
			Name:         d.Name,
			SendInterval: d.SendInterval,
			ReliableOnly: d.ReliableOnly,
		})
	}
	c, err := syncvar.NewChannels(chans...)
	if err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}
	return c, nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
