package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REPLINET_"

type Config struct {
	Server      ServerConfig      `toml:"server" envPrefix:"SERVER_"`
	Network     NetworkConfig     `toml:"network" envPrefix:"NETWORK_"`
	Replication ReplicationConfig `toml:"replication" envPrefix:"REPLICATION_"`
	Interest    InterestConfig    `toml:"interest" envPrefix:"INTEREST_"`
	Request     RequestConfig     `toml:"request" envPrefix:"REQUEST_"`
	Database    DatabaseConfig    `toml:"database" envPrefix:"DATABASE_"`
	Scripting   ScriptingConfig   `toml:"scripting" envPrefix:"SCRIPTING_"`
	Scene       SceneConfig       `toml:"scene" envPrefix:"SCENE_"`
	Logging     LoggingConfig     `toml:"logging" envPrefix:"LOGGING_"`
}

type ServerConfig struct {
	Name            string `toml:"name" env:"NAME"`
	Mode            string `toml:"mode" env:"MODE"`               // "server", "host" or "client"
	ConnectURL      string `toml:"connect_url" env:"CONNECT_URL"` // client mode
	ProtocolVersion uint32 `toml:"protocol_version" env:"PROTOCOL_VERSION"`
	ApprovalHash    string `toml:"approval_hash" env:"APPROVAL_HASH"` // bcrypt; empty = open server
	ApprovalKey     string `toml:"approval_key" env:"APPROVAL_KEY"`   // presented by clients
	PlayerAsset     uint32 `toml:"player_asset" env:"PLAYER_ASSET"`   // spawned per ready player, 0 = none
	StartTime       int64  `toml:"-" env:"-"`                         // set at boot
}

type NetworkConfig struct {
	BindAddress       string        `toml:"bind_address" env:"BIND_ADDRESS"`
	Path              string        `toml:"path" env:"PATH"`
	TickRate          time.Duration `toml:"tick_rate" env:"TICK_RATE"`
	InQueueSize       int           `toml:"in_queue_size" env:"IN_QUEUE_SIZE"`
	OutQueueSize      int           `toml:"out_queue_size" env:"OUT_QUEUE_SIZE"`
	MaxPacketsPerTick int           `toml:"max_packets_per_tick" env:"MAX_PACKETS_PER_TICK"`
	MaxPacketsPerSec  int           `toml:"max_packets_per_sec" env:"MAX_PACKETS_PER_SEC"`
	WriteTimeout      time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`
	ReadTimeout       time.Duration `toml:"read_timeout" env:"READ_TIMEOUT"`
	MaxMessageSize    int           `toml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	CompressThreshold int           `toml:"compress_threshold" env:"COMPRESS_THRESHOLD"`
	PingInterval      uint32        `toml:"ping_interval" env:"PING_INTERVAL"` // ticks
}

type ChannelConfig struct {
	Name         string `toml:"name"`
	SendInterval uint32 `toml:"send_interval"` // ticks
	ReliableOnly bool   `toml:"reliable_only"`
}

type ReplicationConfig struct {
	BaselineInterval uint32          `toml:"baseline_interval" env:"BASELINE_INTERVAL"` // ticks
	SafeMode         bool            `toml:"safe_mode" env:"SAFE_MODE"`
	Channels         []ChannelConfig `toml:"channels" env:"-"`
}

type InterestConfig struct {
	Mode            string  `toml:"mode" env:"MODE"` // "rebuild" or "proximity"
	DefaultRange    float64 `toml:"default_range" env:"DEFAULT_RANGE"`
	RebuildInterval uint32  `toml:"rebuild_interval" env:"REBUILD_INTERVAL"` // ticks
}

type RequestConfig struct {
	DefaultTimeout time.Duration `toml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	SweepInterval  uint32        `toml:"sweep_interval" env:"SWEEP_INTERVAL"` // ticks
}

type DatabaseConfig struct {
	Driver             string        `toml:"driver" env:"DRIVER"` // "postgres", "sqlite" or "" for none
	DSN                string        `toml:"dsn" env:"DSN"`
	MaxOpenConns       int           `toml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns       int           `toml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime    time.Duration `toml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	CheckpointInterval uint32        `toml:"checkpoint_interval" env:"CHECKPOINT_INTERVAL"` // ticks
}

type ScriptingConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Dir     string `toml:"dir" env:"DIR"`
}

type SceneConfig struct {
	DataDir    string `toml:"data_dir" env:"DATA_DIR"`
	Initial    string `toml:"initial" env:"INITIAL"`
	SpawnBatch int    `toml:"spawn_batch" env:"SPAWN_BATCH"` // scene entities spawned per tick
}

type LoggingConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"` // "json" or "console"
}

// Load reads path over the defaults, then applies REPLINET_* environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// ParseEnv applies environment overrides to target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects settings the runtime cannot work with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Mode {
	case "server", "host":
	case "client":
		if c.Server.ConnectURL == "" {
			errs = append(errs, errors.New("server.connect_url required in client mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("server.mode %q: want server, host or client", c.Server.Mode))
	}
	if c.Network.TickRate <= 0 {
		errs = append(errs, errors.New("network.tick_rate must be positive"))
	}
	if len(c.Replication.Channels) > 256 {
		errs = append(errs, fmt.Errorf("replication.channels: %d exceeds 256", len(c.Replication.Channels)))
	}
	switch c.Interest.Mode {
	case "rebuild", "proximity":
	default:
		errs = append(errs, fmt.Errorf("interest.mode %q: want rebuild or proximity", c.Interest.Mode))
	}
	switch c.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want postgres, sqlite or empty", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// TicksFor converts a wall-clock duration into whole ticks, at least one.
func (c *Config) TicksFor(d time.Duration) uint32 {
	n := uint32(d / c.Network.TickRate)
	if n == 0 {
		return 1
	}
	return n
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:            "replinet",
			Mode:            "server",
			ProtocolVersion: 1,
		},
		Network: NetworkConfig{
			BindAddress:       "0.0.0.0:7777",
			Path:              "/ws",
			TickRate:          50 * time.Millisecond,
			InQueueSize:       128,
			OutQueueSize:      256,
			MaxPacketsPerTick: 32,
			MaxPacketsPerSec:  200,
			WriteTimeout:      10 * time.Second,
			ReadTimeout:       60 * time.Second,
			MaxMessageSize:    1 << 20,
			CompressThreshold: 512,
			PingInterval:      40,
		},
		Replication: ReplicationConfig{
			BaselineInterval: 20,
			SafeMode:         true,
			Channels: []ChannelConfig{
				{Name: "default", SendInterval: 2},
			},
		},
		Interest: InterestConfig{
			Mode:            "rebuild",
			DefaultRange:    50,
			RebuildInterval: 10,
		},
		Request: RequestConfig{
			DefaultTimeout: 2 * time.Second,
			SweepInterval:  1,
		},
		Database: DatabaseConfig{
			MaxOpenConns:       10,
			MaxIdleConns:       2,
			ConnMaxLifetime:    30 * time.Minute,
			CheckpointInterval: 600,
		},
		Scripting: ScriptingConfig{
			Enabled: true,
			Dir:     "scripts",
		},
		Scene: SceneConfig{
			DataDir:    "data",
			Initial:    "lobby",
			SpawnBatch: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
