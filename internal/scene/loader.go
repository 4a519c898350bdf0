// Package scene loads placed scene content into the entity registry one tick
// at a time.
package scene

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/replinet/server/internal/data"
	"github.com/replinet/server/internal/entity"
	"go.uber.org/zap"
)

// State is the loader phase.
type State uint8

const (
	StateIdle State = iota
	StateDownloading
	StateLoading
	StateSpawningScene
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StateLoading:
		return "loading"
	case StateSpawningScene:
		return "spawning_scene"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", byte(s))
	}
}

var (
	ErrUnknownScene = errors.New("unknown scene")
	ErrIDConflict   = errors.New("scene id overlaps allocated ids")
)

// Source fetches a scene description. Fetch runs off the tick goroutine and
// must honor ctx.
type Source interface {
	Fetch(ctx context.Context, name string) (*data.Scene, error)
}

// DirSource reads <Dir>/<name>.yaml.
type DirSource struct {
	Dir string
}

func (s DirSource) Fetch(ctx context.Context, name string) (*data.Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sc, err := data.LoadScene(filepath.Join(s.Dir, name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnknownScene, name, err)
	}
	return sc, ctx.Err()
}

// TableSource serves scenes already held in memory.
type TableSource struct {
	Table *data.SceneTable
}

func (s TableSource) Fetch(ctx context.Context, name string) (*data.Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sc := s.Table.Get(name)
	if sc == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownScene, name)
	}
	return sc, nil
}

type fetchResult struct {
	scene *data.Scene
	err   error
}

// Options configures a Loader.
type Options struct {
	SpawnBatch int
	// Mirror skips spawning: a client receives scene entities through
	// replication and only needs the scene cleared and the ids reserved.
	Mirror  bool
	OnReady func(name string)
}

// Loader drives Idle -> Downloading -> Loading -> SpawningScene -> Ready.
// Load and Tick are called from the tick goroutine only.
type Loader struct {
	reg  *entity.Registry
	src  Source
	opts Options
	log  *zap.Logger

	state   State
	name    string
	cancel  context.CancelFunc
	result  chan fetchResult
	scene   *data.Scene
	next    int
	spawned int
	err     error
}

func NewLoader(reg *entity.Registry, src Source, opts Options, log *zap.Logger) *Loader {
	if opts.SpawnBatch <= 0 {
		opts.SpawnBatch = 64
	}
	return &Loader{reg: reg, src: src, opts: opts, log: log}
}

// Load starts loading name. A load already in flight is cancelled and its
// result discarded. The current scene content is cleared.
func (l *Loader) Load(ctx context.Context, name string) {
	if l.cancel != nil {
		l.cancel()
		l.log.Info(fmt.Sprintf("scene load %s superseded by %s", l.name, name))
	}
	l.reg.ClearScene(entity.ReasonSceneChange)

	fctx, cancel := context.WithCancel(ctx)
	result := make(chan fetchResult, 1)
	l.cancel = cancel
	l.result = result
	l.name = name
	l.scene = nil
	l.next = 0
	l.spawned = 0
	l.err = nil
	l.state = StateDownloading

	go func() {
		sc, err := l.src.Fetch(fctx, name)
		result <- fetchResult{scene: sc, err: err}
	}()
}

// Tick advances the state machine by at most one phase.
func (l *Loader) Tick() {
	switch l.state {
	case StateDownloading:
		select {
		case res := <-l.result:
			if res.err != nil {
				l.fail(res.err)
				return
			}
			l.scene = res.scene
			l.state = StateLoading
		default:
		}

	case StateLoading:
		for _, p := range l.scene.Entities {
			if _, ok := l.reg.Prefab(p.Asset); !ok && !l.opts.Mirror {
				l.fail(fmt.Errorf("scene %s: entity %d: %w: asset %d", l.name, p.ID, entity.ErrUnknownEntityType, p.Asset))
				return
			}
			if !l.opts.Mirror && l.reg.IDs().Issued(entity.ObjectID(p.ID)) {
				l.fail(fmt.Errorf("scene %s: entity %d: %w", l.name, p.ID, ErrIDConflict))
				return
			}
		}
		// reserve scene ids before anything else allocates
		l.reg.IDs().Observe(entity.ObjectID(l.scene.HighestID()))
		l.state = StateSpawningScene

	case StateSpawningScene:
		if !l.opts.Mirror {
			end := min(l.next+l.opts.SpawnBatch, len(l.scene.Entities))
			for ; l.next < end; l.next++ {
				l.spawn(l.scene.Entities[l.next])
			}
			if l.next < len(l.scene.Entities) {
				return
			}
		}
		l.finish()
	}
}

func (l *Loader) spawn(p data.Placement) {
	e, err := l.reg.Spawn(entity.SpawnParams{
		AssetID:  p.Asset,
		ID:       entity.ObjectID(p.ID),
		Owner:    entity.ServerConn,
		IsScene:  true,
		Position: entity.Vec3{X: p.Position[0], Y: p.Position[1], Z: p.Position[2]},
		Rotation: entity.Vec3{X: p.Rotation[0], Y: p.Rotation[1], Z: p.Rotation[2]},
	})
	if err != nil {
		l.log.Warn("scene spawn failed", zap.String("scene", l.name), zap.Uint32("id", p.ID), zap.Error(err))
		return
	}
	if p.Hidden {
		e.Hide()
	}
	l.spawned++
}

func (l *Loader) finish() {
	l.cancel()
	l.cancel = nil
	l.state = StateReady
	l.log.Info(fmt.Sprintf("scene %s ready (%d entities)", l.name, l.spawned))
	if l.opts.OnReady != nil {
		l.opts.OnReady(l.name)
	}
}

func (l *Loader) fail(err error) {
	l.cancel()
	l.cancel = nil
	l.err = err
	l.state = StateIdle
	l.log.Error("scene load failed", zap.String("scene", l.name), zap.Error(err))
}

// State returns the current phase.
func (l *Loader) State() State { return l.state }

// Name returns the scene being loaded or last loaded.
func (l *Loader) Name() string { return l.name }

// Err returns why the last load failed.
func (l *Loader) Err() error { return l.err }

// Ready reports whether the named scene finished loading.
func (l *Loader) Ready() bool { return l.state == StateReady }

// Close cancels any load in flight.
func (l *Loader) Close() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}
