package system

import (
	"time"

	coresys "github.com/replinet/server/internal/core/system"
	"github.com/replinet/server/internal/scene"
)

// SceneSystem advances the scene loader. Phase 2 (Update).
type SceneSystem struct {
	loader *scene.Loader
}

func NewSceneSystem(loader *scene.Loader) *SceneSystem {
	return &SceneSystem{loader: loader}
}

func (s *SceneSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *SceneSystem) Update(_ time.Duration) {
	s.loader.Tick()
}
