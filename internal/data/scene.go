package data

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placement is one entity placed in a scene. IDs are reserved: scene objects
// keep them across loads and peers.
type Placement struct {
	ID       uint32     `yaml:"id"`
	Asset    uint32     `yaml:"asset"`
	Position [3]float32 `yaml:"position"`
	Rotation [3]float32 `yaml:"rotation"`
	Hidden   bool       `yaml:"hidden"`
}

// Scene is a named set of placed entities.
type Scene struct {
	Name     string      `yaml:"name"`
	Entities []Placement `yaml:"entities"`
}

// HighestID returns the largest reserved id in the scene.
func (s *Scene) HighestID() uint32 {
	var max uint32
	for _, p := range s.Entities {
		if p.ID > max {
			max = p.ID
		}
	}
	return max
}

// SceneTable holds every scene found in a directory.
type SceneTable struct {
	scenes map[string]*Scene
}

// Get returns a scene by name, or nil if not found.
func (t *SceneTable) Get(name string) *Scene {
	return t.scenes[name]
}

// Names returns the loaded scene names, sorted.
func (t *SceneTable) Names() []string {
	out := make([]string, 0, len(t.scenes))
	for n := range t.scenes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of scenes loaded.
func (t *SceneTable) Count() int {
	return len(t.scenes)
}

// LoadScene loads a single scene file. A missing name defaults to the file
// name without extension.
func LoadScene(path string) (*Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scene: read %s: %w", path, err)
	}
	var s Scene
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("scene: parse %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	seen := make(map[uint32]bool, len(s.Entities))
	for _, p := range s.Entities {
		if p.ID == 0 || p.Asset == 0 {
			return nil, fmt.Errorf("scene: %s: placement needs id and asset (id=%d asset=%d)", path, p.ID, p.Asset)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("scene: %s: duplicate id %d", path, p.ID)
		}
		seen[p.ID] = true
	}
	return &s, nil
}

// LoadSceneTable loads every *.yaml file in dir.
func LoadSceneTable(dir string) (*SceneTable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scene: read dir %s: %w", dir, err)
	}
	t := &SceneTable{scenes: make(map[string]*Scene)}
	for _, e := range entries {
		if e.IsDir() || (filepath.Ext(e.Name()) != ".yaml" && filepath.Ext(e.Name()) != ".yml") {
			continue
		}
		s, err := LoadScene(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := t.scenes[s.Name]; dup {
			return nil, fmt.Errorf("scene: duplicate scene name %q in %s", s.Name, dir)
		}
		t.scenes[s.Name] = s
	}
	return t, nil
}

// Validate checks that every placement references a known asset.
func (t *SceneTable) Validate(assets *AssetTable) error {
	for _, name := range t.Names() {
		for _, p := range t.scenes[name].Entities {
			if assets.Get(p.Asset) == nil {
				return fmt.Errorf("scene %s: entity %d uses unknown asset %d", name, p.ID, p.Asset)
			}
		}
	}
	return nil
}
