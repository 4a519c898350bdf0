package data

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ElementDef declares one sync element of an asset. Kind is one of bool,
// int32, int64, uint32, float32, string, vec3, or list:<kind> for lists.
type ElementDef struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Channel uint8  `yaml:"channel"`
}

// FunctionDef declares one remotely callable function. Params use value
// kind names (bool, int, uint, float32, float64, string, bytes, or []kind).
type FunctionDef struct {
	Name      string   `yaml:"name"`
	Params    []string `yaml:"params"`
	AnyCaller bool     `yaml:"any_caller"`
}

// Asset describes a spawnable entity type. Members are laid out elements
// first, then functions, in file order.
type Asset struct {
	ID            uint32        `yaml:"id"`
	Name          string        `yaml:"name"`
	VisibleRange  float32       `yaml:"visible_range"` // 0 = manager default
	AlwaysVisible bool          `yaml:"always_visible"`
	Elements      []ElementDef  `yaml:"elements"`
	Functions     []FunctionDef `yaml:"functions"`
}

// MemberCount returns the size of the member table the asset builds.
func (a *Asset) MemberCount() int {
	return len(a.Elements) + len(a.Functions)
}

// AssetTable indexes assets by id and by name.
type AssetTable struct {
	byID   map[uint32]*Asset
	byName map[string]*Asset
}

// Get returns an asset by id, or nil if not found.
func (t *AssetTable) Get(id uint32) *Asset {
	return t.byID[id]
}

// ByName returns an asset by name, or nil if not found.
func (t *AssetTable) ByName(name string) *Asset {
	return t.byName[name]
}

// All returns every asset ordered by id.
func (t *AssetTable) All() []*Asset {
	out := make([]*Asset, 0, len(t.byID))
	for _, a := range t.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of assets loaded.
func (t *AssetTable) Count() int {
	return len(t.byID)
}

// --- YAML loading ---

type assetFile struct {
	Assets []Asset `yaml:"assets"`
}

// LoadAssetTable loads asset descriptors from YAML.
func LoadAssetTable(path string) (*AssetTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("asset: read %s: %w", path, err)
	}
	return parseAssets(raw, path)
}

func parseAssets(raw []byte, path string) (*AssetTable, error) {
	var f assetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("asset: parse %s: %w", path, err)
	}

	t := &AssetTable{
		byID:   make(map[uint32]*Asset, len(f.Assets)),
		byName: make(map[string]*Asset, len(f.Assets)),
	}
	for i := range f.Assets {
		a := &f.Assets[i]
		if a.ID == 0 {
			return nil, fmt.Errorf("asset: %s: %q has no id", path, a.Name)
		}
		if _, dup := t.byID[a.ID]; dup {
			return nil, fmt.Errorf("asset: %s: duplicate id %d", path, a.ID)
		}
		if a.MemberCount() > 255 {
			return nil, fmt.Errorf("asset: %s: %q declares %d members", path, a.Name, a.MemberCount())
		}
		t.byID[a.ID] = a
		if a.Name != "" {
			t.byName[a.Name] = a
		}
	}
	return t, nil
}
