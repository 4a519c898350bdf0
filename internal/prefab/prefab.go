// Package prefab turns data-driven asset descriptors into entity prefabs.
package prefab

import (
	"errors"
	"fmt"
	"strings"

	"github.com/replinet/server/internal/data"
	"github.com/replinet/server/internal/entity"
	"github.com/replinet/server/internal/net/packet"
	"github.com/replinet/server/internal/rpc"
	"github.com/replinet/server/internal/syncvar"
	"go.uber.org/zap"
)

var ErrUnknownKind = errors.New("unknown kind")

// Ranger overrides an asset's visible range. scripting.Engine implements it.
type Ranger interface {
	VisibleRange(assetID uint32, name string) (float32, bool)
}

// Builder builds prefabs and attaches function hooks registered by name.
type Builder struct {
	hooks  map[string]func(rpc.Call)
	ranger Ranger
	log    *zap.Logger
}

func NewBuilder(ranger Ranger, log *zap.Logger) *Builder {
	return &Builder{hooks: make(map[string]func(rpc.Call)), ranger: ranger, log: log}
}

// Handle attaches hook to function fn of the named asset. Must be called
// before the asset is registered.
func (b *Builder) Handle(asset, fn string, hook func(rpc.Call)) {
	b.hooks[asset+"."+fn] = hook
}

// RegisterAll registers a prefab for every asset.
func (b *Builder) RegisterAll(reg *entity.Registry, assets *data.AssetTable) error {
	for _, a := range assets.All() {
		p, err := b.Prefab(a)
		if err != nil {
			return err
		}
		if err := reg.RegisterPrefab(p); err != nil {
			return err
		}
	}
	b.log.Info(fmt.Sprintf("registered %d prefabs", assets.Count()))
	return nil
}

// Prefab validates a and returns its prefab. Kinds are checked here so Build
// cannot fail on bad data at spawn time.
func (b *Builder) Prefab(a *data.Asset) (entity.Prefab, error) {
	for _, el := range a.Elements {
		if _, err := newElement(el); err != nil {
			return entity.Prefab{}, fmt.Errorf("asset %s element %s: %w", a.Name, el.Name, err)
		}
	}
	params := make([][]packet.Param, len(a.Functions))
	for i, fn := range a.Functions {
		ps, err := ParseParams(fn.Params)
		if err != nil {
			return entity.Prefab{}, fmt.Errorf("asset %s function %s: %w", a.Name, fn.Name, err)
		}
		params[i] = ps
	}

	vr := a.VisibleRange
	if b.ranger != nil {
		if r, ok := b.ranger.VisibleRange(a.ID, a.Name); ok {
			vr = r
		}
	}

	asset := a
	return entity.Prefab{
		AssetID:       a.ID,
		Name:          a.Name,
		VisibleRange:  vr,
		AlwaysVisible: a.AlwaysVisible,
		Build: func(e *entity.Entity) error {
			for _, el := range asset.Elements {
				m, err := newElement(el)
				if err != nil {
					return err
				}
				if _, err := e.AddMember(m); err != nil {
					return err
				}
			}
			for i, def := range asset.Functions {
				fn := rpc.NewFunction(def.Name, params[i], b.hooks[asset.Name+"."+def.Name])
				fn.AnyCaller = def.AnyCaller
				if _, err := e.AddMember(fn); err != nil {
					return err
				}
			}
			return nil
		},
	}, nil
}

// MemberIndex returns the member id of the named element or function.
func MemberIndex(a *data.Asset, name string) (uint8, bool) {
	for i, el := range a.Elements {
		if el.Name == name {
			return uint8(i), true
		}
	}
	for i, fn := range a.Functions {
		if fn.Name == name {
			return uint8(len(a.Elements) + i), true
		}
	}
	return 0, false
}

func newElement(def data.ElementDef) (entity.Member, error) {
	kind, isList := strings.CutPrefix(def.Kind, "list:")
	ch := def.Channel
	switch kind {
	case "bool":
		if isList {
			return syncvar.NewList(syncvar.BoolCodec, ch), nil
		}
		return syncvar.NewVar(syncvar.BoolCodec, ch, false), nil
	case "int32":
		if isList {
			return syncvar.NewList(syncvar.Int32Codec, ch), nil
		}
		return syncvar.NewVar(syncvar.Int32Codec, ch, 0), nil
	case "int64":
		if isList {
			return syncvar.NewList(syncvar.Int64Codec, ch), nil
		}
		return syncvar.NewVar(syncvar.Int64Codec, ch, 0), nil
	case "uint32":
		if isList {
			return syncvar.NewList(syncvar.Uint32Codec, ch), nil
		}
		return syncvar.NewVar(syncvar.Uint32Codec, ch, 0), nil
	case "float32":
		if isList {
			return syncvar.NewList(syncvar.Float32Codec, ch), nil
		}
		return syncvar.NewVar(syncvar.Float32Codec, ch, 0), nil
	case "string":
		if isList {
			return syncvar.NewList(syncvar.StringCodec, ch), nil
		}
		return syncvar.NewVar(syncvar.StringCodec, ch, ""), nil
	case "vec3":
		if isList {
			return syncvar.NewList(syncvar.Vec3Codec, ch), nil
		}
		return syncvar.NewVar(syncvar.Vec3Codec, ch, entity.Vec3{}), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownKind, def.Kind)
}

// ParseParams converts value kind names into declared params.
func ParseParams(names []string) ([]packet.Param, error) {
	out := make([]packet.Param, 0, len(names))
	for _, n := range names {
		k, err := parseKind(n)
		if err != nil {
			return nil, err
		}
		out = append(out, packet.Param{Kind: k})
	}
	return out, nil
}

func parseKind(name string) (packet.Kind, error) {
	if elem, ok := strings.CutPrefix(name, "[]"); ok {
		k, err := parseKind(elem)
		if err != nil {
			return 0, err
		}
		if k.IsArray() {
			return 0, fmt.Errorf("%w %q: nested arrays", ErrUnknownKind, name)
		}
		return packet.ArrayOf(k), nil
	}
	switch name {
	case "bool":
		return packet.KindBool, nil
	case "int":
		return packet.KindInt, nil
	case "uint":
		return packet.KindUint, nil
	case "float32":
		return packet.KindFloat32, nil
	case "float64":
		return packet.KindFloat64, nil
	case "string":
		return packet.KindString, nil
	case "bytes":
		return packet.KindBytes, nil
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownKind, name)
}
