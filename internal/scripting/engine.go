package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/replinet/server/internal/interest"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Hook names looked up after loading.
const (
	fnShouldSubscribe = "should_subscribe"
	fnVisibleRange    = "visible_range"
	fnApprove         = "approve_connection"
)

// Engine wraps a single gopher-lua VM for policy hooks.
// Single-goroutine access only (tick loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger

	hasFilter  bool
	hasRange   bool
	hasApprove bool
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	// core first: shared helpers used by the policy scripts
	for _, sub := range []string{"core", "interest", "connection"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	e.resolve()
	return e, nil
}

// NewEngineFromString loads a single chunk. Used by tests and embedded setups.
func NewEngineFromString(src string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	if err := vm.DoString(src); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load chunk: %w", err)
	}
	e := &Engine{vm: vm, log: log}
	e.resolve()
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

func (e *Engine) resolve() {
	e.hasFilter = e.vm.GetGlobal(fnShouldSubscribe).Type() == lua.LTFunction
	e.hasRange = e.vm.GetGlobal(fnVisibleRange).Type() == lua.LTFunction
	e.hasApprove = e.vm.GetGlobal(fnApprove).Type() == lua.LTFunction
}

// HasFilter reports whether should_subscribe is defined.
func (e *Engine) HasFilter() bool { return e.hasFilter }

// ShouldSubscribe calls should_subscribe(ctx). A nil return, a missing
// function or a script error keeps the built-in decision.
func (e *Engine) ShouldSubscribe(ctx interest.FilterContext) (bool, bool) {
	if !e.hasFilter {
		return false, false
	}
	t := e.vm.NewTable()
	t.RawSetString("observer", lua.LNumber(ctx.Observer))
	t.RawSetString("target", lua.LNumber(ctx.TargetID))
	t.RawSetString("asset", lua.LNumber(ctx.TargetAsset))
	t.RawSetString("owner", lua.LNumber(ctx.TargetOwner))
	t.RawSetString("distance", lua.LNumber(ctx.Distance))
	t.RawSetString("decision", lua.LBool(ctx.Decision))

	ret, ok := e.call(fnShouldSubscribe, t)
	if !ok || ret == lua.LNil {
		return false, false
	}
	return lua.LVAsBool(ret), true
}

// VisibleRange calls visible_range(asset, name). ok is false when the script
// has no opinion.
func (e *Engine) VisibleRange(assetID uint32, name string) (float32, bool) {
	if !e.hasRange {
		return 0, false
	}
	ret, ok := e.call(fnVisibleRange, lua.LNumber(assetID), lua.LString(name))
	if !ok {
		return 0, false
	}
	n, isNum := ret.(lua.LNumber)
	if !isNum || n < 0 {
		return 0, false
	}
	return float32(n), true
}

// ApproveContext is passed to approve_connection.
type ApproveContext struct {
	ConnID     int32
	RemoteAddr string
	Version    uint32
	Payload    []byte
}

// ApproveConnection calls approve_connection(ctx). Without the function every
// connection passes; a script error rejects.
func (e *Engine) ApproveConnection(ctx ApproveContext) (bool, string) {
	if !e.hasApprove {
		return true, ""
	}
	t := e.vm.NewTable()
	t.RawSetString("conn", lua.LNumber(ctx.ConnID))
	t.RawSetString("remote", lua.LString(ctx.RemoteAddr))
	t.RawSetString("version", lua.LNumber(ctx.Version))
	t.RawSetString("payload", lua.LString(ctx.Payload))

	if err := e.vm.CallByParam(lua.P{
		Fn:      e.vm.GetGlobal(fnApprove),
		NRet:    2,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua approve_connection error", zap.Error(err))
		return false, "script error"
	}
	reason := e.vm.Get(-1)
	ok := e.vm.Get(-2)
	e.vm.Pop(2)
	msg := ""
	if s, isStr := reason.(lua.LString); isStr {
		msg = string(s)
	}
	return lua.LVAsBool(ok), msg
}

// call invokes a global with one return value.
func (e *Engine) call(name string, args ...lua.LValue) (lua.LValue, bool) {
	if err := e.vm.CallByParam(lua.P{
		Fn:      e.vm.GetGlobal(name),
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		e.log.Error("lua call error", zap.String("fn", name), zap.Error(err))
		return lua.LNil, false
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	return ret, true
}

// Close releases the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}

var _ interest.Filter = (*Engine)(nil)
