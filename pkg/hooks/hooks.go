package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
)

// Hook function names the consolidation worker invokes when defined.
const (
	// BeforeConsolidation receives the extracted facts as a table of strings
	// and may return a filtered table; returning nothing keeps all facts.
	BeforeConsolidation = "before_consolidation"
)

// Engine runs user-supplied Lua hooks at fixed points in the consolidation
// pipeline. Scripts define plain global functions; undefined hooks are
// no-ops. The engine serializes calls, since a single Lua state is not safe
// for concurrent use.
type Engine struct {
	mu    sync.Mutex
	state *lua.LState
}

// NewEngine creates a hook engine with a sandboxed Lua state: the io, os,
// package, and load facilities are removed so hooks stay pure filters.
func NewEngine() *Engine {
	state := lua.NewState()
	sandbox(state)
	return &Engine{state: state}
}

func sandbox(L *lua.LState) {
	for _, global := range []string{"io", "os", "package", "require", "dofile", "loadfile", "load"} {
		L.SetGlobal(global, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.Debug("Lua hook output", "message", strings.Join(parts, "\t"))
		return 0
	}))
}

// LoadScript loads Lua source under the given name.
func (e *Engine) LoadScript(name string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.state.DoString(string(content)); err != nil {
		return errors.Wrap(errors.ErrConfiguration, "failed to load hook script %s", name)
	}
	log.Debug("Loaded hook script", "name", name)
	return nil
}

// LoadScriptDir loads every .lua file in the directory.
func (e *Engine) LoadScriptDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(errors.ErrConfiguration, "failed to read hook directory %s", dir)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(errors.ErrConfiguration, "failed to read hook script %s", path)
		}
		if err := e.LoadScript(entry.Name(), content); err != nil {
			return err
		}
	}
	return nil
}

// FilterStrings calls the named hook with the values as a Lua table. If the
// hook is undefined or returns nil, the input passes through unchanged; a
// returned table replaces it.
func (e *Engine) FilterStrings(ctx context.Context, hookName string, values []string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.state.GetGlobal(hookName)
	if fn == lua.LNil {
		return values, nil
	}

	table := e.state.NewTable()
	for _, v := range values {
		table.Append(lua.LString(v))
	}

	err := e.state.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, table)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "hook %s failed", hookName)
	}

	ret := e.state.Get(-1)
	e.state.Pop(1)

	result, ok := ret.(*lua.LTable)
	if !ok {
		return values, nil
	}

	var filtered []string
	result.ForEach(func(_, value lua.LValue) {
		if s, ok := value.(lua.LString); ok {
			filtered = append(filtered, string(s))
		}
	})

	log.DebugContext(ctx, "Hook filtered values",
		"hook", hookName,
		"in", len(values),
		"out", len(filtered))
	return filtered, nil
}

// Close releases the Lua state.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Close()
}
