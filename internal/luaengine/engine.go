// Package luaengine evaluates operator-supplied Lua claims policies in a
// sandboxed interpreter.
package luaengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrLuaTimeout is returned when Lua script exceeds execution time limit.
	ErrLuaTimeout = errors.New("lua script exceeded execution time limit")
	// ErrLuaPanic is returned when the interpreter panics during evaluation.
	ErrLuaPanic = errors.New("lua policy panicked")
	// ErrRejected wraps every deliberate rejection raised by a script.
	ErrRejected = errors.New("lua policy rejected request")
)

// DefaultTimeout is the default execution time limit per Lua evaluation.
const DefaultTimeout = 50 * time.Millisecond

// Input is what a policy sees: the verified claims plus the identity
// already extracted from them.
type Input struct {
	Claims      map[string]any
	UserID      string
	TenantID    string
	Roles       []string
	Permissions []string
}

// CompiledPolicy holds a pre-compiled Lua script. The compiled prototype is
// immutable and shared; every evaluation runs in its own interpreter state,
// so a CompiledPolicy is safe for concurrent use.
type CompiledPolicy struct {
	proto   *lua.FunctionProto
	timeout time.Duration

	// panicHook is a testing seam invoked inside the guarded section.
	panicHook func()
}

// Compile parses and compiles a Lua script. A timeout <= 0 uses DefaultTimeout.
func Compile(script string, timeout time.Duration) (*CompiledPolicy, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	fn, err := L.LoadString(script)
	if err != nil {
		return nil, fmt.Errorf("lua compile error: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &CompiledPolicy{proto: fn.Proto, timeout: timeout}, nil
}

// Evaluate runs the policy. It returns nil if the script completes without
// rejecting, an error wrapping ErrRejected for a deliberate rejection, and
// other errors for scripts that fail or run too long.
func (cp *CompiledPolicy) Evaluate(ctx context.Context, in Input) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLuaPanic, r)
		}
	}()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	ctx, cancel := context.WithTimeout(ctx, cp.timeout)
	defer cancel()
	L.SetContext(ctx)

	// Open only safe libraries (no os, io, debug, package)
	openSafeLibs(L)

	L.SetGlobal("claims", mapToLTable(L, in.Claims))
	L.SetGlobal("user_id", lua.LString(in.UserID))
	L.SetGlobal("tenant_id", lua.LString(in.TenantID))
	L.SetGlobal("roles", goToLua(L, in.Roles))
	L.SetGlobal("permissions", goToLua(L, in.Permissions))

	var policyErr error
	deny := func(L *lua.LState, format string, args ...any) {
		policyErr = fmt.Errorf("%w: "+format, append([]any{ErrRejected}, args...)...)
		L.RaiseError("%s", policyErr.Error())
	}

	L.SetGlobal("has", L.NewFunction(func(L *lua.LState) int {
		_, ok := in.Claims[L.CheckString(1)]
		L.Push(lua.LBool(ok))
		return 1
	}))

	L.SetGlobal("get", L.NewFunction(func(L *lua.LState) int {
		val, ok := in.Claims[L.CheckString(1)]
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, val))
		return 1
	}))

	L.SetGlobal("has_role", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(slices.Contains(in.Roles, L.CheckString(1))))
		return 1
	}))

	L.SetGlobal("has_permission", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(slices.Contains(in.Permissions, L.CheckString(1))))
		return 1
	}))

	L.SetGlobal("require_claim", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if _, ok := in.Claims[key]; !ok {
			deny(L, "required claim missing: %s", key)
		}
		return 0
	}))

	L.SetGlobal("require_value", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		val, ok := in.Claims[key]
		if !ok || !luaValuesMatch(val, L.Get(2)) {
			deny(L, "claim %s value mismatch", key)
		}
		return 0
	}))

	L.SetGlobal("require_role", L.NewFunction(func(L *lua.LState) int {
		role := L.CheckString(1)
		if !slices.Contains(in.Roles, role) {
			deny(L, "role %s required", role)
		}
		return 0
	}))

	L.SetGlobal("require_tenant", L.NewFunction(func(L *lua.LState) int {
		if in.TenantID == "" {
			deny(L, "tenant required")
		}
		return 0
	}))

	L.SetGlobal("reject", L.NewFunction(func(L *lua.LState) int {
		deny(L, "%s", L.OptString(1, "rejected by lua policy"))
		return 0
	}))

	if cp.panicHook != nil {
		cp.panicHook()
	}

	L.Push(L.NewFunctionFromProto(cp.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrLuaTimeout
		}
		if policyErr != nil {
			return policyErr
		}
		return fmt.Errorf("lua policy error: %w", err)
	}
	return policyErr
}

// openSafeLibs opens only safe standard libraries.
func openSafeLibs(L *lua.LState) {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
	// Remove base functions that could escape the sandbox.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func mapToLTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		tbl.RawSetString(k, goToLua(L, v))
	}
	return tbl
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return lua.LString(val.String())
		}
		return lua.LNumber(f)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case map[string]any:
		return mapToLTable(L, val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case nil:
		return lua.LNil
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaValuesMatch checks if a Go claim value matches a Lua expected value.
func luaValuesMatch(goVal any, luaVal lua.LValue) bool {
	switch lv := luaVal.(type) {
	case lua.LString:
		if s, ok := goVal.(string); ok {
			return s == string(lv)
		}
	case lua.LNumber:
		switch gv := goVal.(type) {
		case json.Number:
			f, err := gv.Float64()
			return err == nil && f == float64(lv)
		case float64:
			return gv == float64(lv)
		case int64:
			return float64(gv) == float64(lv)
		}
	case lua.LBool:
		if b, ok := goVal.(bool); ok {
			return b == bool(lv)
		}
	}
	return false
}
