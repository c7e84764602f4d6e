package fwdauthconfig

import (
	"context"
	"fmt"
	"os"

	"github.com/keksclan/goFwdAuth/fwdauth"
	lua "github.com/yuin/gopher-lua"
)

// luaLoader loads config from a Lua file.
type luaLoader struct {
	path string
}

// FromLuaFile creates a Loader that reads config from a Lua file. The
// script must return a table shaped like the JSON config.
func FromLuaFile(path string) Loader {
	return &luaLoader{path: path}
}

func (l *luaLoader) Load(_ context.Context) (*fwdauth.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read lua config file: %w", err)
	}
	return LoadLuaString(string(data))
}

// LoadLuaString parses a Lua config string and returns a fwdauth.Config.
func LoadLuaString(script string) (*fwdauth.Config, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

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
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	// env(name [, default]) reads the process environment.
	L.SetGlobal("env", L.NewFunction(func(L *lua.LState) int {
		v, ok := os.LookupEnv(L.CheckString(1))
		if !ok {
			L.Push(L.Get(2))
			return 1
		}
		L.Push(lua.LString(v))
		return 1
	}))

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("lua config execution: %w", err)
	}

	ret := L.Get(-1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua config must return a table, got %s", ret.Type().String())
	}
	return luaTableToFile(tbl).Config()
}

func luaTableToFile(tbl *lua.LTable) FileConfig {
	fc := FileConfig{
		Issuer:          getStringField(tbl, "issuer"),
		Audience:        getStringSliceField(tbl, "audience"),
		CheckDeadlineMs: getIntField(tbl, "check_deadline_ms"),
		RetryAfterSec:   getIntField(tbl, "retry_after_sec"),
		WarmOnBootstrap: getBoolField(tbl, "warm_on_bootstrap"),
		ServiceName:     getStringField(tbl, "service_name"),
	}
	if aud := getStringField(tbl, "audience"); aud != "" {
		fc.Audience = []string{aud}
	}

	if jwks := getTableField(tbl, "jwks"); jwks != nil {
		fc.JWKS = JWKSFile{
			URL:                   getStringField(jwks, "url"),
			DiscoverFromIssuer:    getBoolField(jwks, "discover_from_issuer"),
			CacheTTLSec:           getIntField(jwks, "cache_ttl_sec"),
			FetchTimeoutMs:        getIntField(jwks, "fetch_timeout_ms"),
			MinRefreshIntervalSec: getIntField(jwks, "min_refresh_interval_sec"),
			ExtraHeaders:          getStringMapField(jwks, "extra_headers"),
		}
		if auth := getTableField(jwks, "auth"); auth != nil {
			fc.JWKS.Auth = JWKSAuthFile{
				Kind:        getStringField(auth, "kind"),
				Username:    getStringField(auth, "username"),
				Password:    getStringField(auth, "password"),
				BearerToken: getStringField(auth, "bearer_token"),
				HeaderName:  getStringField(auth, "header_name"),
				HeaderValue: getStringField(auth, "header_value"),
			}
		}
	}

	if claims := getTableField(tbl, "claims"); claims != nil {
		fc.Claims = ClaimsFile{
			Subject:     getStringField(claims, "subject"),
			Tenant:      getStringField(claims, "tenant"),
			Roles:       getStringField(claims, "roles"),
			Permissions: getStringField(claims, "permissions"),
			Email:       getStringField(claims, "email"),
			Namespaces:  getStringSliceField(claims, "namespaces"),

			RolePermissions:        getStringListMapField(claims, "role_permissions"),
			DefaultRolePermissions: getBoolField(claims, "default_role_permissions"),
		}
	}

	if lookup := getTableField(tbl, "provider_lookup"); lookup != nil {
		fc.ProviderLookup = LookupFile{
			Enabled:      getBoolField(lookup, "enabled"),
			Endpoint:     getStringField(lookup, "endpoint"),
			APIKey:       getStringField(lookup, "api_key"),
			APIKeyHeader: getStringField(lookup, "api_key_header"),
			TimeoutMs:    getIntField(lookup, "timeout_ms"),
			CacheTTLSec:  getIntField(lookup, "cache_ttl_sec"),
		}
	}

	if policies := getTableField(tbl, "policies"); policies != nil {
		if claims := getTableField(policies, "claims"); claims != nil {
			fc.Policies.Claims = ClaimPolicyFile{
				Required:       getStringSliceField(claims, "required"),
				Denylist:       getStringSliceField(claims, "denylist"),
				EnforcedValues: getValuesMapField(claims, "enforced_values"),
				AnyRole:        getStringSliceField(claims, "any_role"),
				RequireTenant:  getBoolField(claims, "require_tenant"),
			}
		}
		if l := getTableField(policies, "lua"); l != nil {
			fc.Policies.Lua = LuaPolicyFile{
				Enabled:    getBoolField(l, "enabled"),
				Script:     getStringField(l, "script"),
				ScriptFile: getStringField(l, "script_file"),
				TimeoutMs:  getIntField(l, "timeout_ms"),
			}
		}
	}
	return fc
}

func getStringField(tbl *lua.LTable, key string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func getIntField(tbl *lua.LTable, key string) int {
	if n, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		return int(n)
	}
	return 0
}

func getBoolField(tbl *lua.LTable, key string) bool {
	if b, ok := tbl.RawGetString(key).(lua.LBool); ok {
		return bool(b)
	}
	return false
}

func getTableField(tbl *lua.LTable, key string) *lua.LTable {
	if t, ok := tbl.RawGetString(key).(*lua.LTable); ok {
		return t
	}
	return nil
}

func getStringSliceField(tbl *lua.LTable, key string) []string {
	t, ok := tbl.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	var result []string
	t.ForEach(func(_ lua.LValue, val lua.LValue) {
		if s, ok := val.(lua.LString); ok {
			result = append(result, string(s))
		}
	})
	return result
}

func getStringMapField(tbl *lua.LTable, key string) map[string]string {
	t, ok := tbl.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	result := make(map[string]string)
	t.ForEach(func(k lua.LValue, val lua.LValue) {
		ks, kok := k.(lua.LString)
		vs, vok := val.(lua.LString)
		if kok && vok {
			result[string(ks)] = string(vs)
		}
	})
	if len(result) == 0 {
		return nil
	}
	return result
}

// getStringListMapField reads { key = { "a", "b" } }.
func getStringListMapField(tbl *lua.LTable, key string) map[string][]string {
	t, ok := tbl.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	result := make(map[string][]string)
	t.ForEach(func(k lua.LValue, val lua.LValue) {
		ks, ok := k.(lua.LString)
		list, isTable := val.(*lua.LTable)
		if !ok || !isTable {
			return
		}
		var values []string
		list.ForEach(func(_ lua.LValue, item lua.LValue) {
			if s, ok := item.(lua.LString); ok {
				values = append(values, string(s))
			}
		})
		result[string(ks)] = values
	})
	if len(result) == 0 {
		return nil
	}
	return result
}

// getValuesMapField reads { claim = { v1, v2 } } into allowed value lists.
func getValuesMapField(tbl *lua.LTable, key string) map[string][]any {
	t, ok := tbl.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	result := make(map[string][]any)
	t.ForEach(func(k lua.LValue, val lua.LValue) {
		ks, ok := k.(lua.LString)
		list, isTable := val.(*lua.LTable)
		if !ok || !isTable {
			return
		}
		var values []any
		list.ForEach(func(_ lua.LValue, item lua.LValue) {
			switch v := item.(type) {
			case lua.LString:
				values = append(values, string(v))
			case lua.LNumber:
				values = append(values, float64(v))
			case lua.LBool:
				values = append(values, bool(v))
			}
		})
		result[string(ks)] = values
	})
	if len(result) == 0 {
		return nil
	}
	return result
}
