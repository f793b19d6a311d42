package tagscript

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/wegman-software/osmhistory-go/internal/model"
)

// FuncName is the global Lua function a script must define:
//
//	function transform_tags(type, id, tags)
//	  tags["name"] = nil
//	  return tags
//	end
//
// Returning nil drops the entity from the import.
const FuncName = "transform_tags"

// Script runs a Lua tag transform. It is not safe for concurrent use.
type Script struct {
	L  *lua.LState
	fn *lua.LFunction
}

// Load loads a script from a file
func Load(path string) (*Script, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load Lua file: %w", err)
	}
	return newScript(L)
}

// LoadString loads a script from source text
func LoadString(code string) (*Script, error) {
	L := lua.NewState()
	if err := L.DoString(code); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load Lua code: %w", err)
	}
	return newScript(L)
}

func newScript(L *lua.LState) (*Script, error) {
	fn, ok := L.GetGlobal(FuncName).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("script does not define function %s", FuncName)
	}
	return &Script{L: L, fn: fn}, nil
}

// Close releases the Lua state
func (s *Script) Close() {
	s.L.Close()
}

// Transform passes tags through the script. keep is false when the script
// returned nil.
func (s *Script) Transform(kind model.Kind, id int64, tags model.Tags) (out model.Tags, keep bool, err error) {
	tbl := s.L.NewTable()
	for k, v := range tags {
		tbl.RawSetString(k, lua.LString(v))
	}

	if err := s.L.CallByParam(lua.P{
		Fn:      s.fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(kind.String()), lua.LNumber(id), tbl); err != nil {
		return nil, false, fmt.Errorf("%s %d: %s failed: %w", kind, id, FuncName, err)
	}

	ret := s.L.Get(-1)
	s.L.Pop(1)

	switch v := ret.(type) {
	case *lua.LNilType:
		return nil, false, nil
	case *lua.LTable:
		return tableToTags(v), true, nil
	default:
		return nil, false, fmt.Errorf("%s %d: %s returned %s, want table or nil", kind, id, FuncName, ret.Type())
	}
}

// tableToTags converts string-keyed entries; numbers become their decimal
// text, true becomes "yes", anything else is dropped.
func tableToTags(tbl *lua.LTable) model.Tags {
	tags := make(model.Tags)
	tbl.ForEach(func(key, value lua.LValue) {
		k, ok := key.(lua.LString)
		if !ok {
			return
		}
		switch v := value.(type) {
		case lua.LString:
			tags[string(k)] = string(v)
		case lua.LNumber:
			tags[string(k)] = v.String()
		case lua.LBool:
			if v {
				tags[string(k)] = "yes"
			}
		}
	})
	return tags
}
