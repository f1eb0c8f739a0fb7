//go:build !no_automation

package automation

import (
	"fmt"
	"time"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/device"

	lua "github.com/yuin/gopher-lua"
)

// registerNodeModule registers the `node` global table in a Lua state.
func registerNodeModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()

	mod.RawSetString("on", L.NewFunction(func(L *lua.LState) int {
		return nodeOn(L, vm)
	}))

	mod.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		return nodeGet(L, e)
	}))

	mod.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		return nodeSet(L, e)
	}))

	mod.RawSetString("toggle", L.NewFunction(func(L *lua.LState) int {
		return nodeToggle(L, e)
	}))

	mod.RawSetString("after", L.NewFunction(func(L *lua.LState) int {
		return nodeAfter(L, vm, e)
	}))

	mod.RawSetString("endpoints", L.NewFunction(func(L *lua.LState) int {
		return nodeEndpoints(L, e)
	}))

	L.SetGlobal("node", mod)
}

const maxHandlersPerScript = 100

// checkAddress reads the (endpoint, cluster, attribute) triple from Lua
// arguments 1-3.
func checkAddress(L *lua.LState) datamodel.Address {
	ep := L.CheckInt(1)
	cluster := L.CheckInt64(2)
	attr := L.CheckInt64(3)

	if ep < 0 || ep > 0xFFFF {
		L.ArgError(1, "endpoint must be 0-65535")
	}
	if cluster < 0 || cluster > 0xFFFFFFFF {
		L.ArgError(2, "cluster must be 0-4294967295")
	}
	if attr < 0 || attr > 0xFFFFFFFF {
		L.ArgError(3, "attribute must be 0-4294967295")
	}

	return datamodel.Address{
		Endpoint:  datamodel.EndpointID(ep),
		Cluster:   datamodel.ClusterID(cluster),
		Attribute: datamodel.AttributeID(attr),
	}
}

// node.on(type, filter, callback)
func nodeOn(L *lua.LState, vm *scriptVM) int {
	eventType := L.CheckString(1)
	filter := L.CheckTable(2)
	fn := L.CheckFunction(3)

	if eventType != device.EventAttributeUpdate && eventType != device.EventDeviceEvent {
		L.ArgError(1, "unknown event type: "+eventType)
		return 0
	}

	h := luaEventHandler{
		eventType: eventType,
		endpoint:  -1,
		cluster:   -1,
		attribute: -1,
		fn:        fn,
	}

	if v := filter.RawGetString("endpoint"); v != lua.LNil {
		if n, ok := v.(lua.LNumber); ok {
			h.endpoint = int(n)
		}
	}
	if v := filter.RawGetString("cluster"); v != lua.LNil {
		if n, ok := v.(lua.LNumber); ok {
			h.cluster = int64(n)
		}
	}
	if v := filter.RawGetString("attribute"); v != lua.LNil {
		if n, ok := v.(lua.LNumber); ok {
			h.attribute = int64(n)
		}
	}
	if v := filter.RawGetString("type"); v != lua.LNil {
		h.devType = v.String()
	}

	vm.mu.Lock()
	if len(vm.handlers) >= maxHandlersPerScript {
		vm.mu.Unlock()
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	vm.mu.Unlock()

	return 0
}

// node.get(endpoint, cluster, attribute) -> value or nil
func nodeGet(L *lua.LState, e *Engine) int {
	addr := checkAddress(L)

	v, err := e.dev.Node().ReadAttribute(addr)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(goToLua(L, v))
	return 1
}

// node.set(endpoint, cluster, attribute, value) -> ok
func nodeSet(L *lua.LState, e *Engine) int {
	addr := checkAddress(L)
	value := luaToGo(L.CheckAny(4))

	if err := e.dev.Node().WriteAttribute(addr, value); err != nil {
		e.logger.Warn("script write failed", "addr", addr.String(), "err", err)
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

// node.toggle(endpoint, cluster, attribute) -> new value or nil
func nodeToggle(L *lua.LState, e *Engine) int {
	addr := checkAddress(L)
	n := e.dev.Node()

	v, err := n.ReadAttribute(addr)
	if err != nil {
		e.logger.Warn("script toggle read failed", "addr", addr.String(), "err", err)
		L.Push(lua.LNil)
		return 1
	}

	flipped, err := invert(v)
	if err != nil {
		e.logger.Warn("script toggle skipped", "addr", addr.String(), "err", err)
		L.Push(lua.LNil)
		return 1
	}

	if err := n.WriteAttribute(addr, flipped); err != nil {
		e.logger.Warn("script toggle write failed", "addr", addr.String(), "err", err)
		L.Push(lua.LNil)
		return 1
	}

	L.Push(goToLua(L, flipped))
	return 1
}

// invert flips a boolean, or maps a numeric value nonzero->0 and zero->1.
func invert(v interface{}) (interface{}, error) {
	switch cur := v.(type) {
	case bool:
		return !cur, nil
	case uint8:
		if cur != 0 {
			return uint8(0), nil
		}
		return uint8(1), nil
	case uint16:
		if cur != 0 {
			return uint16(0), nil
		}
		return uint16(1), nil
	case uint32:
		if cur != 0 {
			return uint32(0), nil
		}
		return uint32(1), nil
	default:
		return nil, fmt.Errorf("cannot toggle %T", v)
	}
}

// node.after(seconds, callback) runs the callback later on the VM goroutine.
func nodeAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}

		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{
				Fn:      fn,
				NRet:    0,
				Protect: true,
			}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: command channel full")
		}
	}()

	return 0
}

// node.endpoints() -> table of {id, name, type}
func nodeEndpoints(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, ep := range e.dev.Node().Endpoints() {
		t := L.NewTable()
		t.RawSetString("id", lua.LNumber(ep.ID))
		t.RawSetString("name", lua.LString(ep.Name))
		t.RawSetString("type", lua.LString(ep.DeviceTypeName))
		tbl.RawSetInt(i+1, t)
	}
	L.Push(tbl)
	return 1
}

// luaToGo converts a plain Lua value to its Go counterpart. Numbers come
// back as float64; the node's codec coerces them to the attribute type.
func luaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	default:
		return nil
	}
}
