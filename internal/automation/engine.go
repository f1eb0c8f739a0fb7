//go:build !no_automation

// Package automation runs user Lua scripts against the device. Each
// script gets its own sandboxed VM; event callbacks are serialized through
// a per-VM command channel so a script never sees concurrent execution.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/device"
	"github.com/wakky-alcedo/auto-curtain/internal/node"

	lua "github.com/yuin/gopher-lua"
)

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a registered Lua callback for a specific event
// pattern. Numeric filters use -1 for "match any"; devType filters
// device_event subtypes, empty for any.
type luaEventHandler struct {
	eventType string
	endpoint  int
	cluster   int64
	attribute int64
	devType   string
	fn        *lua.LFunction
}

// scriptVM is a running Lua VM for a single script.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState) // serializes Lua access
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

// Engine manages Lua VMs and dispatches bus events to scripts.
type Engine struct {
	dev     *device.Device
	manager *Manager
	logger  *slog.Logger

	systemCfg   SystemConfig
	telegramCfg TelegramConfig

	mu    sync.Mutex
	vms   map[string]*scriptVM // script ID -> running VM
	unsub func()
}

// NewEngine creates a new automation engine.
func NewEngine(dev *device.Device, mgr *Manager, logger *slog.Logger, sysCfg SystemConfig, teleCfg TelegramConfig) *Engine {
	return &Engine{
		dev:         dev,
		manager:     mgr,
		logger:      logger.With("component", "automation"),
		systemCfg:   sysCfg,
		telegramCfg: teleCfg,
		vms:         make(map[string]*scriptVM),
	}
}

// Start subscribes to the event bus and loads all enabled scripts.
func (e *Engine) Start() {
	e.unsub = e.dev.Events().OnAll(func(event device.Event) {
		e.dispatchEvent(event)
	})

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}

	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}

	e.logger.Info("automation engine started", "scripts", len(e.vms))
}

// Stop cancels all VMs and unsubscribes from the bus.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}

	if e.unsub != nil {
		e.unsub()
	}

	e.logger.Info("automation engine stopped")
}

// ReloadScript stops the old VM (if any) and starts a new one.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}

	if !s.Meta.Enabled {
		return nil // disabled, just stop
	}

	return e.startScript(s)
}

// StopScript stops a running script VM.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a saved script in a temporary sandboxed VM for
// testing and returns the captured output.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()

	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{OK: false, Error: "script not found: " + err.Error(), Duration: time.Since(start).String()}
	}

	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes arbitrary Lua code in a temporary sandboxed VM.
// The top-level code runs first; any handlers it registered are then
// invoked once with a synthetic event so their actions execute too.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	defer L.Close()
	sandbox(L)
	L.SetContext(ctx)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	registerNodeModule(L, vm, e)
	registerSystemModule(L, e)
	registerTelegramModule(L, e)

	// Capture system.log output into the result.
	var logs []string
	var logMu sync.Mutex
	if tbl, ok := L.GetGlobal("system").(*lua.LTable); ok {
		tbl.RawSetString("log", L.NewFunction(func(L *lua.LState) int {
			level := L.CheckString(1)
			msg := L.CheckString(2)
			logMu.Lock()
			logs = append(logs, "["+level+"] "+msg)
			logMu.Unlock()
			return 0
		}))
	}

	if err := L.DoString(code); err != nil {
		return &RunResult{OK: false, Error: timeoutError(err), Logs: logs, Duration: time.Since(start).String()}
	}

	vm.mu.Lock()
	handlers := make([]luaEventHandler, len(vm.handlers))
	copy(handlers, vm.handlers)
	vm.mu.Unlock()

	for _, h := range handlers {
		if err := L.CallByParam(lua.P{
			Fn:      h.fn,
			NRet:    0,
			Protect: true,
		}, syntheticEvent(L, h)); err != nil {
			return &RunResult{OK: false, Error: timeoutError(err), Logs: logs, Duration: time.Since(start).String()}
		}
	}

	return &RunResult{OK: true, Logs: logs, Duration: time.Since(start).String()}
}

// timeoutError rewrites context deadline errors into something a script
// author can act on.
func timeoutError(err error) string {
	s := err.Error()
	if strings.Contains(s, "context deadline exceeded") {
		return "timeout (5s)"
	}
	return s
}

// syntheticEvent builds an event table from a handler's own filters, used
// by RunLuaCode to exercise registered handlers once.
func syntheticEvent(L *lua.LState, h luaEventHandler) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("type", lua.LString(h.eventType))
	switch h.eventType {
	case device.EventAttributeUpdate:
		if h.endpoint >= 0 {
			tbl.RawSetString("endpoint", lua.LNumber(h.endpoint))
		}
		if h.cluster >= 0 {
			tbl.RawSetString("cluster", lua.LNumber(h.cluster))
		}
		if h.attribute >= 0 {
			tbl.RawSetString("attribute", lua.LNumber(h.attribute))
		}
		// Default value=true so "if event.value" conditions pass.
		tbl.RawSetString("value", lua.LTrue)
	case device.EventDeviceEvent:
		if h.devType != "" {
			tbl.RawSetString("type", lua.LString(h.devType))
		}
	}
	return tbl
}

// sandbox strips the libraries a script must not reach.
func sandbox(L *lua.LState) {
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())

	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	sandbox(L)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}

	registerNodeModule(L, vm, e)
	registerSystemModule(L, e)
	registerTelegramModule(L, e)

	// Execute the script to register handlers
	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	e.vms[s.ID] = vm
	e.mu.Unlock()

	// Command loop goroutine, exits when the context is cancelled.
	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent routes a bus event to all matching Lua handlers. It only
// enqueues work: the bus can emit from inside the node's write path, so
// no Lua (and no attribute write) may run on this goroutine.
func (e *Engine) dispatchEvent(event device.Event) {
	e.mu.Lock()
	vmsCopy := make(map[string]*scriptVM, len(e.vms))
	for k, v := range e.vms {
		vmsCopy[k] = v
	}
	e.mu.Unlock()

	for _, vm := range vmsCopy {
		vm.mu.Lock()
		handlers := make([]luaEventHandler, len(vm.handlers))
		copy(handlers, vm.handlers)
		vm.mu.Unlock()

		for _, h := range handlers {
			if !matchesHandler(h, event) {
				continue
			}

			fn := h.fn
			select {
			case <-vm.ctx.Done():
				// VM stopped, drop.
			case vm.commands <- func(L *lua.LState) {
				e.callHandler(L, fn, event)
			}:
			default:
				e.logger.Warn("script command channel full, dropping event")
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event device.Event) bool {
	if h.eventType != event.Type {
		return false
	}

	switch data := event.Data.(type) {
	case device.AttributeUpdate:
		if h.endpoint >= 0 && datamodel.EndpointID(h.endpoint) != data.Address.Endpoint {
			return false
		}
		if h.cluster >= 0 && datamodel.ClusterID(h.cluster) != data.Address.Cluster {
			return false
		}
		if h.attribute >= 0 && datamodel.AttributeID(h.attribute) != data.Address.Attribute {
			return false
		}
		return true
	case node.DeviceEvent:
		return h.devType == "" || h.devType == data.Type
	default:
		return h.endpoint < 0 && h.cluster < 0 && h.attribute < 0 && h.devType == ""
	}
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event device.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, eventToLua(L, event)); err != nil {
		e.logger.Error("lua handler error", "err", err)
	}
}

// eventToLua builds the event table a handler receives. For device
// events the subtype replaces the bus type, so event.type reads as
// "identify_start" rather than "device_event".
func eventToLua(L *lua.LState, event device.Event) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("type", lua.LString(event.Type))

	switch data := event.Data.(type) {
	case device.AttributeUpdate:
		tbl.RawSetString("endpoint", lua.LNumber(data.Address.Endpoint))
		tbl.RawSetString("cluster", lua.LNumber(data.Address.Cluster))
		tbl.RawSetString("attribute", lua.LNumber(data.Address.Attribute))
		tbl.RawSetString("cluster_name", lua.LString(data.Cluster))
		tbl.RawSetString("attribute_name", lua.LString(data.Attribute))
		tbl.RawSetString("value", goToLua(L, data.Value))
	case node.DeviceEvent:
		tbl.RawSetString("type", lua.LString(data.Type))
		tbl.RawSetString("endpoint", lua.LNumber(data.Endpoint))
		if data.Duration != 0 {
			tbl.RawSetString("duration", lua.LNumber(data.Duration))
		}
	}
	return tbl
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []interface{}:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
