package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/gpio"
	"github.com/wakky-alcedo/auto-curtain/internal/node"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

// fakeAttrs is a bare AttributeStore recording writes in order.
type fakeAttrs struct {
	values   map[datamodel.Address]interface{}
	readErr  error
	writeErr error
	writes   []datamodel.Address
	onWrite  func()
}

func newFakeAttrs() *fakeAttrs {
	return &fakeAttrs{values: make(map[datamodel.Address]interface{})}
}

func (f *fakeAttrs) ReadAttribute(addr datamodel.Address) (interface{}, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	v, ok := f.values[addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr, node.ErrNotFound)
	}
	return v, nil
}

func (f *fakeAttrs) WriteAttribute(addr datamodel.Address, value interface{}) error {
	if f.onWrite != nil {
		f.onWrite()
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.values[addr] = value
	f.writes = append(f.writes, addr)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// rig is a node, a memory chip, and a registry wired the way the daemon
// wires them: every node write notification goes to the dispatcher.
type rig struct {
	node *node.Node
	chip *gpio.MemoryChip
	reg  *Registry
}

func newRig(t *testing.T) *rig {
	t.Helper()
	n, err := node.NewNode(node.Config{
		VendorName: "Test", VendorID: 0xFFF1,
		ProductName: "Curtain", ProductID: 0x8000,
	}, datamodel.NewRegistry(testLogger()), nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	r := &rig{node: n, chip: gpio.NewMemoryChip(), reg: NewRegistry(testLogger())}
	unsub := n.Subscribe(func(note node.Notification) error {
		r.reg.DispatchInbound(note)
		return nil
	})
	t.Cleanup(unsub)
	return r
}

// addLight creates an on/off light endpoint bound to a pull-up button on
// inPin and a relay on outPin, registered with the rig's dispatcher.
func (r *rig) addLight(t *testing.T, inPin, outPin int, debounce time.Duration) (*Binding, datamodel.Address) {
	t.Helper()
	ep, err := r.node.NewOnOffLight(node.OnOffLightConfig{Name: "lamp"})
	if err != nil {
		t.Fatal(err)
	}
	addr := datamodel.Address{Endpoint: ep.ID, Cluster: datamodel.ClusterOnOff, Attribute: datamodel.AttrOnOff}
	b := r.bind(t, addr, KindBoolean, inPin, outPin, debounce)
	return b, addr
}

func (r *rig) bind(t *testing.T, addr datamodel.Address, kind Kind, inPin, outPin int, debounce time.Duration) *Binding {
	t.Helper()
	in, err := r.chip.OpenInput(inPin, gpio.InputConfig{Pull: gpio.PullUp, Invert: true})
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.chip.OpenOutput(outPin, gpio.OutputConfig{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(Config{
		Address:    addr,
		Kind:       kind,
		Input:      in,
		Output:     out,
		Debounce:   debounce,
		Attributes: r.node,
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.reg.Register(b); err != nil {
		t.Fatal(err)
	}
	return b
}

// press pulls the button line low, release lets the pull-up raise it.
func (r *rig) press(pin int)   { r.chip.SetInput(pin, false) }
func (r *rig) release(pin int) { r.chip.SetInput(pin, true) }

func (r *rig) value(t *testing.T, addr datamodel.Address) interface{} {
	t.Helper()
	v, err := r.node.ReadAttribute(addr)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func risingEdges(writes []bool) int {
	level := false
	edges := 0
	for _, w := range writes {
		if w && !level {
			edges++
		}
		level = w
	}
	return edges
}

func TestNewValidation(t *testing.T) {
	chip := gpio.NewMemoryChip()
	in, _ := chip.OpenInput(17, gpio.InputConfig{})
	out, _ := chip.OpenOutput(22, gpio.OutputConfig{})
	attrs := newFakeAttrs()
	addr := datamodel.Address{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000}
	attrs.values[addr] = false

	cases := []struct {
		name string
		cfg  Config
	}{
		{"no input", Config{Address: addr, Input: nil, Output: out, Attributes: attrs}},
		{"no output", Config{Address: addr, Input: in, Output: nil, Attributes: attrs}},
		{"no attributes", Config{Address: addr, Input: in, Output: out, Attributes: nil}},
		{"bad kind", Config{Address: addr, Kind: Kind(9), Input: in, Output: out, Attributes: attrs}},
		{"unresolvable address", Config{Address: datamodel.Address{Endpoint: 9}, Input: in, Output: out, Attributes: attrs}},
	}
	for _, c := range cases {
		if _, err := New(c.cfg); err == nil {
			t.Errorf("%s: expected error, got nil", c.name)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	chip := gpio.NewMemoryChip()
	in, _ := chip.OpenInput(17, gpio.InputConfig{})
	out, _ := chip.OpenOutput(22, gpio.OutputConfig{})
	attrs := newFakeAttrs()
	addr := datamodel.Address{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000}
	attrs.values[addr] = false

	b, err := New(Config{Address: addr, Kind: KindBoolean, Input: in, Output: out, Attributes: attrs, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if b.Debounce() != DefaultDebounce {
		t.Errorf("debounce = %v, want %v", b.Debounce(), DefaultDebounce)
	}

	b, err = New(Config{Address: addr, Kind: KindBoolean, Input: in, Output: out, Attributes: attrs, Debounce: 250 * time.Millisecond, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if b.Debounce() != 250*time.Millisecond {
		t.Errorf("debounce = %v, want 250ms", b.Debounce())
	}
}

func TestPressTogglesThenDebounces(t *testing.T) {
	r := newRig(t)
	b, addr := r.addLight(t, 17, 22, 0)

	r.press(17)
	b.PollInput(at(0))

	if v := r.value(t, addr); v != true {
		t.Fatalf("value after press = %v, want true", v)
	}
	if level, _ := r.chip.Output(22); !level {
		t.Fatal("output low after press, want high")
	}

	// Second press inside the 500ms window is ignored.
	b.PollInput(at(100))
	if v := r.value(t, addr); v != true {
		t.Fatalf("value after suppressed press = %v, want true", v)
	}

	// Past the window the press toggles back.
	b.PollInput(at(600))
	if v := r.value(t, addr); v != false {
		t.Fatalf("value after third press = %v, want false", v)
	}
	if level, _ := r.chip.Output(22); level {
		t.Fatal("output high after toggle back, want low")
	}

	if got := risingEdges(r.chip.Writes(22)); got != 1 {
		t.Errorf("rising edges = %d, want 1", got)
	}
}

func TestReleasedButtonDoesNothing(t *testing.T) {
	r := newRig(t)
	b, addr := r.addLight(t, 17, 22, 0)

	b.PollInput(at(0))
	b.PollInput(at(600))

	if v := r.value(t, addr); v != false {
		t.Fatalf("value = %v, want false", v)
	}
	if b.State(at(1200)) != StateIdle {
		t.Error("state = suppressed, want idle")
	}
}

func TestIndependentDebounceWindows(t *testing.T) {
	r := newRig(t)
	_, addr1 := r.addLight(t, 17, 22, 0)
	_, addr2 := r.addLight(t, 18, 23, 0)

	r.press(17)
	r.reg.PollAll(at(0))
	if v := r.value(t, addr1); v != true {
		t.Fatalf("first binding value = %v, want true", v)
	}

	// A press on the second input right after must not be suppressed by
	// the first binding's toggle.
	r.release(17)
	r.press(18)
	r.reg.PollAll(at(50))

	if v := r.value(t, addr2); v != true {
		t.Fatalf("second binding value = %v, want true", v)
	}
	if v := r.value(t, addr1); v != true {
		t.Fatalf("first binding value changed to %v", v)
	}
}

func TestInboundDrivesOutputOnce(t *testing.T) {
	r := newRig(t)
	_, addr := r.addLight(t, 17, 22, 0)

	if err := r.node.WriteAttribute(addr, true); err != nil {
		t.Fatal(err)
	}
	if level, _ := r.chip.Output(22); !level {
		t.Fatal("output low after inbound write, want high")
	}

	// Same value again: output level transitions low to high exactly once.
	if err := r.node.WriteAttribute(addr, true); err != nil {
		t.Fatal(err)
	}
	if got := risingEdges(r.chip.Writes(22)); got != 1 {
		t.Errorf("rising edges = %d, want 1", got)
	}
}

func TestInboundIgnoresOtherPhasesAndAddresses(t *testing.T) {
	r := newRig(t)
	b, addr := r.addLight(t, 17, 22, 0)

	before := len(r.chip.Writes(22))

	b.OnInboundUpdate(node.Notification{Address: addr, Value: true, Phase: node.PostApply})
	other := datamodel.Address{Endpoint: 9, Cluster: 0x0006, Attribute: 0x0000}
	b.OnInboundUpdate(node.Notification{Address: other, Value: true, Phase: node.PreApply})

	if got := len(r.chip.Writes(22)); got != before {
		t.Errorf("output writes = %d, want %d", got, before)
	}
}

func TestInboundWrongKindSkipped(t *testing.T) {
	r := newRig(t)
	b, addr := r.addLight(t, 17, 22, 0)

	before := len(r.chip.Writes(22))
	b.OnInboundUpdate(node.Notification{Address: addr, Value: uint8(1), Phase: node.PreApply})
	if got := len(r.chip.Writes(22)); got != before {
		t.Errorf("output writes = %d, want %d", got, before)
	}
}

func TestPollSkipsWithoutSample(t *testing.T) {
	r := newRig(t)

	// A boolean binding pointed at a uint16 attribute never gets a usable
	// sample. The poll must skip it and carry on with the next binding.
	ep, err := r.node.NewOnOffLight(node.OnOffLightConfig{Name: "lamp"})
	if err != nil {
		t.Fatal(err)
	}
	badAddr := datamodel.Address{Endpoint: ep.ID, Cluster: datamodel.ClusterOnOff, Attribute: datamodel.AttrOnTime}
	bad := r.bind(t, badAddr, KindBoolean, 17, 22, 0)
	_, goodAddr := r.addLight(t, 18, 23, 0)

	r.press(17)
	r.press(18)
	r.reg.PollAll(at(0))

	if v := r.value(t, badAddr); v != uint16(0) {
		t.Errorf("unsampleable attribute = %v, want unchanged 0", v)
	}
	if v := r.value(t, goodAddr); v != true {
		t.Errorf("good binding value = %v, want true", v)
	}

	// The failed toggle still consumed the debounce window.
	if bad.State(at(100)) != StateSuppressed {
		t.Error("bad binding state = idle, want suppressed")
	}
}

func TestReadErrorSkipsToggle(t *testing.T) {
	attrs := newFakeAttrs()
	addr := datamodel.Address{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000}
	attrs.values[addr] = false

	chip := gpio.NewMemoryChip()
	in, _ := chip.OpenInput(17, gpio.InputConfig{})
	out, _ := chip.OpenOutput(22, gpio.OutputConfig{})
	b, err := New(Config{Address: addr, Kind: KindBoolean, Input: in, Output: out, Attributes: attrs, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	attrs.readErr = fmt.Errorf("gone: %w", node.ErrNotFound)
	b.Trigger(at(0))

	if len(attrs.writes) != 0 {
		t.Errorf("writes = %d, want 0", len(attrs.writes))
	}
	if b.State(at(100)) != StateSuppressed {
		t.Error("state = idle, want suppressed after consumed window")
	}
}

func TestRejectedWriteLeavesStateUnchanged(t *testing.T) {
	n, err := node.NewNode(node.Config{VendorName: "Test", VendorID: 0xFFF1, ProductName: "Curtain", ProductID: 0x8000},
		datamodel.NewRegistry(testLogger()), nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ep, err := n.NewOnOffLight(node.OnOffLightConfig{Name: "lamp"})
	if err != nil {
		t.Fatal(err)
	}
	addr := datamodel.Address{Endpoint: ep.ID, Cluster: datamodel.ClusterOnOff, Attribute: datamodel.AttrOnOff}

	// Veto before the dispatcher, the way a validation layer would sit.
	n.Subscribe(func(note node.Notification) error {
		if note.Phase == node.PreApply {
			return errors.New("not now")
		}
		return nil
	})
	reg := NewRegistry(testLogger())
	n.Subscribe(func(note node.Notification) error {
		reg.DispatchInbound(note)
		return nil
	})

	chip := gpio.NewMemoryChip()
	in, _ := chip.OpenInput(17, gpio.InputConfig{Pull: gpio.PullUp, Invert: true})
	out, _ := chip.OpenOutput(22, gpio.OutputConfig{})
	b, err := New(Config{Address: addr, Kind: KindBoolean, Input: in, Output: out, Attributes: n, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(b); err != nil {
		t.Fatal(err)
	}

	chip.SetInput(17, false)
	b.PollInput(at(0))

	v, err := n.ReadAttribute(addr)
	if err != nil {
		t.Fatal(err)
	}
	if v != false {
		t.Errorf("value = %v, want unchanged false", v)
	}
	if level, _ := chip.Output(22); level {
		t.Error("output driven despite rejected write")
	}
}

func TestToggleWritesAddressItRead(t *testing.T) {
	attrs := newFakeAttrs()
	addr1 := datamodel.Address{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000}
	addr2 := datamodel.Address{Endpoint: 2, Cluster: 0x0006, Attribute: 0x0000}
	attrs.values[addr1] = false
	attrs.values[addr2] = true

	chip := gpio.NewMemoryChip()
	newBinding := func(addr datamodel.Address, in, out int) *Binding {
		ip, _ := chip.OpenInput(in, gpio.InputConfig{})
		op, _ := chip.OpenOutput(out, gpio.OutputConfig{})
		b, err := New(Config{Address: addr, Kind: KindBoolean, Input: ip, Output: op, Attributes: attrs, Logger: testLogger()})
		if err != nil {
			t.Fatal(err)
		}
		return b
	}
	b1 := newBinding(addr1, 17, 22)
	b2 := newBinding(addr2, 18, 23)

	b1.Trigger(at(0))
	b2.Trigger(at(0))

	if len(attrs.writes) != 2 || attrs.writes[0] != addr1 || attrs.writes[1] != addr2 {
		t.Fatalf("write addresses = %v, want [%s %s]", attrs.writes, addr1, addr2)
	}
	if attrs.values[addr1] != true {
		t.Errorf("addr1 = %v, want true", attrs.values[addr1])
	}
	if attrs.values[addr2] != false {
		t.Errorf("addr2 = %v, want false", attrs.values[addr2])
	}
}

func TestLastToggleSetBeforeWrite(t *testing.T) {
	attrs := newFakeAttrs()
	addr := datamodel.Address{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000}
	attrs.values[addr] = false

	chip := gpio.NewMemoryChip()
	in, _ := chip.OpenInput(17, gpio.InputConfig{})
	out, _ := chip.OpenOutput(22, gpio.OutputConfig{})
	b, err := New(Config{Address: addr, Kind: KindBoolean, Input: in, Output: out, Attributes: attrs, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	var seen time.Time
	attrs.onWrite = func() { seen = b.LastToggle() }
	b.Trigger(at(0))

	if !seen.Equal(at(0)) {
		t.Errorf("last toggle at write time = %v, want %v", seen, at(0))
	}
}

func TestMultiValueToggle(t *testing.T) {
	r := newRig(t)
	ep, err := r.node.NewWindowCovering(node.WindowCoveringConfig{Name: "curtain"})
	if err != nil {
		t.Fatal(err)
	}
	addr := datamodel.Address{Endpoint: ep.ID, Cluster: datamodel.ClusterWindowCovering, Attribute: datamodel.AttrOperationalStatus}
	b := r.bind(t, addr, KindMultiValue, 17, 22, 0)

	r.press(17)
	b.PollInput(at(0))

	if v := r.value(t, addr); v != uint8(1) {
		t.Fatalf("value = %v, want 1", v)
	}
	if level, _ := r.chip.Output(22); !level {
		t.Fatal("output low while running, want high")
	}

	b.PollInput(at(600))
	if v := r.value(t, addr); v != uint8(0) {
		t.Fatalf("value = %v, want 0", v)
	}
	if level, _ := r.chip.Output(22); level {
		t.Fatal("output high while stopped, want low")
	}
}

func TestStateReporting(t *testing.T) {
	r := newRig(t)
	b, _ := r.addLight(t, 17, 22, 0)

	if b.State(at(0)) != StateIdle {
		t.Fatal("fresh binding not idle")
	}
	if !b.LastToggle().IsZero() {
		t.Fatal("fresh binding has a last toggle")
	}

	r.press(17)
	b.PollInput(at(0))

	if b.State(at(100)) != StateSuppressed {
		t.Error("state at +100ms = idle, want suppressed")
	}
	if b.State(at(500)) != StateIdle {
		t.Error("state at +500ms = suppressed, want idle")
	}
	if !b.LastToggle().Equal(at(0)) {
		t.Errorf("last toggle = %v, want %v", b.LastToggle(), at(0))
	}
}

func TestInputReadErrorSkipsPoll(t *testing.T) {
	r := newRig(t)
	b, addr := r.addLight(t, 17, 22, 0)

	r.chip.FailReads(17, errors.New("bus fault"))
	r.press(17)
	b.PollInput(at(0))

	if v := r.value(t, addr); v != false {
		t.Fatalf("value = %v, want false", v)
	}
	// A failed pin read does not consume the window.
	if b.State(at(10)) != StateIdle {
		t.Error("state = suppressed, want idle")
	}

	r.chip.FailReads(17, nil)
	b.PollInput(at(20))
	if v := r.value(t, addr); v != true {
		t.Fatalf("value after recovery = %v, want true", v)
	}
}
