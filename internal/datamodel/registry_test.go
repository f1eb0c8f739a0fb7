package datamodel

import (
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry(testLogger())

	for _, id := range []ClusterID{ClusterBasicInformation, ClusterIdentify, ClusterOnOff, ClusterWindowCovering} {
		if r.Get(id) == nil {
			t.Errorf("builtin cluster 0x%04X not registered", uint32(id))
		}
	}

	onoff := r.Get(ClusterOnOff)
	attr := onoff.FindAttribute(AttrOnOff)
	if attr == nil {
		t.Fatal("OnOff attribute not found")
	}
	if attr.Type != TypeBool {
		t.Errorf("OnOff type = 0x%02X, want bool", attr.Type)
	}
	if !attr.IsNonvolatile() {
		t.Error("OnOff should be nonvolatile")
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(testLogger())

	c := ClusterDef{
		ID:   0x1000,
		Name: "Custom",
		Attributes: []AttributeDef{
			{ID: 0, Name: "Level", Type: TypeUint8, Access: AccessRead},
		},
	}
	r.Register(c)

	got := r.Get(0x1000)
	if got == nil {
		t.Fatal("cluster not found")
	}
	if got.Name != "Custom" {
		t.Errorf("name = %q, want %q", got.Name, "Custom")
	}
	if len(got.Attributes) != 1 {
		t.Errorf("attrs = %d, want 1", len(got.Attributes))
	}
}

func TestRegistryMerge(t *testing.T) {
	r := NewRegistry(testLogger())

	// Merge a vendor attribute into the builtin On/Off definition.
	r.Register(ClusterDef{
		ID: ClusterOnOff,
		Attributes: []AttributeDef{
			{ID: 0xFFF0, Name: "VendorMode", Type: TypeEnum8, Access: AccessRead | AccessWrite},
		},
	})

	got := r.Get(ClusterOnOff)
	attr := got.FindAttribute(0xFFF0)
	if attr == nil {
		t.Fatal("merged attribute not found")
	}
	if attr.Name != "VendorMode" {
		t.Errorf("name = %q, want VendorMode", attr.Name)
	}
	if got.FindAttribute(AttrOnOff) == nil {
		t.Error("merge dropped existing attribute")
	}
}

func TestRegistryGetIsCopy(t *testing.T) {
	r := NewRegistry(testLogger())

	got := r.Get(ClusterOnOff)
	got.Attributes[0].Name = "mutated"

	again := r.Get(ClusterOnOff)
	if again.Attributes[0].Name == "mutated" {
		t.Error("Get must return a deep copy")
	}
}

func TestRegistryAttributeName(t *testing.T) {
	r := NewRegistry(testLogger())

	cn, an := r.AttributeName(ClusterOnOff, AttrOnOff)
	if cn != "On/Off" || an != "OnOff" {
		t.Errorf("got %q/%q, want On/Off/OnOff", cn, an)
	}

	cn, an = r.AttributeName(0x9999, 0x0001)
	if cn != "0x9999" || an != "0x0001" {
		t.Errorf("unknown ids: got %q/%q", cn, an)
	}
}

func TestGlobalAttributes(t *testing.T) {
	globals := GlobalAttributes()
	if len(globals) != 2 {
		t.Fatalf("got %d globals, want 2", len(globals))
	}
	var haveRevision bool
	for _, g := range globals {
		if g.ID == GlobalAttrClusterRevision {
			haveRevision = true
		}
	}
	if !haveRevision {
		t.Error("ClusterRevision missing from globals")
	}
}
