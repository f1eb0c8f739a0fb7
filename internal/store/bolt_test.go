package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetAttribute(t *testing.T) {
	s := newTestStore(t)

	att := &AttributeState{
		Address:  datamodel.Address{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000},
		DataType: datamodel.TypeBool,
		Data:     []byte{0x01},
	}

	if err := s.SaveAttribute(att); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAttribute(att.Address)
	if err != nil {
		t.Fatal(err)
	}

	if got.Address != att.Address {
		t.Errorf("address = %s, want %s", got.Address, att.Address)
	}
	if got.DataType != att.DataType {
		t.Errorf("data type = 0x%02X, want 0x%02X", got.DataType, att.DataType)
	}
	if !bytes.Equal(got.Data, att.Data) {
		t.Errorf("data = % X, want % X", got.Data, att.Data)
	}
}

func TestSaveAttributeOverwrites(t *testing.T) {
	s := newTestStore(t)

	addr := datamodel.Address{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000}
	if err := s.SaveAttribute(&AttributeState{Address: addr, DataType: datamodel.TypeBool, Data: []byte{0x00}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAttribute(&AttributeState{Address: addr, DataType: datamodel.TypeBool, Data: []byte{0x01}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAttribute(addr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, []byte{0x01}) {
		t.Errorf("data = % X, want 01", got.Data)
	}

	list, err := s.ListAttributes()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("list count = %d, want 1", len(list))
	}
}

func TestDeleteAttribute(t *testing.T) {
	s := newTestStore(t)

	addr := datamodel.Address{Endpoint: 2, Cluster: 0x0102, Attribute: 0x000A}
	if err := s.SaveAttribute(&AttributeState{Address: addr, DataType: datamodel.TypeBitmap8, Data: []byte{0x01}}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteAttribute(addr); err != nil {
		t.Fatal(err)
	}

	_, err := s.GetAttribute(addr)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListAttributes(t *testing.T) {
	s := newTestStore(t)

	atts := []*AttributeState{
		{Address: datamodel.Address{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000}, DataType: datamodel.TypeBool, Data: []byte{0x01}},
		{Address: datamodel.Address{Endpoint: 2, Cluster: 0x0006, Attribute: 0x0000}, DataType: datamodel.TypeBool, Data: []byte{0x00}},
		{Address: datamodel.Address{Endpoint: 2, Cluster: 0x0006, Attribute: 0x4003}, DataType: datamodel.TypeEnum8, Data: []byte{0x02}},
	}
	for _, a := range atts {
		if err := s.SaveAttribute(a); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListAttributes()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3", len(list))
	}

	// Verify all records present.
	found := make(map[datamodel.Address]bool)
	for _, a := range list {
		found[a.Address] = true
	}
	for _, a := range atts {
		if !found[a.Address] {
			t.Errorf("attribute %s not in list", a.Address)
		}
	}
}

func TestGetAttributeNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAttribute(datamodel.Address{Endpoint: 9, Cluster: 0xFFFF, Attribute: 0xFFFF})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveAndGetIdentity(t *testing.T) {
	s := newTestStore(t)

	id := &Identity{
		VendorID:      0xFFF1,
		ProductID:     0x8000,
		Discriminator: 3840,
		Passcode:      20202021,
		SerialNumber:  "AC-2024-0001",
	}

	if err := s.SaveIdentity(id); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetIdentity()
	if err != nil {
		t.Fatal(err)
	}

	if got.VendorID != id.VendorID {
		t.Errorf("vendor_id = 0x%04X, want 0x%04X", got.VendorID, id.VendorID)
	}
	if got.ProductID != id.ProductID {
		t.Errorf("product_id = 0x%04X, want 0x%04X", got.ProductID, id.ProductID)
	}
	if got.Discriminator != id.Discriminator {
		t.Errorf("discriminator = %d, want %d", got.Discriminator, id.Discriminator)
	}
	if got.Passcode != id.Passcode {
		t.Errorf("passcode = %d, want %d", got.Passcode, id.Passcode)
	}
	if got.SerialNumber != id.SerialNumber {
		t.Errorf("serial = %q, want %q", got.SerialNumber, id.SerialNumber)
	}
}

func TestGetIdentityNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetIdentity()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t)

	addr := datamodel.Address{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000}
	if err := s.SaveAttribute(&AttributeState{Address: addr, DataType: datamodel.TypeBool, Data: []byte{0x01}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveIdentity(&Identity{VendorID: 0xFFF1, ProductID: 0x8000, Passcode: 20202021}); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetAttribute(addr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("attribute err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetIdentity(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("identity err = %v, want ErrNotFound", err)
	}

	// Store stays usable after a reset.
	if err := s.SaveAttribute(&AttributeState{Address: addr, DataType: datamodel.TypeBool, Data: []byte{0x00}}); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListAttributes()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("list count = %d, want 1", len(list))
	}
}
