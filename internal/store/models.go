package store

import "github.com/wakky-alcedo/auto-curtain/internal/datamodel"

// AttributeState is the persisted form of a nonvolatile attribute. Data
// holds the value in its wire encoding so records survive restarts without
// caring about Go types.
type AttributeState struct {
	Address  datamodel.Address `json:"address"`
	DataType uint8             `json:"data_type"`
	Data     []byte            `json:"data"`
}

// Identity holds the factory-assigned commissioning identity of the node.
// Passcode is hidden from API/JSON serialization via json:"-".
type Identity struct {
	VendorID      uint16 `json:"vendor_id"`
	ProductID     uint16 `json:"product_id"`
	Discriminator uint16 `json:"discriminator"`
	Passcode      uint32 `json:"-"`
	SerialNumber  string `json:"serial_number"`
}

// identityStorage is the internal struct used for DB serialization,
// preserving the passcode on disk.
type identityStorage struct {
	VendorID      uint16 `json:"vendor_id"`
	ProductID     uint16 `json:"product_id"`
	Discriminator uint16 `json:"discriminator"`
	Passcode      uint32 `json:"passcode"`
	SerialNumber  string `json:"serial_number"`
}
