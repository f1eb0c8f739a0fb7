// Package datamodel defines the attribute data model: addresses, data
// types, the wire codec, and cluster definitions.
package datamodel

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EndpointID identifies an endpoint on the node.
type EndpointID uint16

// ClusterID identifies a cluster.
type ClusterID uint32

// AttributeID identifies an attribute within a cluster.
type AttributeID uint32

// Address names a single attribute instance on the node.
type Address struct {
	Endpoint  EndpointID  `json:"endpoint"`
	Cluster   ClusterID   `json:"cluster"`
	Attribute AttributeID `json:"attribute"`
}

func (a Address) String() string {
	return fmt.Sprintf("%d/0x%04X/0x%04X", a.Endpoint, uint32(a.Cluster), uint32(a.Attribute))
}

// Data type IDs.
const (
	TypeBool     uint8 = 0x10
	TypeBitmap8  uint8 = 0x18
	TypeBitmap16 uint8 = 0x19
	TypeBitmap32 uint8 = 0x1B
	TypeUint8    uint8 = 0x20
	TypeUint16   uint8 = 0x21
	TypeUint32   uint8 = 0x23
	TypeEnum8    uint8 = 0x30
	TypeEnum16   uint8 = 0x31
	TypeString   uint8 = 0x42
)

// TypeSize returns the fixed size in bytes of a type, or -1 for
// variable-length types.
func TypeSize(typeID uint8) int {
	switch typeID {
	case TypeBool, TypeBitmap8, TypeUint8, TypeEnum8:
		return 1
	case TypeBitmap16, TypeUint16, TypeEnum16:
		return 2
	case TypeBitmap32, TypeUint32:
		return 4
	case TypeString:
		return -1 // 1-byte length prefix
	default:
		return -1
	}
}

// TypeName returns a human-readable name for a type.
func TypeName(typeID uint8) string {
	switch typeID {
	case TypeBool:
		return "bool"
	case TypeBitmap8:
		return "map8"
	case TypeBitmap16:
		return "map16"
	case TypeBitmap32:
		return "map32"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeEnum8:
		return "enum8"
	case TypeEnum16:
		return "enum16"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("0x%02X", typeID)
	}
}

// DecodeValue decodes a typed value from raw bytes, returning the Go value
// and the number of bytes consumed.
func DecodeValue(typeID uint8, data []byte) (interface{}, int, error) {
	if typeID == TypeString {
		if len(data) < 1 {
			return nil, 0, fmt.Errorf("datamodel: no length byte for string")
		}
		length := int(data[0])
		if len(data) < 1+length {
			return nil, 0, fmt.Errorf("datamodel: string truncated: need %d, have %d", length, len(data)-1)
		}
		return string(data[1 : 1+length]), 1 + length, nil
	}

	size := TypeSize(typeID)
	if size < 0 {
		return nil, 0, fmt.Errorf("datamodel: unsupported type 0x%02X", typeID)
	}
	if len(data) < size {
		return nil, 0, fmt.Errorf("datamodel: not enough data for type 0x%02X: need %d, have %d", typeID, size, len(data))
	}

	switch typeID {
	case TypeBool:
		return data[0] != 0, 1, nil
	case TypeBitmap8, TypeUint8, TypeEnum8:
		return data[0], 1, nil
	case TypeBitmap16, TypeUint16, TypeEnum16:
		return binary.LittleEndian.Uint16(data[:2]), 2, nil
	case TypeBitmap32, TypeUint32:
		return binary.LittleEndian.Uint32(data[:4]), 4, nil
	}
	return nil, 0, fmt.Errorf("datamodel: unsupported type 0x%02X", typeID)
}

// EncodeValue encodes a Go value into the little-endian wire format.
// Numeric values accept any Go integer type plus float64, so values coming
// from JSON or Lua encode without caller-side conversion.
func EncodeValue(typeID uint8, val interface{}) ([]byte, error) {
	switch typeID {
	case TypeBool:
		v, ok := toBool(val)
		if !ok {
			return nil, fmt.Errorf("datamodel: cannot convert %T to bool", val)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case TypeBitmap8, TypeUint8, TypeEnum8:
		v, ok := toUint64(val)
		if !ok {
			return nil, fmt.Errorf("datamodel: cannot convert %T to uint8", val)
		}
		if v > math.MaxUint8 {
			return nil, fmt.Errorf("datamodel: value %d overflows uint8", v)
		}
		return []byte{uint8(v)}, nil

	case TypeBitmap16, TypeUint16, TypeEnum16:
		v, ok := toUint64(val)
		if !ok {
			return nil, fmt.Errorf("datamodel: cannot convert %T to uint16", val)
		}
		if v > math.MaxUint16 {
			return nil, fmt.Errorf("datamodel: value %d overflows uint16", v)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(v))
		return buf, nil

	case TypeBitmap32, TypeUint32:
		v, ok := toUint64(val)
		if !ok {
			return nil, fmt.Errorf("datamodel: cannot convert %T to uint32", val)
		}
		if v > uint64(math.MaxUint32) {
			return nil, fmt.Errorf("datamodel: value %d overflows uint32", v)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(v))
		return buf, nil

	case TypeString:
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("datamodel: cannot convert %T to string", val)
		}
		if len(s) > 254 {
			return nil, fmt.Errorf("datamodel: string too long: %d (max 254)", len(s))
		}
		buf := make([]byte, 1+len(s))
		buf[0] = uint8(len(s))
		copy(buf[1:], s)
		return buf, nil
	}

	return nil, fmt.Errorf("datamodel: encode not implemented for type 0x%02X", typeID)
}

func toBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	case uint8:
		return val != 0, true
	}
	return false, false
}

func toUint64(v interface{}) (uint64, bool) {
	switch val := v.(type) {
	case uint8:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case int:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	case int64:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	case float64:
		if val < 0 || val != math.Trunc(val) {
			return 0, false
		}
		return uint64(val), true
	}
	return 0, false
}
