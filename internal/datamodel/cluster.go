package datamodel

// Access flags
const (
	AccessRead        uint8 = 0x01
	AccessWrite       uint8 = 0x02
	AccessReport      uint8 = 0x04
	AccessNonvolatile uint8 = 0x08
)

// AttributeDef defines an attribute within a cluster.
type AttributeDef struct {
	ID     AttributeID `json:"id"`
	Name   string      `json:"name"`
	Type   uint8       `json:"type"`
	Access uint8       `json:"access"` // bitmask: 1=read, 2=write, 4=reportable, 8=nonvolatile
}

// IsReadable returns true if the attribute can be read.
func (a *AttributeDef) IsReadable() bool {
	return a.Access&AccessRead != 0
}

// IsWritable returns true if the attribute can be written.
func (a *AttributeDef) IsWritable() bool {
	return a.Access&AccessWrite != 0
}

// IsNonvolatile returns true if the attribute value survives restarts.
func (a *AttributeDef) IsNonvolatile() bool {
	return a.Access&AccessNonvolatile != 0
}

// ClusterDef defines a cluster with its attributes.
type ClusterDef struct {
	ID         ClusterID      `json:"id"`
	Name       string         `json:"name"`
	Attributes []AttributeDef `json:"attributes,omitempty"`
}

// FindAttribute looks up an attribute by ID.
func (c *ClusterDef) FindAttribute(id AttributeID) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id {
			return &c.Attributes[i]
		}
	}
	return nil
}

// DeepCopy returns a deep copy of the cluster definition.
func (c *ClusterDef) DeepCopy() *ClusterDef {
	cp := *c
	if c.Attributes != nil {
		cp.Attributes = make([]AttributeDef, len(c.Attributes))
		copy(cp.Attributes, c.Attributes)
	}
	return &cp
}

// Merge adds attributes from another definition, keeping existing ones.
func (c *ClusterDef) Merge(other *ClusterDef) {
	for _, attr := range other.Attributes {
		if c.FindAttribute(attr.ID) == nil {
			c.Attributes = append(c.Attributes, attr)
		}
	}
}
