package store

import (
	"errors"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Attribute state
	SaveAttribute(att *AttributeState) error
	GetAttribute(addr datamodel.Address) (*AttributeState, error)
	ListAttributes() ([]*AttributeState, error)
	DeleteAttribute(addr datamodel.Address) error

	// Node identity
	SaveIdentity(id *Identity) error
	GetIdentity() (*Identity, error)

	// Reset wipes all persisted state. The store stays usable afterwards.
	Reset() error

	// Close the store
	Close() error
}
