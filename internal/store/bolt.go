package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
)

var (
	bucketAttributes = []byte("attributes")
	bucketNode       = []byte("node")
	keyIdentity      = []byte("identity")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAttributes, bucketNode} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// attrKey builds a fixed-width key so records sort by endpoint, then
// cluster, then attribute.
func attrKey(addr datamodel.Address) []byte {
	return []byte(fmt.Sprintf("%04X/%08X/%08X", addr.Endpoint, addr.Cluster, addr.Attribute))
}

func (s *BoltStore) SaveAttribute(att *AttributeState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAttributes)
		}
		data, err := json.Marshal(att)
		if err != nil {
			return err
		}
		return b.Put(attrKey(att.Address), data)
	})
}

func (s *BoltStore) GetAttribute(addr datamodel.Address) (*AttributeState, error) {
	var att AttributeState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAttributes)
		}
		data := b.Get(attrKey(addr))
		if data == nil {
			return fmt.Errorf("attribute %s: %w", addr, ErrNotFound)
		}
		return json.Unmarshal(data, &att)
	})
	if err != nil {
		return nil, err
	}
	return &att, nil
}

func (s *BoltStore) ListAttributes() ([]*AttributeState, error) {
	var atts []*AttributeState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return nil // no bucket = no attributes
		}
		atts = make([]*AttributeState, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var att AttributeState
			if err := json.Unmarshal(v, &att); err != nil {
				return err
			}
			atts = append(atts, &att)
			return nil
		})
	})
	return atts, err
}

func (s *BoltStore) DeleteAttribute(addr datamodel.Address) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttributes)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAttributes)
		}
		return b.Delete(attrKey(addr))
	})
}

func (s *BoltStore) SaveIdentity(id *Identity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNode)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNode)
		}
		// Use internal storage struct to persist the passcode.
		st := identityStorage{
			VendorID:      id.VendorID,
			ProductID:     id.ProductID,
			Discriminator: id.Discriminator,
			Passcode:      id.Passcode,
			SerialNumber:  id.SerialNumber,
		}
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return b.Put(keyIdentity, data)
	})
}

func (s *BoltStore) GetIdentity() (*Identity, error) {
	var id Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNode)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketNode)
		}
		data := b.Get(keyIdentity)
		if data == nil {
			return fmt.Errorf("identity: %w", ErrNotFound)
		}
		// Deserialize via internal storage struct to recover the passcode.
		var st identityStorage
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		id = Identity{
			VendorID:      st.VendorID,
			ProductID:     st.ProductID,
			Discriminator: st.Discriminator,
			Passcode:      st.Passcode,
			SerialNumber:  st.SerialNumber,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *BoltStore) Reset() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAttributes, bucketNode} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
