package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kilianp07/fleetiot/core/factory"
	"github.com/kilianp07/fleetiot/core/vehicle"
)

var (
	vehiclesBucket = []byte("vehicles")
	serialsBucket  = []byte("serials")
)

// BoltStore keeps vehicles in a bbolt file. Records are JSON documents keyed
// by id; a second bucket maps serial to id.
type BoltStore struct {
	db *bolt.DB
}

type boltConf struct {
	Path string `json:"path"`
}

func newBoltFromConf(raw map[string]any) (vehicle.Store, error) {
	var c boltConf
	if err := factory.Decode(raw, &c); err != nil {
		return nil, err
	}
	if c.Path == "" {
		c.Path = "fleetiot.bolt"
	}
	return NewBoltStore(c.Path)
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{vehiclesBucket, serialsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Create inserts v. An existing ID or serial returns vehicle.ErrDuplicate.
func (s *BoltStore) Create(_ context.Context, v vehicle.Vehicle) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		vb, sb := tx.Bucket(vehiclesBucket), tx.Bucket(serialsBucket)
		if vb.Get([]byte(v.ID)) != nil || sb.Get([]byte(v.Serial)) != nil {
			return fmt.Errorf("%w: %s", vehicle.ErrDuplicate, v.ID)
		}
		if err := vb.Put([]byte(v.ID), data); err != nil {
			return err
		}
		return sb.Put([]byte(v.Serial), []byte(v.ID))
	})
}

// FindBySerial returns vehicle.ErrNotFound when no record has serial.
func (s *BoltStore) FindBySerial(_ context.Context, serial string) (*vehicle.Vehicle, error) {
	var v vehicle.Vehicle
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(serialsBucket).Get([]byte(serial))
		if id == nil {
			return vehicle.ErrNotFound
		}
		data := tx.Bucket(vehiclesBucket).Get(id)
		if data == nil {
			return vehicle.ErrNotFound
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *BoltStore) Update(_ context.Context, v vehicle.Vehicle) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		vb := tx.Bucket(vehiclesBucket)
		data := vb.Get([]byte(v.ID))
		if data == nil {
			return vehicle.ErrNotFound
		}
		var cur vehicle.Vehicle
		if err := json.Unmarshal(data, &cur); err != nil {
			return err
		}
		v.Serial = cur.Serial
		next, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return vb.Put([]byte(v.ID), next)
	})
}

func (s *BoltStore) List(context.Context) ([]vehicle.Vehicle, error) {
	var out []vehicle.Vehicle
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(vehiclesBucket).ForEach(func(_, data []byte) error {
			var v vehicle.Vehicle
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Close() error { return s.db.Close() }
