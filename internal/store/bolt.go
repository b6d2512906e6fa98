package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/limwakra/youless-bridge/internal/discovery"
	"github.com/limwakra/youless-bridge/internal/meter"
)

var (
	bucketMeters    = []byte("meters")
	bucketDiscovery = []byte("discovery")
	keyLastScan     = []byte("last_scan")
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
		for _, b := range [][]byte{bucketMeters, bucketDiscovery} {
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

func (s *BoltStore) SaveMeter(cfg meter.Config) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeters)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketMeters)
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put([]byte(cfg.Name), data)
	})
}

func (s *BoltStore) GetMeter(name string) (meter.Config, error) {
	var cfg meter.Config
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeters)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketMeters)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("meter %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &cfg)
	})
	if err != nil {
		return meter.Config{}, err
	}
	return cfg, nil
}

func (s *BoltStore) DeleteMeter(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeters)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketMeters)
		}
		return b.Delete([]byte(name))
	})
}

func (s *BoltStore) ListMeters() ([]meter.Config, error) {
	var configs []meter.Config
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeters)
		if b == nil {
			return nil // no bucket = no meters
		}
		configs = make([]meter.Config, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var cfg meter.Config
			if err := json.Unmarshal(v, &cfg); err != nil {
				return err
			}
			configs = append(configs, cfg)
			return nil
		})
	})
	return configs, err
}

func (s *BoltStore) SaveDiscovery(result discovery.Result) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDiscovery)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDiscovery)
		}
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return b.Put(keyLastScan, data)
	})
}

func (s *BoltStore) GetDiscovery() (discovery.Result, error) {
	var result discovery.Result
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDiscovery)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDiscovery)
		}
		data := b.Get(keyLastScan)
		if data == nil {
			return fmt.Errorf("discovery result: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &result)
	})
	if err != nil {
		return discovery.Result{}, err
	}
	return result, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
