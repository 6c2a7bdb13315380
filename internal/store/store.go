// Package store keeps the history of meter readings in a bbolt database.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/berfenger/wienernetze2mqtt/internal/core/port"
	"github.com/berfenger/wienernetze2mqtt/pkg/wienernetze"

	"go.etcd.io/bbolt"
)

var bucketRoot = []byte("wienernetze")

// DB stores one bucket per meter point. Readings are keyed by the unix
// seconds of their interval start, big endian, so keys sort by time and a
// later poll overwrites an estimated value with the validated one.
type DB struct {
	db *bbolt.DB
}

var (
	_ port.ReadingSink    = (*DB)(nil)
	_ port.ReadingHistory = (*DB)(nil)
)

// Open opens and initializes a bbolt-backed reading history.
func Open(fname string) (*DB, error) {
	db, err := bbolt.Open(fname, 0644, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open reading db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(bucketRoot)
		if err != nil {
			return fmt.Errorf("could not create %q bucket: %w", bucketRoot, err)
		}
		if root == nil {
			return fmt.Errorf("could not create %q bucket", bucketRoot)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not setup reading db buckets: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db.db != nil {
		err := db.db.Close()
		if err != nil {
			return fmt.Errorf("could not close boltdb: %w", err)
		}
		db.db = nil
	}
	return nil
}

// PutReadings stores the readings of a meter point, creating its bucket on
// first use.
func (db *DB) PutReadings(meterPointID string, readings []wienernetze.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	err := db.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketRoot)
		if root == nil {
			return fmt.Errorf("could not access %q bucket", bucketRoot)
		}

		bkt, err := root.CreateBucketIfNotExists([]byte(meterPointID))
		if err != nil {
			return fmt.Errorf("could not create data bucket for meter %q: %w", meterPointID, err)
		}

		for _, r := range readings {
			start, err := r.Start()
			if err != nil {
				return fmt.Errorf("could not parse start of reading %+v: %w", r, err)
			}
			buf, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("could not marshal reading %+v: %w", r, err)
			}
			if err := bkt.Put(timeKey(start), buf); err != nil {
				return fmt.Errorf("could not store reading %+v: %w", r, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not write readings to db: %w", err)
	}
	return nil
}

// Readings returns the stored readings of a meter point starting in
// [from, to), in time order. An unknown meter point has no readings.
func (db *DB) Readings(meterPointID string, from, to time.Time) ([]wienernetze.Reading, error) {
	var rows []wienernetze.Reading
	end := timeKey(to)
	err := db.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketRoot)
		if root == nil {
			return fmt.Errorf("could not find %q bucket", bucketRoot)
		}
		bkt := root.Bucket([]byte(meterPointID))
		if bkt == nil {
			return nil
		}

		c := bkt.Cursor()
		for k, v := c.Seek(timeKey(from)); k != nil && bytes.Compare(k, end) < 0; k, v = c.Next() {
			var row wienernetze.Reading
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("could not unmarshal reading: %w", err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not read rows: %w", err)
	}
	return rows, nil
}

// Meters returns the ids of all meter points with stored readings.
func (db *DB) Meters() ([]string, error) {
	var meters []string
	err := db.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketRoot)
		if root == nil {
			return fmt.Errorf("could not find %q bucket", bucketRoot)
		}
		return root.ForEach(func(k, v []byte) error {
			// nested buckets have a nil value
			if v == nil {
				meters = append(meters, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(meters)
	return meters, nil
}

func timeKey(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UTC().Unix()))
	return k
}
