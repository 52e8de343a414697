package receipt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketName      = "receipts"
	orderBucketName = "receipt_order"

	// DefaultMaxReceipts is how many analyses history keeps before evicting the oldest
	DefaultMaxReceipts = 50
)

// ErrNotFound is returned when a receipt ID is not in history
var ErrNotFound = errors.New("receipt not found")

// DB defines the interface for history operations
type DB interface {
	// SaveReceipt appends a receipt and returns any receipts evicted to stay under the cap
	SaveReceipt(receipt *Receipt) ([]*Receipt, error)

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts, newest first
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt from history
	DeleteReceipt(id string) error

	// ClearReceipts removes every receipt and returns what was removed
	ClearReceipts() ([]*Receipt, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Receipts are stored by ID;
// a second bucket maps an increasing sequence to IDs to keep insertion order.
type BoltDB struct {
	db          *bbolt.DB
	maxReceipts int
}

// NewBoltDB creates a new BoltDB instance. maxReceipts <= 0 uses DefaultMaxReceipts.
func NewBoltDB(path string, maxReceipts int) (*BoltDB, error) {
	if maxReceipts <= 0 {
		maxReceipts = DefaultMaxReceipts
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(orderBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, maxReceipts: maxReceipts}, nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// SaveReceipt appends a receipt to history, evicting the oldest ones past the cap
func (b *BoltDB) SaveReceipt(receipt *Receipt) ([]*Receipt, error) {
	var evicted []*Receipt
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		order := tx.Bucket([]byte(orderBucketName))

		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}

		if bucket.Get([]byte(receipt.ID)) == nil {
			seq, err := order.NextSequence()
			if err != nil {
				return fmt.Errorf("allocating sequence: %w", err)
			}
			if err := order.Put(sequenceKey(seq), []byte(receipt.ID)); err != nil {
				return err
			}
		}
		if err := bucket.Put([]byte(receipt.ID), data); err != nil {
			return err
		}

		count := 0
		c := order.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}

		for ; count > b.maxReceipts; count-- {
			k, id := order.Cursor().First()
			if k == nil {
				break
			}
			if v := bucket.Get(id); v != nil {
				var old Receipt
				if err := json.Unmarshal(v, &old); err != nil {
					return fmt.Errorf("unmarshaling receipt: %w", err)
				}
				evicted = append(evicted, &old)
			}
			// k and id alias page memory, so copy them before mutating the buckets
			keyCopy := append([]byte(nil), k...)
			idCopy := append([]byte(nil), id...)
			if err := order.Delete(keyCopy); err != nil {
				return err
			}
			if err := bucket.Delete(idCopy); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts, newest first
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	var receipts []*Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		receipts, err = listReceipts(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// listReceipts reads history newest first within tx
func listReceipts(tx *bbolt.Tx) ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	bucket := tx.Bucket([]byte(bucketName))
	c := tx.Bucket([]byte(orderBucketName)).Cursor()
	for k, id := c.Last(); k != nil; k, id = c.Prev() {
		data := bucket.Get(id)
		if data == nil {
			continue
		}
		var receipt Receipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			return nil, fmt.Errorf("unmarshaling receipt: %w", err)
		}
		receipts = append(receipts, &receipt)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from history
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		order := tx.Bucket([]byte(orderBucketName))
		var orderKey []byte
		c := order.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(v) == id {
				orderKey = append([]byte(nil), k...)
				break
			}
		}
		if orderKey != nil {
			if err := order.Delete(orderKey); err != nil {
				return err
			}
		}
		return bucket.Delete([]byte(id))
	})
}

// ClearReceipts removes every receipt from history
func (b *BoltDB) ClearReceipts() ([]*Receipt, error) {
	var removed []*Receipt
	err := b.db.Update(func(tx *bbolt.Tx) error {
		var err error
		if removed, err = listReceipts(tx); err != nil {
			return err
		}
		for _, name := range []string{bucketName, orderBucketName} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("clearing receipts: %w", err)
	}
	return removed, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
