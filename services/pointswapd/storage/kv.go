package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
)

// KV is the durable engine state store. Values are RLP encoded so stored
// records stay limited to the shapes RLP supports.
type KV struct {
	db *leveldb.DB
}

// OpenKV opens (or creates) the LevelDB database at path.
func OpenKV(path string) (*KV, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := leveldb.OpenFile(trimmed, nil)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return &KV{db: db}, nil
}

// Close releases the underlying database.
func (k *KV) Close() error {
	if k == nil || k.db == nil {
		return nil
	}
	return k.db.Close()
}

// KVGet decodes the stored value into out, reporting found=false for missing
// keys.
func (k *KV) KVGet(key []byte, out interface{}) (bool, error) {
	if k == nil || k.db == nil {
		return false, fmt.Errorf("state db not configured")
	}
	raw, err := k.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get %q: %w", key, err)
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut encodes and stores the value under key.
func (k *KV) KVPut(key []byte, value interface{}) error {
	if k == nil || k.db == nil {
		return fmt.Errorf("state db not configured")
	}
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if err := k.db.Put(key, raw, nil); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// KVDelete removes the key. Deleting a missing key is not an error.
func (k *KV) KVDelete(key []byte) error {
	if k == nil || k.db == nil {
		return fmt.Errorf("state db not configured")
	}
	if err := k.db.Delete(key, nil); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}
