package chord

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/lmirzaei/chordkv/pkg"
)

// KeyStore holds the rows this node is responsible for, keyed by the
// full hex digest of the composite key. Rows stay where they were
// first stored: ownership is decided at write time and a later join
// does not move existing keys.
type KeyStore struct {
	store *pkg.Store
}

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{store: pkg.NewStore()}
}

// Put stores a row under its key digest, replacing any previous row.
func (ks *KeyStore) Put(ctx context.Context, keyID string, row []string) error {
	data, err := cbor.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}
	return ks.store.Set(ctx, keyID, data)
}

// Get retrieves a row by key digest. The second return value is false
// when the key has never been stored; that is a defined result, not an
// error.
func (ks *KeyStore) Get(ctx context.Context, keyID string) ([]string, bool, error) {
	data, err := ks.store.Get(ctx, keyID)
	if err != nil {
		if errors.Is(err, pkg.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var row []string
	if err := cbor.Unmarshal(data, &row); err != nil {
		return nil, false, fmt.Errorf("failed to decode row: %w", err)
	}
	return row, true, nil
}

// Len returns the number of stored rows.
func (ks *KeyStore) Len() int {
	return ks.store.Len()
}

// Stats returns the backing store's counters.
func (ks *KeyStore) Stats() pkg.StoreStats {
	return ks.store.Stats()
}

// Close shuts down the backing store.
func (ks *KeyStore) Close() error {
	return ks.store.Close()
}
