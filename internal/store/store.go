// Key-value storage for fleet metadata
package store

import (
	"context"
)

// There are no array consts in go
var DefaultEtcdEndpoints = [...]string{"http://127.0.0.1:2379"}

// KVPair represents {Key, Value, Lastindex} tuple
type KVPair struct {
	Key       string
	Value     []byte
	LastIndex uint64
}

// Store is what the metadata layer needs from the backend. Get returns nil,
// nil if the key doesn't exist.
type Store interface {
	Get(ctx context.Context, key string) (*KVPair, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Connection info of the store
type StoreConnInfo struct {
	Endpoints string
	CAFile    string
	// client auth
	CertFile string // client's cert
	Key      string // client's private key
}
