package storage

// Storage is an interface for a generic blobstore.  Keys enumerates
// stored keys sharing a prefix, which recovery uses to rebuild
// in-memory caches from durable state.
type Storage interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
	Del([]byte) error
	Keys([]byte) ([][]byte, error)

	Close() error
}
