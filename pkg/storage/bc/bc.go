package bc

import (
	"bytes"
	"errors"
	"io"
	"os"

	"git.mills.io/prologic/bitcask"
	"github.com/hashicorp/go-hclog"
	"github.com/klauspost/compress/zstd"

	"github.com/voidforge/foundry/pkg/storage"
)

// bcStore is the type that must satisfy storage.Storage
type bcStore struct {
	s *bitcask.Bitcask

	l hclog.Logger

	enc *zstd.Encoder
}

func init() {
	storage.RegisterCallback(newFactory)
}

func newFactory() {
	storage.RegisterFactory("bitcask", newBCStore)
}

func newBCStore(l hclog.Logger) (storage.Storage, error) {
	x := new(bcStore)
	x.l = l.Named("bitcask")

	p := os.Getenv("FOUNDRY_BITCASK_PATH")
	if p == "" {
		l.Error("FOUNDRY_BITCASK_PATH must be set")
		return nil, errors.New("required variable unset")
	}

	opts := []bitcask.Option{
		bitcask.WithMaxKeySize(1024),
		bitcask.WithMaxValueSize(1024 * 1000 * 32), // 32MiB
		bitcask.WithSync(true),
	}
	b, err := bitcask.Open(p, opts...)
	if err != nil {
		l.Error("Error initializing bitcask", "error", err)
		return nil, err
	}
	x.s = b

	// Group records hold every member job and compress very well,
	// so values are stored zstd compressed.
	x.enc, err = zstd.NewWriter(nil)
	if err != nil {
		l.Error("Error initializing compressor", "error", err)
		return nil, err
	}

	return x, nil
}

func (b *bcStore) Get(k []byte) ([]byte, error) {
	v, err := b.s.Get(k)
	switch err {
	case nil:
		return b.decompress(v)
	case bitcask.ErrKeyNotFound:
		return nil, nil
	default:
		return nil, err
	}
}

func (b *bcStore) Put(k, v []byte) error {
	return b.s.Put(k, b.enc.EncodeAll(v, nil))
}

func (b *bcStore) Del(k []byte) error {
	return b.s.Delete(k)
}

func (b *bcStore) Keys(prefix []byte) ([][]byte, error) {
	var out [][]byte
	err := b.s.Scan(prefix, func(k []byte) error {
		out = append(out, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *bcStore) Close() error {
	b.enc.Close()
	return b.s.Close()
}

func (b *bcStore) decompress(v []byte) ([]byte, error) {
	d, err := zstd.NewReader(bytes.NewReader(v))
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return io.ReadAll(d)
}
