package sq

import (
	"database/sql"
	"errors"
	"os"

	"github.com/hashicorp/go-hclog"
	_ "modernc.org/sqlite"

	"github.com/voidforge/foundry/pkg/storage"
)

// sqStore satisfies storage.Storage on top of a single-file sqlite
// database.  It exists for deployments that want durable state in a
// plain SQL file they can inspect with standard tools.
type sqStore struct {
	db *sql.DB

	l hclog.Logger
}

func init() {
	storage.RegisterCallback(newFactory)
}

func newFactory() {
	storage.RegisterFactory("sqlite", newSQStore)
}

func newSQStore(l hclog.Logger) (storage.Storage, error) {
	x := new(sqStore)
	x.l = l.Named("sqlite")

	p := os.Getenv("FOUNDRY_SQLITE_PATH")
	if p == "" {
		l.Error("FOUNDRY_SQLITE_PATH must be set")
		return nil, errors.New("required variable unset")
	}

	db, err := sql.Open("sqlite", "file:"+p)
	if err != nil {
		l.Error("Error opening sqlite", "error", err)
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (k BLOB PRIMARY KEY, v BLOB NOT NULL)`); err != nil {
		l.Error("Error initializing schema", "error", err)
		return nil, err
	}
	x.db = db

	return x, nil
}

func (s *sqStore) Get(k []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, k).Scan(&v)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	default:
		return nil, err
	}
}

func (s *sqStore) Put(k, v []byte) error {
	_, err := s.db.Exec(`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, k, v)
	return err
}

func (s *sqStore) Del(k []byte) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE k = ?`, k)
	return err
}

func (s *sqStore) Keys(prefix []byte) ([][]byte, error) {
	var rows *sql.Rows
	var err error
	if len(prefix) == 0 {
		rows, err = s.db.Query(`SELECT k FROM kv ORDER BY k`)
	} else {
		rows, err = s.db.Query(`SELECT k FROM kv WHERE k >= ? AND k < ? ORDER BY k`, prefix, prefixEnd(prefix))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var k []byte
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *sqStore) Close() error {
	return s.db.Close()
}

// prefixEnd computes the smallest key strictly greater than every key
// sharing the prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	// Prefix is all 0xff; no upper bound short of the keyspace end.
	return append(end, 0xff)
}
