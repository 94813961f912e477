package session_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprate/internal/session"
)

type fakeRow struct {
	payload []byte
	err     error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.payload
	return nil
}

// fakeDB keeps rows in memory and understands the statements the store sends.
type fakeDB struct {
	rows    map[string][]byte
	execErr error
	execs   []string
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string][]byte)}
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, sql)
	if db.execErr != nil {
		return pgconn.CommandTag{}, db.execErr
	}
	switch {
	case strings.Contains(sql, "INSERT INTO"):
		db.rows[args[0].(string)+"/"+args[1].(string)] = args[2].([]byte)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "session_id = $1"):
		prefix := args[0].(string) + "/"
		for k := range db.rows {
			if strings.HasPrefix(k, prefix) {
				delete(db.rows, k)
			}
		}
		return pgconn.NewCommandTag("DELETE 1"), nil
	case strings.Contains(sql, "updated_at < $1"):
		return pgconn.NewCommandTag("DELETE 3"), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (db *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	payload, ok := db.rows[args[0].(string)+"/"+args[1].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{payload: payload}
}

func TestPostgresStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := session.NewPostgresStore(newFakeDB())

	require.NoError(t, store.Save(ctx, "sess-1", "rates/ground/abc", []byte(`[{"price":"10"}]`)))

	payload, ok, err := store.Load(ctx, "sess-1", "rates/ground/abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `[{"price":"10"}]`, string(payload))

	_, ok, err = store.Load(ctx, "sess-2", "rates/ground/abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := session.NewPostgresStore(newFakeDB())

	require.NoError(t, store.Save(ctx, "sess", "k", []byte("first")))
	require.NoError(t, store.Save(ctx, "sess", "k", []byte("second")))

	payload, ok, err := store.Load(ctx, "sess", "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(payload))
}

func TestPostgresStore_Drop(t *testing.T) {
	ctx := context.Background()
	store := session.NewPostgresStore(newFakeDB())

	require.NoError(t, store.Save(ctx, "sess", "a", []byte("1")))
	require.NoError(t, store.Drop(ctx, "sess"))

	_, ok, err := store.Load(ctx, "sess", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_Errors(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	db.execErr = errors.New("connection refused")
	store := session.NewPostgresStore(db)

	err := store.Save(ctx, "sess", "k", []byte("x"))
	assert.ErrorContains(t, err, "connection refused")
	assert.Error(t, store.Migrate(ctx))
}

func TestPostgresStore_Expire(t *testing.T) {
	db := newFakeDB()
	store := session.NewPostgresStore(db)

	n, err := store.Expire(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestNewPool_RequiresURL(t *testing.T) {
	_, err := session.NewPool(context.Background(), "")
	assert.Error(t, err)
}
