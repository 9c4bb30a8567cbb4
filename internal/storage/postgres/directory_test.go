package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-chat-notifier/internal/storage/postgres"
	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

// --- Fakes ---

type fakeRow struct {
	values []string
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: want %d dest, got %d", len(r.values), len(dest))
	}
	for i, v := range r.values {
		*(dest[i].(*string)) = v
	}
	return nil
}

type fakeRows struct {
	data [][]string
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return fakeRow{values: r.data[r.pos-1]}.Scan(dest...)
}

type fakeQuerier struct {
	lastSQL  string
	lastArgs []any
	row      fakeRow
	rows     *fakeRows
	queryErr error
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.lastSQL, q.lastArgs = sql, args
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	return q.rows, nil
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.lastSQL, q.lastArgs = sql, args
	return q.row
}

// --- Tests ---

func TestDirectory_DisplayName(t *testing.T) {
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		q := &fakeQuerier{row: fakeRow{values: []string{"Alice"}}}
		name, found, err := postgres.NewDirectory(q).DisplayName(ctx, "s1")

		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "Alice", name)
		assert.Equal(t, []any{"s1"}, q.lastArgs)
		assert.Contains(t, q.lastSQL, "FROM users")
	})

	t.Run("No rows is not an error", func(t *testing.T) {
		q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
		_, found, err := postgres.NewDirectory(q).DisplayName(ctx, "s1")

		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Driver failure is wrapped", func(t *testing.T) {
		q := &fakeQuerier{row: fakeRow{err: errors.New("conn reset")}}
		_, _, err := postgres.NewDirectory(q).DisplayName(ctx, "s1")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "conn reset")
	})
}

func TestDirectory_ChatRecipients(t *testing.T) {
	ctx := context.Background()

	t.Run("Collects participants with tokens", func(t *testing.T) {
		q := &fakeQuerier{rows: &fakeRows{data: [][]string{{"u1", "T1"}, {"u2", ""}}}}
		recipients, err := postgres.NewDirectory(q).ChatRecipients(ctx, "c1", "s1")

		require.NoError(t, err)
		assert.Equal(t, []push.Recipient{{UserID: "u1", PushToken: "T1"}, {UserID: "u2"}}, recipients)
		assert.Equal(t, []any{"c1", "s1"}, q.lastArgs)
		assert.Contains(t, q.lastSQL, "cp.user_id <> $2")
	})

	t.Run("Query failure", func(t *testing.T) {
		q := &fakeQuerier{queryErr: errors.New("relation \"chat_participants\" does not exist")}
		_, err := postgres.NewDirectory(q).ChatRecipients(ctx, "c1", "s1")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "chat_participants")
	})

	t.Run("Iteration failure", func(t *testing.T) {
		q := &fakeQuerier{rows: &fakeRows{err: errors.New("broken pipe")}}
		_, err := postgres.NewDirectory(q).ChatRecipients(ctx, "c1", "s1")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken pipe")
	})
}

func TestDirectory_PushToken(t *testing.T) {
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		q := &fakeQuerier{row: fakeRow{values: []string{"T-r1"}}}
		token, err := postgres.NewDirectory(q).PushToken(ctx, "r1")

		require.NoError(t, err)
		assert.Equal(t, "T-r1", token)
		assert.Contains(t, q.lastSQL, "FROM user_profiles")
	})

	t.Run("Missing profile yields empty token", func(t *testing.T) {
		q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
		token, err := postgres.NewDirectory(q).PushToken(ctx, "r1")

		require.NoError(t, err)
		assert.Empty(t, token)
	})
}
