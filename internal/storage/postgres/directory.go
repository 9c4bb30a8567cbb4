// Package postgres resolves users, chat participants and push tokens from the
// relational chat schema.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinywideclouds/go-chat-notifier/pkg/push"
)

const (
	displayNameQuery = `SELECT COALESCE(name, '') FROM users WHERE id = $1`

	chatRecipientsQuery = `
		SELECT cp.user_id, COALESCE(u.fcm_token, '')
		FROM chat_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.chat_id = $1 AND cp.user_id <> $2`

	pushTokenQuery = `SELECT COALESCE(fcm_token, '') FROM user_profiles WHERE id = $1`
)

// Querier is the part of pgxpool.Pool the directory uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Directory struct {
	db Querier
}

func NewDirectory(db Querier) *Directory {
	return &Directory{db: db}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return pool, nil
}

func (d *Directory) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	var name string
	err := d.db.QueryRow(ctx, displayNameQuery, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("users lookup failed: %w", err)
	}
	return name, true, nil
}

func (d *Directory) ChatRecipients(ctx context.Context, chatID, excludeUserID string) ([]push.Recipient, error) {
	rows, err := d.db.Query(ctx, chatRecipientsQuery, chatID, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("chat_participants query failed: %w", err)
	}

	recipients, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (push.Recipient, error) {
		var r push.Recipient
		err := row.Scan(&r.UserID, &r.PushToken)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("chat_participants scan failed: %w", err)
	}
	return recipients, nil
}

func (d *Directory) PushToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := d.db.QueryRow(ctx, pushTokenQuery, userID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("user_profiles lookup failed: %w", err)
	}
	return token, nil
}
