// Package postgres provides a Repository on a pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *pgxpool.Pool
}

var _ core.Repository = (*Store)(nil)

// Open connects to dsn, verifies the connection and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 8
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) AddMember(ctx context.Context, chat domain.ChatID, user domain.UserID, role domain.Role) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_members (chat_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, string(chat), string(user), string(role))
	if err != nil {
		return fmt.Errorf("postgres: add member: %w", err)
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, chat domain.ChatID, user domain.UserID) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2`, string(chat), string(user),
	); err != nil {
		return fmt.Errorf("postgres: remove member: %w", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, chat domain.ChatID, id domain.MessageID) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO messages (chat_id, id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, string(chat), int64(id),
	); err != nil {
		return fmt.Errorf("postgres: append message: %w", err)
	}
	return nil
}

func (s *Store) LoadUserChatIDs(ctx context.Context, user domain.UserID) ([]domain.ChatID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id FROM chat_members WHERE user_id = $1 ORDER BY chat_id`, string(user))
	if err != nil {
		return nil, fmt.Errorf("postgres: query user chats: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan user chats: %w", err)
	}
	out := make([]domain.ChatID, len(ids))
	for i, id := range ids {
		out[i] = domain.ChatID(id)
	}
	return out, nil
}

func (s *Store) LoadMembership(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.Membership, error) {
	m := domain.Membership{UserID: user, ChatID: chat}
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role, joined_at FROM chat_members WHERE chat_id = $1 AND user_id = $2`,
		string(chat), string(user),
	).Scan(&role, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: query membership: %w", err)
	}
	m.Role = domain.Role(role)
	return &m, nil
}

func (s *Store) LoadChatMemberIDs(ctx context.Context, chat domain.ChatID) ([]domain.UserID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY user_id`, string(chat))
	if err != nil {
		return nil, fmt.Errorf("postgres: query chat members: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan chat members: %w", err)
	}
	out := make([]domain.UserID, len(ids))
	for i, id := range ids {
		out[i] = domain.UserID(id)
	}
	return out, nil
}

func (s *Store) LoadNewestMessageID(ctx context.Context, chat domain.ChatID) (domain.MessageID, error) {
	var id int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM messages WHERE chat_id = $1`, string(chat),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: query newest message: %w", err)
	}
	return domain.MessageID(id), nil
}

func (s *Store) CountMessagesAfter(ctx context.Context, chat domain.ChatID, after domain.MessageID) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = $1 AND id > $2`, string(chat), int64(after),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count messages: %w", err)
	}
	return n, nil
}

func (s *Store) FirstMessageAfter(ctx context.Context, chat domain.ChatID, after domain.MessageID) (domain.MessageID, error) {
	var id int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MIN(id), 0) FROM messages WHERE chat_id = $1 AND id > $2`, string(chat), int64(after),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: query first message: %w", err)
	}
	return domain.MessageID(id), nil
}

func (s *Store) LoadReadCursor(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.ReadCursor, error) {
	c := domain.ReadCursor{UserID: user, ChatID: chat}
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_read_message_id, last_read_at FROM read_cursors WHERE user_id = $1 AND chat_id = $2`,
		string(user), string(chat),
	).Scan(&id, &c.LastReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: query read cursor: %w", err)
	}
	c.LastReadMessageID = domain.MessageID(id)
	c.LastReadAt = c.LastReadAt.UTC()
	return &c, nil
}

func (s *Store) PersistReadCursor(ctx context.Context, user domain.UserID, chat domain.ChatID, messageID domain.MessageID, at time.Time) (domain.ReadCursor, error) {
	c := domain.ReadCursor{UserID: user, ChatID: chat}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO read_cursors (user_id, chat_id, last_read_message_id, last_read_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET
		    last_read_at = CASE
		        WHEN EXCLUDED.last_read_message_id > read_cursors.last_read_message_id THEN EXCLUDED.last_read_at
		        ELSE read_cursors.last_read_at
		    END,
		    last_read_message_id = GREATEST(read_cursors.last_read_message_id, EXCLUDED.last_read_message_id)
		RETURNING last_read_message_id, last_read_at
	`, string(user), string(chat), int64(messageID), at.UTC()).Scan(&id, &c.LastReadAt)
	if err != nil {
		return domain.ReadCursor{}, fmt.Errorf("postgres: upsert read cursor: %w", err)
	}
	c.LastReadMessageID = domain.MessageID(id)
	c.LastReadAt = c.LastReadAt.UTC()
	return c, nil
}

func (s *Store) PersistLastOnline(ctx context.Context, user domain.UserID, at time.Time) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO user_presence (user_id, last_online_at) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_online_at = EXCLUDED.last_online_at
	`, string(user), at.UTC()); err != nil {
		return fmt.Errorf("postgres: upsert last online: %w", err)
	}
	return nil
}
