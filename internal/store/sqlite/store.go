// Package sqlite provides a SQLite-backed Repository.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/dkeye/Chat/internal/store/sqlite/migrations"
	_ "modernc.org/sqlite"
)

type Store struct {
	sqlDB *sql.DB
}

var _ core.Repository = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AddMember inserts or updates a membership. Membership is written by the
// CRUD service; this is for seeding and tests.
func (s *Store) AddMember(ctx context.Context, chat domain.ChatID, user domain.UserID, role domain.Role) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO chat_members (chat_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (chat_id, user_id) DO UPDATE SET role = excluded.role`,
		string(chat), string(user), string(role), toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, chat domain.ChatID, user domain.UserID) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM chat_members WHERE chat_id = ? AND user_id = ?`, string(chat), string(user),
	); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, chat domain.ChatID, id domain.MessageID) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (chat_id, id, created_at) VALUES (?, ?, ?)`,
		string(chat), int64(id), toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *Store) LoadUserChatIDs(ctx context.Context, user domain.UserID) ([]domain.ChatID, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT chat_id FROM chat_members WHERE user_id = ? ORDER BY chat_id`, string(user))
	if err != nil {
		return nil, fmt.Errorf("query user chats: %w", err)
	}
	defer rows.Close()
	var out []domain.ChatID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user chat: %w", err)
		}
		out = append(out, domain.ChatID(id))
	}
	return out, rows.Err()
}

func (s *Store) LoadMembership(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.Membership, error) {
	var (
		role     string
		joinedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT role, joined_at FROM chat_members WHERE chat_id = ? AND user_id = ?`,
		string(chat), string(user),
	).Scan(&role, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query membership: %w", err)
	}
	return &domain.Membership{UserID: user, ChatID: chat, Role: domain.Role(role), JoinedAt: fromMillis(joinedAt)}, nil
}

func (s *Store) LoadChatMemberIDs(ctx context.Context, chat domain.ChatID) ([]domain.UserID, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id FROM chat_members WHERE chat_id = ? ORDER BY user_id`, string(chat))
	if err != nil {
		return nil, fmt.Errorf("query chat members: %w", err)
	}
	defer rows.Close()
	var out []domain.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat member: %w", err)
		}
		out = append(out, domain.UserID(id))
	}
	return out, rows.Err()
}

func (s *Store) LoadNewestMessageID(ctx context.Context, chat domain.ChatID) (domain.MessageID, error) {
	var id int64
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM messages WHERE chat_id = ?`, string(chat),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("query newest message: %w", err)
	}
	return domain.MessageID(id), nil
}

func (s *Store) CountMessagesAfter(ctx context.Context, chat domain.ChatID, after domain.MessageID) (int64, error) {
	var n int64
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ? AND id > ?`, string(chat), int64(after),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *Store) FirstMessageAfter(ctx context.Context, chat domain.ChatID, after domain.MessageID) (domain.MessageID, error) {
	var id int64
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(MIN(id), 0) FROM messages WHERE chat_id = ? AND id > ?`, string(chat), int64(after),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("query first message: %w", err)
	}
	return domain.MessageID(id), nil
}

func (s *Store) LoadReadCursor(ctx context.Context, user domain.UserID, chat domain.ChatID) (*domain.ReadCursor, error) {
	var id, at int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT last_read_message_id, last_read_at FROM read_cursors WHERE user_id = ? AND chat_id = ?`,
		string(user), string(chat),
	).Scan(&id, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query read cursor: %w", err)
	}
	return &domain.ReadCursor{UserID: user, ChatID: chat, LastReadMessageID: domain.MessageID(id), LastReadAt: fromMillis(at)}, nil
}

// PersistReadCursor never lowers a stored cursor, whoever writes concurrently.
func (s *Store) PersistReadCursor(ctx context.Context, user domain.UserID, chat domain.ChatID, messageID domain.MessageID, at time.Time) (domain.ReadCursor, error) {
	var id, storedAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO read_cursors (user_id, chat_id, last_read_message_id, last_read_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, chat_id) DO UPDATE SET
		   last_read_at = CASE
		     WHEN excluded.last_read_message_id > read_cursors.last_read_message_id THEN excluded.last_read_at
		     ELSE read_cursors.last_read_at
		   END,
		   last_read_message_id = MAX(read_cursors.last_read_message_id, excluded.last_read_message_id)
		 RETURNING last_read_message_id, last_read_at`,
		string(user), string(chat), int64(messageID), toMillis(at),
	).Scan(&id, &storedAt)
	if err != nil {
		return domain.ReadCursor{}, fmt.Errorf("upsert read cursor: %w", err)
	}
	return domain.ReadCursor{UserID: user, ChatID: chat, LastReadMessageID: domain.MessageID(id), LastReadAt: fromMillis(storedAt)}, nil
}

func (s *Store) PersistLastOnline(ctx context.Context, user domain.UserID, at time.Time) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO user_presence (user_id, last_online_at) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET last_online_at = excluded.last_online_at`,
		string(user), toMillis(at),
	); err != nil {
		return fmt.Errorf("upsert last online: %w", err)
	}
	return nil
}

// LastOnline returns the stored last-online stamp of user.
func (s *Store) LastOnline(ctx context.Context, user domain.UserID) (time.Time, bool, error) {
	var at int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT last_online_at FROM user_presence WHERE user_id = ?`, string(user)).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last online: %w", err)
	}
	return fromMillis(at), true, nil
}
