// Package sqlite provides SQLite-backed persistence for share links.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/platform/storage/sqlitemigrate"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/share"
	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for condition-timer share links.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a timers SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
}

// PutShare persists one share link row.
func (s *Store) PutShare(ctx context.Context, link share.ShareLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	token := strings.TrimSpace(link.Token)
	if token == "" {
		return fmt.Errorf("share token is required")
	}

	snapshot, err := json.Marshal(link.ConsentSnapshot)
	if err != nil {
		return fmt.Errorf("marshal consent snapshot: %w", err)
	}
	var expiresAt any
	if link.ExpiresAt != nil {
		expiresAt = toMillis(*link.ExpiresAt)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO condition_timer_shares (token, group_id, created_by, created_at, expires_at, visibility, consent_snapshot, access_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, token, link.GroupID, link.CreatedBy, toMillis(link.CreatedAt), expiresAt, string(link.Visibility), string(snapshot), link.AccessCount)
	if err != nil {
		return fmt.Errorf("put share: %w", err)
	}
	return nil
}

// GetShare loads one share link by token.
func (s *Store) GetShare(ctx context.Context, token string) (share.ShareLink, error) {
	if err := ctx.Err(); err != nil {
		return share.ShareLink{}, err
	}
	if s == nil || s.sqlDB == nil {
		return share.ShareLink{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT token, group_id, created_by, created_at, expires_at, visibility, consent_snapshot, access_count
FROM condition_timer_shares
WHERE token = ?
`, strings.TrimSpace(token))
	link, err := scanShare(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return share.ShareLink{}, share.ErrNotFound
		}
		return share.ShareLink{}, fmt.Errorf("get share: %w", err)
	}
	return link, nil
}

// UpdateShareExpiry rewrites one share link's expiry.
func (s *Store) UpdateShareExpiry(ctx context.Context, token string, expiresAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	var value any
	if expiresAt != nil {
		value = toMillis(*expiresAt)
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE condition_timer_shares SET expires_at = ? WHERE token = ?
`, value, strings.TrimSpace(token))
	if err != nil {
		return fmt.Errorf("update share expiry: %w", err)
	}
	return requireRow(result)
}

// IncrementShareAccess bumps one share link's access counter.
func (s *Store) IncrementShareAccess(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE condition_timer_shares SET access_count = access_count + 1 WHERE token = ?
`, strings.TrimSpace(token))
	if err != nil {
		return fmt.Errorf("increment share access: %w", err)
	}
	return requireRow(result)
}

// DeleteShare removes one share link.
func (s *Store) DeleteShare(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM condition_timer_shares WHERE token = ?
`, strings.TrimSpace(token))
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return requireRow(result)
}

// ListSharesByGroup lists one group's share links newest first.
func (s *Store) ListSharesByGroup(ctx context.Context, groupID string) ([]share.ShareLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT token, group_id, created_by, created_at, expires_at, visibility, consent_snapshot, access_count
FROM condition_timer_shares
WHERE group_id = ?
ORDER BY created_at DESC, token DESC
`, strings.TrimSpace(groupID))
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var links []share.ShareLink
	for rows.Next() {
		link, scanErr := scanShare(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan share: %w", scanErr)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return links, nil
}

func scanShare(scan func(dest ...any) error) (share.ShareLink, error) {
	var (
		link      share.ShareLink
		createdAt int64
		expiresAt sql.NullInt64
		snapshot  string
		mode      string
	)
	if err := scan(&link.Token, &link.GroupID, &link.CreatedBy, &createdAt, &expiresAt, &mode, &snapshot, &link.AccessCount); err != nil {
		return share.ShareLink{}, err
	}
	link.CreatedAt = fromMillis(createdAt)
	if expiresAt.Valid {
		at := fromMillis(expiresAt.Int64)
		link.ExpiresAt = &at
	}
	link.Visibility = share.VisibilityMode(mode)
	if err := json.Unmarshal([]byte(snapshot), &link.ConsentSnapshot); err != nil {
		return share.ShareLink{}, fmt.Errorf("unmarshal consent snapshot: %w", err)
	}
	return link, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return share.ErrNotFound
	}
	return nil
}
