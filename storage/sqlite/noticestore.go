package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidNotice = errors.New("notice title is required")

// Notice é um aviso publicado no mural da faculdade.
type Notice struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Audience  string    `json:"audience"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NoticeStore implementa o mural sobre SQLite.
type NoticeStore struct {
	db  *DB
	now func() time.Time
}

func NewNoticeStore(db *DB) *NoticeStore {
	return &NoticeStore{db: db, now: time.Now}
}

// List devolve os avisos mais recentes primeiro.
func (s *NoticeStore) List(ctx context.Context, limit int) ([]Notice, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, body, audience, author_id, created_at
		FROM notices
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	defer rows.Close()

	out := make([]Notice, 0)
	for rows.Next() {
		var n Notice
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.Audience, &n.AuthorID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notice: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Create grava o aviso e devolve com id e created_at preenchidos.
func (s *NoticeStore) Create(ctx context.Context, n Notice) (Notice, error) {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return Notice{}, ErrInvalidNotice
	}
	if n.Audience == "" {
		n.Audience = "all"
	}
	n.CreatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notices (title, body, audience, author_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, n.Title, n.Body, n.Audience, n.AuthorID, n.CreatedAt)
	if err != nil {
		return Notice{}, fmt.Errorf("insert notice: %w", err)
	}
	n.ID, err = res.LastInsertId()
	if err != nil {
		return Notice{}, fmt.Errorf("insert notice id: %w", err)
	}
	return n, nil
}

// Ping é o health check do banco.
func (s *NoticeStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
