package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// Repo — единый Store Gateway поверх Postgres: статусы, задачи,
// заявки HITL, уведомления, пользователи, аудит.
type Repo struct {
	db *sql.DB
}

// NewRepo открывает пул соединений. Доступность базы проверяется
// в main через Ping.
func NewRepo(connString string) (*Repo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Repo{db: db}, nil
}

// Ping проверяет доступность базы при старте
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repo) Close() error {
	return r.db.Close()
}
