package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/soc-response-gateway/internal/audit"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// AuditRepo — best-effort зеркало журнала аудита. Первичное хранилище —
// append-only файл; сбои базы здесь не должны влиять на пайплайн.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("audit mirror: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WriteBatch пакетно вставляет записи журнала.
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_entries
	numFields := 11
	placeholderStr := ""
	vals := make([]interface{}, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		details, _ := json.Marshal(e.Details)

		vals = append(vals,
			e.EventID, e.TraceID, e.Timestamp, string(e.Action),
			e.Actor.ID, e.Actor.Name, e.Target, string(e.Outcome),
			details, e.Error, e.DurationMs,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO audit_entries (event_id, trace_id, timestamp, action, actor_id, actor_name, target, outcome, details, error, duration_ms) VALUES %s ON CONFLICT (event_id) DO NOTHING",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}
