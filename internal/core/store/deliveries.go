package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailrelay/mailrelay/internal/core"
)

// DefaultListLimit caps ListDeliveries when no limit is given.
const DefaultListLimit = 50

// DeliveryQuery filters ListDeliveries.
type DeliveryQuery struct {
	Limit    int
	Identity string
	Status   core.DeliveryStatus
}

func (q DeliveryQuery) whereClause() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if identity := strings.TrimSpace(q.Identity); identity != "" {
		clauses = append(clauses, "identity = ?")
		args = append(args, identity)
	}
	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(q.Status))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// RecordDelivery appends one send attempt to the delivery log.
func (s *Store) RecordDelivery(ctx context.Context, rec core.DeliveryRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO deliveries (request_id, identity, from_addr, to_addr, subject, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RequestID,
		rec.Identity,
		rec.From,
		rec.To,
		rec.Subject,
		string(rec.Status),
		errText,
		rec.Duration.Milliseconds(),
		createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns the most recent deliveries first.
func (s *Store) ListDeliveries(ctx context.Context, q DeliveryQuery) ([]core.DeliveryRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	where, args := q.whereClause()
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT request_id, identity, from_addr, to_addr, subject, status, error, duration_ms, created_at
		FROM deliveries
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []core.DeliveryRecord{}
	for rows.Next() {
		var (
			rec        core.DeliveryRecord
			status     string
			errText    sql.NullString
			durationMS int64
			createdAt  int64
		)
		if err := rows.Scan(&rec.RequestID, &rec.Identity, &rec.From, &rec.To, &rec.Subject,
			&status, &errText, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		rec.Status = core.DeliveryStatus(status)
		if errText.Valid {
			rec.Error = errText.String
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}

	return records, nil
}
