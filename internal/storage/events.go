package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// AddEvent stores an adverse event. Events are immutable: an event whose id,
// or whose borrower and URL, is already stored is ignored and added is false.
func (s *Storage) AddEvent(ctx context.Context, e models.AdverseEvent) (added bool, err error) {
	if e.ID == "" {
		return false, fmt.Errorf("storage: event id is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO adverse_events
			(id, borrower_id, event_type, title, description, source, url, risk_score, event_date, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.BorrowerID, string(e.EventType), e.Title, e.Description, e.Source, e.URL,
		e.RiskScore, e.EventDate.UnixNano(), e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("storage: add event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListEvents returns a borrower's events dated at or after since, most
// recent first. A zero since returns all of them.
func (s *Storage) ListEvents(ctx context.Context, borrowerID string, since time.Time) ([]models.AdverseEvent, error) {
	var sinceNano int64
	if !since.IsZero() {
		sinceNano = since.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, borrower_id, event_type, title, description, source, url, risk_score, event_date, created_at
		FROM adverse_events
		WHERE borrower_id = ? AND event_date >= ?
		ORDER BY event_date DESC, id`, borrowerID, sinceNano)
	if err != nil {
		return nil, fmt.Errorf("storage: query events: %w", err)
	}
	defer rows.Close()

	out := []models.AdverseEvent{}
	for rows.Next() {
		var (
			e                    models.AdverseEvent
			typ                  string
			eventDate, createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.BorrowerID, &typ, &e.Title, &e.Description, &e.Source, &e.URL,
			&e.RiskScore, &eventDate, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		e.EventType = models.EventType(typ)
		e.EventDate = time.Unix(0, eventDate).UTC()
		e.CreatedAt = fromUnixNano(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
