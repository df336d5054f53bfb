package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

const covenantCols = `id, contract_id, covenant_name, covenant_type, metric_name, operator,
	threshold_value, threshold_unit, check_frequency, covenant_clause, needs_review,
	extraction_confidence, created_at, updated_at`

// UpsertCovenant inserts c or replaces the stored copy with the same id.
func (s *Storage) UpsertCovenant(ctx context.Context, c models.Covenant) error {
	if c.ID == "" {
		return fmt.Errorf("storage: covenant id is required")
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO covenants (`+covenantCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			contract_id=excluded.contract_id, covenant_name=excluded.covenant_name,
			covenant_type=excluded.covenant_type, metric_name=excluded.metric_name,
			operator=excluded.operator, threshold_value=excluded.threshold_value,
			threshold_unit=excluded.threshold_unit, check_frequency=excluded.check_frequency,
			covenant_clause=excluded.covenant_clause, needs_review=excluded.needs_review,
			extraction_confidence=excluded.extraction_confidence, updated_at=excluded.updated_at`,
		c.ID, c.ContractID, c.CovenantName, string(c.CovenantType), c.MetricName, string(c.Operator),
		c.ThresholdValue, c.ThresholdUnit, string(c.CheckFrequency), c.CovenantClause,
		boolInt(c.NeedsReview), float64(c.ExtractionConfidence),
		unixNano(c.CreatedAt), unixNano(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert covenant %s: %w", c.ID, err)
	}
	return nil
}

// GetCovenant returns the covenant with the given id.
func (s *Storage) GetCovenant(ctx context.Context, id string) (models.Covenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+covenantCols+` FROM covenants WHERE id = ?`, id)
	c, err := scanCovenant(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Covenant{}, fmt.Errorf("covenant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Covenant{}, fmt.Errorf("storage: get covenant: %w", err)
	}
	return c, nil
}

// ListCovenants returns covenants for contractID, or all covenants when it is empty.
func (s *Storage) ListCovenants(ctx context.Context, contractID string) ([]models.Covenant, error) {
	query := `SELECT ` + covenantCols + ` FROM covenants`
	var args []any
	if contractID != "" {
		query += ` WHERE contract_id = ?`
		args = append(args, contractID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query covenants: %w", err)
	}
	defer rows.Close()

	out := []models.Covenant{}
	for rows.Next() {
		c, err := scanCovenant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan covenant: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCovenant removes a covenant and, by cascade, its health and history.
func (s *Storage) DeleteCovenant(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM covenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete covenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("covenant %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanCovenant(scan func(dest ...any) error) (models.Covenant, error) {
	var (
		c                   models.Covenant
		typ, op, freq       string
		needsReview         int
		confidence          float64
		createdAt, updateAt int64
	)
	err := scan(&c.ID, &c.ContractID, &c.CovenantName, &typ, &c.MetricName, &op,
		&c.ThresholdValue, &c.ThresholdUnit, &freq, &c.CovenantClause, &needsReview,
		&confidence, &createdAt, &updateAt)
	if err != nil {
		return models.Covenant{}, err
	}
	c.CovenantType = models.CovenantType(typ)
	c.Operator = models.Operator(op)
	c.CheckFrequency = models.Frequency(freq)
	c.NeedsReview = needsReview != 0
	c.ExtractionConfidence = models.Confidence(confidence)
	c.CreatedAt = fromUnixNano(createdAt)
	c.UpdatedAt = fromUnixNano(updateAt)
	return c, nil
}

// --- health snapshots ---

const healthCols = `covenant_id, last_reported_value, status, buffer_percentage, trend,
	days_to_breach, ai_narrative, insufficient_data, computed_at`

// SaveHealth stores h as the current snapshot for its covenant and returns
// the snapshot it superseded, if any.
func (s *Storage) SaveHealth(ctx context.Context, h models.CovenantHealth) (*models.CovenantHealth, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var prev *models.CovenantHealth
	row := tx.QueryRowContext(ctx, `SELECT `+healthCols+` FROM covenant_health WHERE covenant_id = ?`, h.CovenantID)
	if p, err := scanHealth(row.Scan); err == nil {
		prev = &p
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage: read health: %w", err)
	}

	if h.ComputedAt.IsZero() {
		h.ComputedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO covenant_health (`+healthCols+`)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(covenant_id) DO UPDATE SET
			last_reported_value=excluded.last_reported_value, status=excluded.status,
			buffer_percentage=excluded.buffer_percentage, trend=excluded.trend,
			days_to_breach=excluded.days_to_breach, ai_narrative=excluded.ai_narrative,
			insufficient_data=excluded.insufficient_data, computed_at=excluded.computed_at`,
		h.CovenantID, nullFloat(h.LastReportedValue), string(h.Status), nullFloat(h.BufferPercentage),
		string(h.Trend), nullInt(h.DaysToBreach), h.AINarrative, boolInt(h.InsufficientData),
		unixNano(h.ComputedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: save health %s: %w", h.CovenantID, err)
	}
	return prev, tx.Commit()
}

// LatestHealth returns the current snapshot for a covenant.
func (s *Storage) LatestHealth(ctx context.Context, covenantID string) (models.CovenantHealth, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+healthCols+` FROM covenant_health WHERE covenant_id = ?`, covenantID)
	h, err := scanHealth(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CovenantHealth{}, fmt.Errorf("health for %s: %w", covenantID, ErrNotFound)
	}
	if err != nil {
		return models.CovenantHealth{}, fmt.Errorf("storage: get health: %w", err)
	}
	return h, nil
}

// ListHealth returns the current snapshots for every covenant of contractID.
func (s *Storage) ListHealth(ctx context.Context, contractID string) ([]models.CovenantHealth, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.covenant_id, h.last_reported_value, h.status, h.buffer_percentage, h.trend,
			h.days_to_breach, h.ai_narrative, h.insufficient_data, h.computed_at
		FROM covenant_health h JOIN covenants c ON c.id = h.covenant_id
		WHERE c.contract_id = ?
		ORDER BY c.created_at, c.id`, contractID)
	if err != nil {
		return nil, fmt.Errorf("storage: query health: %w", err)
	}
	defer rows.Close()

	out := []models.CovenantHealth{}
	for rows.Next() {
		h, err := scanHealth(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan health: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanHealth(scan func(dest ...any) error) (models.CovenantHealth, error) {
	var (
		h             models.CovenantHealth
		value, buffer sql.NullFloat64
		days          sql.NullInt64
		status, trend string
		insufficient  int
		computedAt    int64
	)
	if err := scan(&h.CovenantID, &value, &status, &buffer, &trend, &days, &h.AINarrative, &insufficient, &computedAt); err != nil {
		return models.CovenantHealth{}, err
	}
	h.LastReportedValue = floatPtr(value)
	h.Status = models.HealthStatus(status)
	h.BufferPercentage = floatPtr(buffer)
	h.Trend = models.Trend(trend)
	h.DaysToBreach = intPtr(days)
	h.InsufficientData = insufficient != 0
	h.ComputedAt = fromUnixNano(computedAt)
	return h, nil
}

// --- metric history ---

// AddMetricPoint records a reported value. A second value at the same
// instant replaces the first.
func (s *Storage) AddMetricPoint(ctx context.Context, covenantID string, p models.MetricPoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_history (covenant_id, observed_at, value) VALUES (?, ?, ?)
		ON CONFLICT(covenant_id, observed_at) DO UPDATE SET value = excluded.value`,
		covenantID, p.ObservedAt.UnixNano(), p.Value)
	if err != nil {
		return fmt.Errorf("storage: add metric point: %w", err)
	}
	return nil
}

// MetricHistory returns up to limit most recent points in chronological
// order. limit <= 0 returns everything.
func (s *Storage) MetricHistory(ctx context.Context, covenantID string, limit int) ([]models.MetricPoint, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT observed_at, value FROM (
			SELECT observed_at, value FROM metric_history
			WHERE covenant_id = ? ORDER BY observed_at DESC LIMIT ?
		) ORDER BY observed_at ASC`, covenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query history: %w", err)
	}
	defer rows.Close()

	out := []models.MetricPoint{}
	for rows.Next() {
		var at int64
		var p models.MetricPoint
		if err := rows.Scan(&at, &p.Value); err != nil {
			return nil, fmt.Errorf("storage: scan history: %w", err)
		}
		p.ObservedAt = time.Unix(0, at).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
