package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"product-configurator-service/internal/domain"
)

const snapshotColumns = `id, quote_ref, configuration_id, base_price, total_price, total_weight,
		breakdown, technical_data, created_at`

func scanSnapshot(row rowScanner) (*domain.QuoteSnapshot, error) {
	var snap domain.QuoteSnapshot
	var breakdown, technicalData sql.NullString

	err := row.Scan(
		&snap.ID, &snap.QuoteRef, &snap.ConfigurationID, &snap.BasePrice, &snap.TotalPrice, &snap.TotalWeight,
		&breakdown, &technicalData, &snap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if breakdown.Valid && breakdown.String != "" && breakdown.String != "null" {
		if err := json.Unmarshal([]byte(breakdown.String), &snap.Breakdown); err != nil {
			return nil, fmt.Errorf("store: failed to decode snapshot breakdown: %w", err)
		}
	}
	if snap.Breakdown == nil {
		snap.Breakdown = []domain.BreakdownLine{}
	}
	if technicalData.Valid && technicalData.String != "" && technicalData.String != "null" {
		rawMsg := json.RawMessage(technicalData.String)
		snap.TechnicalData = &rawMsg
	}
	return &snap, nil
}

// --- SnapshotStorer Implementation ---

// CreateSnapshot freezes the configuration's current totals, a denormalized
// breakdown and the technical-data bag into a new immutable row. The
// configuration row is locked for the duration, so the snapshot reads a
// point-in-time view that cannot race a concurrent selection replacement.
// Node names are joined at quote time; a later rename or delete never touches
// the stored breakdown. Creating the snapshot also advances a draft or saved
// configuration to quoted; this is the only configuration mutation allowed.
func (s *PostgresStore) CreateSnapshot(ctx context.Context, configurationID int64) (*domain.QuoteSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: CreateSnapshot failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lockQuery := `SELECT ` + configurationColumns + ` FROM configurator.configurations WHERE id = $1 FOR UPDATE;`
	cfg, err := scanConfiguration(tx.QueryRowContext(ctx, lockQuery, configurationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConfigurationNotFound
		}
		return nil, fmt.Errorf("store: CreateSnapshot failed to lock configuration: %w", err)
	}

	breakdownQuery := `
		SELECT s.attribute_node_id, COALESCE(n.name, s.selection_path), s.selection_path,
			s.calculated_price_impact, s.calculated_weight_impact
		FROM configurator.configuration_selections s
		LEFT JOIN configurator.attribute_nodes n ON n.id = s.attribute_node_id
		WHERE s.configuration_id = $1
		ORDER BY s.selection_path;
	`
	rows, err := tx.QueryContext(ctx, breakdownQuery, configurationID)
	if err != nil {
		return nil, fmt.Errorf("store: CreateSnapshot failed to query breakdown: %w", err)
	}

	breakdown := []domain.BreakdownLine{}
	for rows.Next() {
		var line domain.BreakdownLine
		if err := rows.Scan(&line.NodeID, &line.NodeName, &line.SelectionPath, &line.PriceImpact, &line.WeightImpact); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: CreateSnapshot failed to scan breakdown row: %w", err)
		}
		breakdown = append(breakdown, line)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: CreateSnapshot breakdown iteration error: %w", err)
	}
	rows.Close()

	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return nil, fmt.Errorf("store: CreateSnapshot failed to encode breakdown: %w", err)
	}

	insertQuery := `
		INSERT INTO configurator.quote_snapshots
			(quote_ref, configuration_id, base_price, total_price, total_weight, breakdown, technical_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at;
	`
	snap := &domain.QuoteSnapshot{
		QuoteRef:        uuid.NewString(),
		ConfigurationID: configurationID,
		BasePrice:       cfg.BasePrice,
		TotalPrice:      cfg.TotalPrice,
		TotalWeight:     cfg.TotalWeight,
		Breakdown:       breakdown,
		TechnicalData:   cfg.DerivedTechnicalData,
	}
	err = tx.QueryRowContext(ctx, insertQuery,
		snap.QuoteRef, configurationID, cfg.BasePrice, cfg.TotalPrice, cfg.TotalWeight,
		breakdownJSON, nullableJSON(cfg.DerivedTechnicalData),
	).Scan(&snap.ID, &snap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: CreateSnapshot failed to insert snapshot: %w", err)
	}

	if cfg.Status == domain.StatusDraft || cfg.Status == domain.StatusSaved {
		statusQuery := `UPDATE configurator.configurations SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2;`
		if _, err := tx.ExecContext(ctx, statusQuery, domain.StatusQuoted, configurationID); err != nil {
			return nil, fmt.Errorf("store: CreateSnapshot failed to advance status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: CreateSnapshot failed to commit: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) GetSnapshotByID(ctx context.Context, id int64) (*domain.QuoteSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM configurator.quote_snapshots WHERE id = $1;`
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("store: GetSnapshotByID failed to scan row: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, configurationID int64) ([]domain.QuoteSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM configurator.quote_snapshots
		WHERE configuration_id = $1 ORDER BY created_at DESC, id DESC;`
	rows, err := s.db.QueryContext(ctx, query, configurationID)
	if err != nil {
		return nil, fmt.Errorf("store: ListSnapshots failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []domain.QuoteSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("store: ListSnapshots failed to scan row: %w", err)
		}
		snapshots = append(snapshots, *snap)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListSnapshots iteration error: %w", err)
	}
	return snapshots, nil
}
