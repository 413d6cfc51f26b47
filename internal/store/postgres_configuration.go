package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"product-configurator-service/internal/domain"
)

const configurationColumns = `id, category_id, customer_ref, status, base_price, total_price, total_weight,
		derived_technical_data, created_at, updated_at`

func scanConfiguration(row rowScanner) (*domain.Configuration, error) {
	var c domain.Configuration
	var technicalData sql.NullString

	err := row.Scan(
		&c.ID, &c.CategoryID, &c.CustomerRef, &c.Status, &c.BasePrice, &c.TotalPrice, &c.TotalWeight,
		&technicalData, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if technicalData.Valid && technicalData.String != "" && technicalData.String != "null" {
		rawMsg := json.RawMessage(technicalData.String)
		c.DerivedTechnicalData = &rawMsg
	}
	return &c, nil
}

// --- ConfigurationStorer Implementation ---

func (s *PostgresStore) CreateConfiguration(ctx context.Context, cfg *domain.Configuration) (*domain.Configuration, error) {
	query := `
		INSERT INTO configurator.configurations
			(category_id, customer_ref, status, base_price, total_price, total_weight, derived_technical_data)
		VALUES ($1, $2, $3, $4, $4, 0, $5)
		RETURNING ` + configurationColumns + `;`

	status := cfg.Status
	if status == "" {
		status = domain.StatusDraft
	}
	created, err := scanConfiguration(s.db.QueryRowContext(ctx, query,
		cfg.CategoryID, cfg.CustomerRef, status, cfg.BasePrice, nullableJSON(cfg.DerivedTechnicalData),
	))
	if err != nil {
		return nil, fmt.Errorf("store: CreateConfiguration failed to scan row: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetConfigurationByID(ctx context.Context, id int64) (*domain.Configuration, error) {
	query := `SELECT ` + configurationColumns + ` FROM configurator.configurations WHERE id = $1;`
	cfg, err := scanConfiguration(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConfigurationNotFound
		}
		return nil, fmt.Errorf("store: GetConfigurationByID failed to scan row: %w", err)
	}
	return cfg, nil
}

const selectionColumns = `id, configuration_id, attribute_node_id, string_value, numeric_value, boolean_value,
		structured_value, calculated_price_impact, calculated_weight_impact, selection_path, created_at`

func scanSelection(row rowScanner) (*domain.ConfigurationSelection, error) {
	var sel domain.ConfigurationSelection
	var numericValue decimal.NullDecimal
	var structuredValue sql.NullString

	err := row.Scan(
		&sel.ID, &sel.ConfigurationID, &sel.AttributeNodeID, &sel.StringValue, &numericValue, &sel.BooleanValue,
		&structuredValue, &sel.CalculatedPriceImpact, &sel.CalculatedWeightImpact, &sel.SelectionPath, &sel.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if numericValue.Valid {
		v := numericValue.Decimal
		sel.NumericValue = &v
	}
	if structuredValue.Valid && structuredValue.String != "" && structuredValue.String != "null" {
		rawMsg := json.RawMessage(structuredValue.String)
		sel.StructuredValue = &rawMsg
	}
	return &sel, nil
}

func (s *PostgresStore) GetSelections(ctx context.Context, configurationID int64) ([]domain.ConfigurationSelection, error) {
	query := `SELECT ` + selectionColumns + ` FROM configurator.configuration_selections
		WHERE configuration_id = $1 ORDER BY selection_path;`
	rows, err := s.db.QueryContext(ctx, query, configurationID)
	if err != nil {
		return nil, fmt.Errorf("store: GetSelections failed to query selections: %w", err)
	}
	defer rows.Close()

	selections := []domain.ConfigurationSelection{}
	for rows.Next() {
		sel, err := scanSelection(rows)
		if err != nil {
			return nil, fmt.Errorf("store: GetSelections failed to scan row: %w", err)
		}
		selections = append(selections, *sel)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: GetSelections iteration error: %w", err)
	}
	return selections, nil
}

// ReplaceSelections swaps a configuration's entire selection set and persists
// the recomputed totals as one atomic unit: lock the configuration row,
// delete all selections, insert the new set, update the totals. Holding the
// row lock serializes concurrent replacements on the same configuration so a
// second writer waits instead of interleaving two half-written sets.
func (s *PostgresStore) ReplaceSelections(ctx context.Context, configurationID int64, selections []domain.ConfigurationSelection, totalPrice, totalWeight decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: ReplaceSelections failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lockedID int64
	lockQuery := `SELECT id FROM configurator.configurations WHERE id = $1 FOR UPDATE;`
	if err := tx.QueryRowContext(ctx, lockQuery, configurationID).Scan(&lockedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConfigurationNotFound
		}
		return fmt.Errorf("store: ReplaceSelections failed to lock configuration: %w", err)
	}

	deleteQuery := `DELETE FROM configurator.configuration_selections WHERE configuration_id = $1;`
	if _, err := tx.ExecContext(ctx, deleteQuery, configurationID); err != nil {
		return fmt.Errorf("store: ReplaceSelections failed to delete selections: %w", err)
	}

	insertQuery := `
		INSERT INTO configurator.configuration_selections
			(configuration_id, attribute_node_id, string_value, numeric_value, boolean_value, structured_value,
			 calculated_price_impact, calculated_weight_impact, selection_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	for _, sel := range selections {
		_, err := tx.ExecContext(ctx, insertQuery,
			configurationID, sel.AttributeNodeID, sel.StringValue,
			decimal.NullDecimal{Decimal: derefDecimal(sel.NumericValue), Valid: sel.NumericValue != nil},
			sel.BooleanValue, nullableJSON(sel.StructuredValue),
			sel.CalculatedPriceImpact, sel.CalculatedWeightImpact, sel.SelectionPath,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" { // Unique violation on (configuration_id, attribute_node_id)
				return ErrDuplicateSelection
			}
			return fmt.Errorf("store: ReplaceSelections failed to insert selection for node %d: %w", sel.AttributeNodeID, err)
		}
	}

	totalsQuery := `
		UPDATE configurator.configurations
		SET total_price = $1, total_weight = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3;
	`
	if _, err := tx.ExecContext(ctx, totalsQuery, totalPrice, totalWeight, configurationID); err != nil {
		return fmt.Errorf("store: ReplaceSelections failed to update totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: ReplaceSelections failed to commit: %w", err)
	}
	return nil
}

// UpdateStatus advances the configuration's status. The row is locked while
// the current status is checked so the forward-only state machine holds under
// concurrent updates.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status domain.ConfigurationStatus) (*domain.Configuration, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: UpdateStatus failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current domain.ConfigurationStatus
	lockQuery := `SELECT status FROM configurator.configurations WHERE id = $1 FOR UPDATE;`
	if err := tx.QueryRowContext(ctx, lockQuery, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConfigurationNotFound
		}
		return nil, fmt.Errorf("store: UpdateStatus failed to lock configuration: %w", err)
	}
	if !current.CanAdvanceTo(status) {
		return nil, ErrInvalidStatusTransition
	}

	updateQuery := `
		UPDATE configurator.configurations
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
		RETURNING ` + configurationColumns + `;`
	updated, err := scanConfiguration(tx.QueryRowContext(ctx, updateQuery, status, id))
	if err != nil {
		return nil, fmt.Errorf("store: UpdateStatus failed to scan row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: UpdateStatus failed to commit: %w", err)
	}
	return updated, nil
}
