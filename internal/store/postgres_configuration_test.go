// File: product-configurator-service/internal/store/postgres_configuration_test.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"product-configurator-service/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configurationColumnNames = []string{
	"id", "category_id", "customer_ref", "status", "base_price", "total_price", "total_weight",
	"derived_technical_data", "created_at", "updated_at",
}

func TestPostgresStore_CreateConfiguration(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now().Truncate(time.Millisecond)
	cfgToCreate := &domain.Configuration{
		CategoryID:  7,
		CustomerRef: "cust-001",
		Status:      domain.StatusDraft,
		BasePrice:   decimal.NewFromFloat(100.00),
	}

	expectedID := int64(1)

	query := regexp.QuoteMeta(`
		INSERT INTO configurator.configurations
			(category_id, customer_ref, status, base_price, total_price, total_weight, derived_technical_data)
		VALUES ($1, $2, $3, $4, $4, 0, $5)
		RETURNING ` + configurationColumns + `;`)

	// total_price starts at base_price: with no selections the two are equal.
	rows := sqlmock.NewRows(configurationColumnNames).
		AddRow(expectedID, cfgToCreate.CategoryID, cfgToCreate.CustomerRef, string(domain.StatusDraft),
			"100.00", "100.00", "0", nil, now, now)

	mock.ExpectQuery(query).
		WithArgs(cfgToCreate.CategoryID, cfgToCreate.CustomerRef, string(domain.StatusDraft), cfgToCreate.BasePrice, []byte("null")).
		WillReturnRows(rows)

	created, err := store.CreateConfiguration(context.Background(), cfgToCreate)

	require.NoError(t, err, "CreateConfiguration should not return an error")
	require.NotNil(t, created)
	assert.Equal(t, expectedID, created.ID)
	assert.Equal(t, domain.StatusDraft, created.Status)
	assert.True(t, created.TotalPrice.Equal(created.BasePrice), "TotalPrice should start at BasePrice")
	assert.True(t, created.TotalWeight.IsZero())

	require.NoError(t, mock.ExpectationsWereMet(), "SQLmock expectations were not met")
}

func TestPostgresStore_GetConfigurationByID_NotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	configurationID := int64(99)
	query := regexp.QuoteMeta(`SELECT ` + configurationColumns + ` FROM configurator.configurations WHERE id = $1;`)

	mock.ExpectQuery(query).WithArgs(configurationID).WillReturnError(sql.ErrNoRows)

	cfg, err := store.GetConfigurationByID(context.Background(), configurationID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigurationNotFound), "Error should be ErrConfigurationNotFound")
	assert.Nil(t, cfg)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceSelections(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	configurationID := int64(1)
	selections := []domain.ConfigurationSelection{
		{
			AttributeNodeID:        40,
			StringValue:            PtrTo("aluminum"),
			CalculatedPriceImpact:  decimal.NewFromInt(50),
			CalculatedWeightImpact: decimal.NewFromFloat(2.5),
			SelectionPath:          "12.40",
		},
		{
			AttributeNodeID:        41,
			NumericValue:           PtrTo(decimal.NewFromInt(1200)),
			CalculatedPriceImpact:  decimal.NewFromInt(10),
			CalculatedWeightImpact: decimal.Zero,
			SelectionPath:          "12.41",
		},
	}
	totalPrice := decimal.NewFromFloat(160.00)
	totalWeight := decimal.NewFromFloat(2.5)

	lockQuery := regexp.QuoteMeta(`SELECT id FROM configurator.configurations WHERE id = $1 FOR UPDATE;`)
	deleteQuery := regexp.QuoteMeta(`DELETE FROM configurator.configuration_selections WHERE configuration_id = $1;`)
	insertQuery := regexp.QuoteMeta(`
		INSERT INTO configurator.configuration_selections
			(configuration_id, attribute_node_id, string_value, numeric_value, boolean_value, structured_value,
			 calculated_price_impact, calculated_weight_impact, selection_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`)
	totalsQuery := regexp.QuoteMeta(`
		UPDATE configurator.configurations
		SET total_price = $1, total_weight = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3;
	`)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WithArgs(configurationID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(configurationID))
	mock.ExpectExec(deleteQuery).WithArgs(configurationID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertQuery).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insertQuery).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(totalsQuery).WithArgs(totalPrice, totalWeight, configurationID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.ReplaceSelections(context.Background(), configurationID, selections, totalPrice, totalWeight)

	require.NoError(t, err, "ReplaceSelections should not return an error")
	require.NoError(t, mock.ExpectationsWereMet(), "SQLmock expectations were not met")
}

func TestPostgresStore_ReplaceSelections_ConfigurationNotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	configurationID := int64(99)
	lockQuery := regexp.QuoteMeta(`SELECT id FROM configurator.configurations WHERE id = $1 FOR UPDATE;`)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WithArgs(configurationID).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.ReplaceSelections(context.Background(), configurationID, nil, decimal.Zero, decimal.Zero)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigurationNotFound), "Error should be ErrConfigurationNotFound")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceSelections_DuplicateNode(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	configurationID := int64(1)
	selections := []domain.ConfigurationSelection{
		{AttributeNodeID: 40, StringValue: PtrTo("aluminum"), SelectionPath: "12.40"},
		{AttributeNodeID: 40, StringValue: PtrTo("wood"), SelectionPath: "12.40"},
	}

	lockQuery := regexp.QuoteMeta(`SELECT id FROM configurator.configurations WHERE id = $1 FOR UPDATE;`)
	deleteQuery := regexp.QuoteMeta(`DELETE FROM configurator.configuration_selections WHERE configuration_id = $1;`)
	insertQuery := regexp.QuoteMeta(`INSERT INTO configurator.configuration_selections`)

	pqErr := &pq.Error{Code: "23505", Constraint: "configuration_selections_configuration_id_attribute_node_id_key"}

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WithArgs(configurationID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(configurationID))
	mock.ExpectExec(deleteQuery).WithArgs(configurationID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertQuery).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insertQuery).WillReturnError(pqErr)
	mock.ExpectRollback()

	err := store.ReplaceSelections(context.Background(), configurationID, selections, decimal.Zero, decimal.Zero)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateSelection), "Error should be ErrDuplicateSelection")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_Forward(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now().Truncate(time.Millisecond)
	configurationID := int64(1)

	lockQuery := regexp.QuoteMeta(`SELECT status FROM configurator.configurations WHERE id = $1 FOR UPDATE;`)
	updateQuery := regexp.QuoteMeta(`
		UPDATE configurator.configurations
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
		RETURNING ` + configurationColumns + `;`)

	rows := sqlmock.NewRows(configurationColumnNames).
		AddRow(configurationID, int64(7), "cust-001", string(domain.StatusSaved), "100.00", "160.00", "2.5", nil, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WithArgs(configurationID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(domain.StatusDraft)))
	mock.ExpectQuery(updateQuery).
		WithArgs(string(domain.StatusSaved), configurationID).
		WillReturnRows(rows)
	mock.ExpectCommit()

	updated, err := store.UpdateStatus(context.Background(), configurationID, domain.StatusSaved)

	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, domain.StatusSaved, updated.Status)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_BackwardIsRejected(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	configurationID := int64(1)
	lockQuery := regexp.QuoteMeta(`SELECT status FROM configurator.configurations WHERE id = $1 FOR UPDATE;`)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WithArgs(configurationID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(domain.StatusQuoted)))
	mock.ExpectRollback()

	updated, err := store.UpdateStatus(context.Background(), configurationID, domain.StatusDraft)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStatusTransition), "Error should be ErrInvalidStatusTransition")
	assert.Nil(t, updated)

	require.NoError(t, mock.ExpectationsWereMet())
}
