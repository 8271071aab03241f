package team

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/ledger/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type ledgerRow struct {
	ID     uint
	TeamID string
}

func newMockDB(t *testing.T, required bool) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, EnableAutoTeamFilter(db, required))
	return db, mock
}

func teamContext(teamID string) context.Context {
	ctx, _ := logger.WithTeamID(context.Background(), zap.NewNop(), teamID)
	return ctx
}

func TestScope(t *testing.T) {
	db, mock := newMockDB(t, false)
	teamID := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "ledger_rows" WHERE team_id = \$1`).
		WithArgs(teamID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id"}).AddRow(1, teamID.String()))

	var rows []ledgerRow
	require.NoError(t, db.WithContext(context.Background()).Scopes(Scope(teamID)).Find(&rows).Error)
	assert.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_AddsTeamFromContext(t *testing.T) {
	db, mock := newMockDB(t, true)
	teamID := uuid.New().String()

	mock.ExpectQuery(`SELECT \* FROM "ledger_rows" WHERE "ledger_rows"."team_id" = \$1`).
		WithArgs(teamID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id"}))

	var rows []ledgerRow
	require.NoError(t, db.WithContext(teamContext(teamID)).Find(&rows).Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_KeepsExplicitScope(t *testing.T) {
	db, mock := newMockDB(t, true)
	explicit := uuid.New()

	mock.ExpectQuery(`SELECT \* FROM "ledger_rows" WHERE team_id = \$1$`).
		WithArgs(explicit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id"}))

	var rows []ledgerRow
	err := db.WithContext(teamContext(uuid.New().String())).Scopes(Scope(explicit)).Find(&rows).Error
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCallback_MissingTeam(t *testing.T) {
	t.Run("required", func(t *testing.T) {
		db, _ := newMockDB(t, true)
		var rows []ledgerRow
		err := db.WithContext(context.Background()).Find(&rows).Error
		assert.ErrorIs(t, err, ErrTeamIDRequired)
	})

	t.Run("optional runs unscoped", func(t *testing.T) {
		db, mock := newMockDB(t, false)
		mock.ExpectQuery(`SELECT \* FROM "ledger_rows"$`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "team_id"}))

		var rows []ledgerRow
		require.NoError(t, db.WithContext(context.Background()).Find(&rows).Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCallback_InvalidTeam(t *testing.T) {
	db, _ := newMockDB(t, true)
	var rows []ledgerRow
	err := db.WithContext(teamContext("not-a-uuid")).Find(&rows).Error
	assert.ErrorIs(t, err, ErrInvalidTeamID)
}

func TestCallback_Unscoped(t *testing.T) {
	db, mock := newMockDB(t, true)
	mock.ExpectQuery(`SELECT \* FROM "ledger_rows"$`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "team_id"}))

	var rows []ledgerRow
	require.NoError(t, db.WithContext(context.Background()).Unscoped().Find(&rows).Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}
