package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vinewatch/internal/types"
)

func TestCultivarRepository_UpsertThreshold(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCultivarRepository(db)

	threshold := 150
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.UpsertThreshold(context.Background(), "Chardonnay", &threshold)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestCultivarRepository_List(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCultivarRepository(db)

	biofix := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		{"Chardonnay", 150, biofix, 42.5, "2024-03-20", "2024-03-22", "2024-03-18 to 2024-03-26", "2024-03-21"},
		{"Riesling", nil, nil, 0.0, "", "", "", ""},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	cultivars, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, cultivars, 2)

	assert.Equal(t, "Chardonnay", cultivars[0].Name)
	require.NotNil(t, cultivars[0].HeatSummation)
	assert.Equal(t, 150, *cultivars[0].HeatSummation)
	require.NotNil(t, cultivars[0].BiofixDate)
	assert.Equal(t, biofix, *cultivars[0].BiofixDate)
	assert.Equal(t, 42.5, cultivars[0].GDDSinceBiofix)
	assert.Equal(t, "2024-03-20", cultivars[0].TrendBudBreak)

	assert.Equal(t, "Riesling", cultivars[1].Name)
	assert.Nil(t, cultivars[1].HeatSummation)
	assert.Nil(t, cultivars[1].BiofixDate)
}

func TestCultivarRepository_UpdateAccumulation_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCultivarRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateAccumulation(context.Background(), "Unknown", 10.0)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundCultivar, appErr.Code)
}

func TestCultivarRepository_SetHybridPrediction(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCultivarRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.SetHybridPrediction(context.Background(), "Chardonnay", "2024-03-22", "2024-03-18 to 2024-03-26")
	require.NoError(t, err)

	capturedArgs := db.Calls[0].Arguments.Get(2).([]any)
	require.Len(t, capturedArgs, 3)
	assert.Equal(t, "2024-03-22", capturedArgs[0])
	assert.Equal(t, "2024-03-18 to 2024-03-26", capturedArgs[1])
	assert.Equal(t, "Chardonnay", capturedArgs[2])
}

func TestCultivarRepository_SetBiofix_OnlyWhenUnset(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCultivarRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	biofix := "2026-01-01"
	err := repo.SetBiofix(context.Background(), "Chardonnay", &biofix)
	require.NoError(t, err)

	// The update is guarded so a stored biofix is never replaced.
	sql := db.Calls[0].Arguments.Get(1).(string)
	assert.Contains(t, sql, "biofix_date IS NULL")
}

func TestCultivarRepository_Get_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCultivarRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(nil), nil)

	_, err := repo.Get(context.Background(), "Nonexistent")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundCultivar, appErr.Code)
}
