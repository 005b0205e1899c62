package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dinerbell/internal/types"
)

func TestDeliveryFailureRepository_InsertBatch(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryFailureRepository(db)
	failedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	db.On("Exec", mock.Anything, mock.Anything, mock.MatchedBy(func(args []any) bool {
		sid, _ := args[0].(*string)
		users, _ := args[1].([]string)
		tokens, _ := args[2].([]string)
		reasons, _ := args[3].([]string)
		return sid == nil &&
			assert.Equal(t, []string{"u1", "u2"}, users) &&
			assert.Equal(t, []string{"t1", "t2"}, tokens) &&
			assert.Equal(t, []string{"DeviceNotRegistered", "transport: timeout"}, reasons) &&
			args[4] == failedAt
	})).Return(pgconn.NewCommandTag("INSERT 0 2"), nil)

	n, err := repo.InsertBatch(context.Background(), nil, failedAt, []types.DeliveryFailure{
		{UserID: "u1", Token: "t1", Reason: "DeviceNotRegistered"},
		{UserID: "u2", Token: "t2", Reason: "transport: timeout"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDeliveryFailureRepository_InsertBatch_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryFailureRepository(db)

	n, err := repo.InsertBatch(context.Background(), nil, time.Now(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeliveryFailureRepository_DeleteBefore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewDeliveryFailureRepository(db)
	cutoff := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	db.On("Exec", mock.Anything, mock.Anything, []any{cutoff}).Return(pgconn.NewCommandTag("DELETE 4"), nil)

	n, err := repo.DeleteBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
