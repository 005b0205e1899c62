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

	"dinerbell/internal/types"
)

func TestNotificationHistoryRepository_InsertDelivered(t *testing.T) {
	sentAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	id := "n1"

	t.Run("one row per user", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewNotificationHistoryRepository(db)

		db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
			return assert.Contains(t, sql, "unnest($1::text[])")
		}), mock.MatchedBy(func(args []any) bool {
			ids, _ := args[0].([]string)
			sid, _ := args[6].(*string)
			return len(ids) == 3 && args[1] == "custom" && sid != nil && *sid == "n1"
		})).Return(pgconn.NewCommandTag("INSERT 0 3"), nil)

		n, err := repo.InsertDelivered(context.Background(), DeliveredBatch{
			ScheduledNotificationID: &id,
			Type:                    types.NotificationTypeCustom,
			Title:                   "Hello",
			Body:                    "World",
			SentAt:                  sentAt,
			UserIDs:                 []string{"u1", "u2", "u3"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("no users is a no-op", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewNotificationHistoryRepository(db)

		n, err := repo.InsertDelivered(context.Background(), DeliveredBatch{})
		require.NoError(t, err)
		assert.Zero(t, n)
		db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("database error", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewNotificationHistoryRepository(db)
		db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
			Return(pgconn.CommandTag{}, errors.New("connection reset"))

		_, err := repo.InsertDelivered(context.Background(), DeliveredBatch{UserIDs: []string{"u1"}})
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
	})
}
