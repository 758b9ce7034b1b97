package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pharmalink-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
)

func seedNotification(t *testing.T, repo Repository, userID uuid.UUID, title string, createdAt time.Time) models.Notification {
	t.Helper()
	n := models.Notification{
		UserID:    userID,
		Type:      enums.NotificationTypeOrderUpdated,
		Title:     title,
		Message:   title,
		CreatedAt: createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), &n))
	return n
}

func TestServiceListNewestFirstAndScoped(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo)
	require.NoError(t, err)

	userID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)
	seedNotification(t, repo, userID, "older", base)
	seedNotification(t, repo, userID, "newer", base.Add(time.Minute))
	seedNotification(t, repo, uuid.New(), "someone else", base)

	rows, err := svc.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "newer", rows[0].Title)
	assert.Equal(t, "older", rows[1].Title)
}

func TestServiceListHonorsLimit(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo)
	require.NoError(t, err)

	userID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < ListLimit+5; i++ {
		seedNotification(t, repo, userID, "n", base.Add(time.Duration(i)*time.Second))
	}

	rows, err := svc.List(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, rows, ListLimit)
}

func TestServiceMarkRead(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	svc, err := NewService(repo)
	require.NoError(t, err)

	userID := uuid.New()
	n := seedNotification(t, repo, userID, "hello", time.Now().UTC())

	require.NoError(t, svc.MarkRead(context.Background(), userID, n.ID))
	require.NoError(t, svc.MarkRead(context.Background(), userID, n.ID), "marking twice is a no-op")

	rows, err := svc.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotNil(t, rows[0].ReadAt)

	err = svc.MarkRead(context.Background(), uuid.New(), n.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "other users cannot see the notification")

	err = svc.MarkRead(context.Background(), userID, uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDeleteReadBeforeKeepsUnread(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	userID := uuid.New()
	old := time.Now().UTC().Add(-200 * 24 * time.Hour)

	read := seedNotification(t, repo, userID, "read long ago", old)
	unread := seedNotification(t, repo, userID, "never opened", old)
	recent := seedNotification(t, repo, userID, "read today", time.Now().UTC())
	_, err := repo.MarkRead(ctx, userID, read.ID, old)
	require.NoError(t, err)
	_, err = repo.MarkRead(ctx, userID, recent.ID, time.Now().UTC())
	require.NoError(t, err)

	deleted, err := repo.DeleteReadBefore(ctx, nil, time.Now().UTC().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	rows, err := repo.ListByUser(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	ids := []uuid.UUID{rows[0].ID, rows[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{unread.ID, recent.ID}, ids)
}
