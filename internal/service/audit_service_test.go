package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gymbook/internal/domain"
	"gymbook/internal/events"
	"gymbook/internal/models"
	"gymbook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newAuditService(repo domain.AuditLog) (*AuditService, *mockPublisher) {
	pub := &mockPublisher{}
	logger := zerolog.Nop()
	svc := NewAuditService(repo, pub, &logger)
	svc.now = func() time.Time { return now }
	return svc, pub
}

func TestAuditService_Record(t *testing.T) {
	repo := repository.NewMemoryStore()
	svc, pub := newAuditService(repo)
	pub.On("PublishJSON", events.EventAuditRecorded, mock.Anything).Return(nil)

	user := models.Actor{UserID: "u1", Role: models.RoleUser}
	e, err := svc.Record(context.Background(), user, models.AuditLogin, "web")
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, now, e.CreatedAt)

	_, err = svc.Record(context.Background(), user, models.AuditAdminAction, "x")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.Record(context.Background(), user, models.AuditBookingCreated, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Record(context.Background(), models.Actor{}, models.AuditLogout, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	admin := models.Actor{UserID: "boss", Role: models.RoleAdmin}
	_, err = svc.Record(context.Background(), admin, models.AuditAdminAction, "regenerated slots")
	require.NoError(t, err)

	pub.AssertNumberOfCalls(t, "PublishJSON", 2)
}

func TestAuditService_ListDefaultsPage(t *testing.T) {
	repo := repository.NewMemoryStore()
	svc, pub := newAuditService(repo)
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < models.DefaultAuditPageSize+5; i++ {
		_, err := svc.Record(context.Background(), models.Actor{UserID: fmt.Sprintf("u%d", i)}, models.AuditLogin, "")
		require.NoError(t, err)
	}

	page, err := svc.List(context.Background(), models.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, page, models.DefaultAuditPageSize)

	rest, err := svc.List(context.Background(), models.AuditFilter{Offset: models.DefaultAuditPageSize})
	require.NoError(t, err)
	assert.Len(t, rest, 5)
	assert.Equal(t, "u4", rest[0].Actor)
}
