package orders

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/internal/notifications"
	"github.com/angelmondragon/pharmalink-backend/internal/stock"
	dbpkg "github.com/angelmondragon/pharmalink-backend/pkg/db"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
}

type recordingDispatcher struct {
	mu      sync.Mutex
	notices []notifications.Notice
}

func (d *recordingDispatcher) Dispatch(_ context.Context, notice notifications.Notice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, notice)
}

type recordingTransitions struct {
	pairs []string
}

func (r *recordingTransitions) IncTransition(from, to string) {
	r.pairs = append(r.pairs, from+"->"+to)
}

type fixture struct {
	db         *gorm.DB
	svc        Service
	dispatcher *recordingDispatcher
	metrics    *recordingTransitions
	pharmacy   uuid.UUID
	inventory  uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	dispatcher := &recordingDispatcher{}
	metrics := &recordingTransitions{}
	svc, err := NewService(NewRepository(conn), dbpkg.FromGorm(conn), stock.NewLedger(conn), dispatcher, metrics, testLogger())
	require.NoError(t, err)
	return fixture{
		db:         conn,
		svc:        svc,
		dispatcher: dispatcher,
		metrics:    metrics,
		pharmacy:   uuid.New(),
		inventory:  uuid.New(),
	}
}

// seedOrder stores a pending order for qty units of a drug whose remaining
// stock is left.
func (f fixture) seedOrder(t *testing.T, method enums.PaymentMethod, qty, left int) (*models.Order, models.Drug) {
	t.Helper()
	drug := models.Drug{InventoryID: f.inventory, Name: "Amoxicillin 250mg", PriceCents: 400, Stock: left}
	require.NoError(t, f.db.Create(&drug).Error)

	order := &models.Order{
		OrderNumber:   FormatOrderNumber(f.inventory, "20261014", uint64(uuid.New().ID())),
		PharmacyID:    f.pharmacy,
		InventoryID:   f.inventory,
		Status:        enums.OrderStatusPending,
		SubtotalCents: int64(qty) * 400,
		TotalCents:    int64(qty) * 400,
		PaymentMethod: method,
		PaymentStatus: enums.PaymentStatusPending,
		Items: []models.OrderLineItem{{
			DrugID:         drug.ID,
			DrugName:       drug.Name,
			Quantity:       qty,
			PaidQuantity:   qty,
			TotalDelivered: qty,
			UnitPriceCents: 400,
			LineTotalCents: int64(qty) * 400,
		}},
		History: []models.OrderStatusEvent{{
			Sequence:  1,
			Status:    enums.OrderStatusPending,
			UpdatedBy: f.pharmacy,
		}},
	}
	require.NoError(t, NewRepository(f.db).Create(context.Background(), order))
	return order, drug
}

func (f fixture) stockOf(t *testing.T, drugID uuid.UUID) int {
	t.Helper()
	var drug models.Drug
	require.NoError(t, f.db.First(&drug, "id = ?", drugID).Error)
	return drug.Stock
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestInventoryWalksOrderToDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.seedOrder(t, enums.PaymentMethodCash, 2, 8)

	for _, target := range []enums.OrderStatus{
		enums.OrderStatusConfirmed,
		enums.OrderStatusProcessing,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
	} {
		_, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{
			OrderID:   order.ID,
			Target:    target,
			ActorID:   f.inventory,
			ActorRole: enums.UserRoleInventory,
		})
		require.NoError(t, err, target)
	}

	stored, err := f.svc.Get(ctx, order.ID, Requester{UserID: f.pharmacy, Role: enums.UserRolePharmacy})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, stored.Status)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	assert.NotNil(t, stored.PaidAt)
	assert.NotNil(t, stored.ActualDeliveryDate)
	require.Len(t, stored.History, 5)
	for i, event := range stored.History {
		assert.Equal(t, i+1, event.Sequence)
	}
	assert.Equal(t, stored.Status, stored.LastEvent().Status)

	assert.Equal(t, []string{
		"pending->confirmed",
		"confirmed->processing",
		"processing->shipped",
		"shipped->delivered",
	}, f.metrics.pairs)
	require.Len(t, f.dispatcher.notices, 4)
	assert.Equal(t, enums.EventOrderStatusChanged, f.dispatcher.notices[3].Event)
	assert.Equal(t, enums.OrderStatusShipped, f.dispatcher.notices[3].PreviousStatus)
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t, enums.PaymentMethodCash, 1, 4)

	_, err := f.svc.UpdateStatus(context.Background(), UpdateStatusInput{
		OrderID:   order.ID,
		Target:    enums.OrderStatusDelivered,
		ActorID:   f.inventory,
		ActorRole: enums.UserRoleInventory,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	var stored models.Order
	require.NoError(t, f.db.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)
	var events int64
	require.NoError(t, f.db.Model(&models.OrderStatusEvent{}).Where("order_id = ?", order.ID).Count(&events).Error)
	assert.EqualValues(t, 1, events)
	assert.Empty(t, f.dispatcher.notices)
}

func TestUpdateStatusAuthorization(t *testing.T) {
	f := newFixture(t)
	order, _ := f.seedOrder(t, enums.PaymentMethodCash, 1, 4)
	ctx := context.Background()

	cases := []struct {
		name  string
		input UpdateStatusInput
	}{
		{"pharmacy confirm", UpdateStatusInput{Target: enums.OrderStatusConfirmed, ActorID: f.pharmacy, ActorRole: enums.UserRolePharmacy}},
		{"other pharmacy cancel", UpdateStatusInput{Target: enums.OrderStatusCancelled, ActorID: uuid.New(), ActorRole: enums.UserRolePharmacy}},
		{"other inventory confirm", UpdateStatusInput{Target: enums.OrderStatusConfirmed, ActorID: uuid.New(), ActorRole: enums.UserRoleInventory}},
		{"unknown role", UpdateStatusInput{Target: enums.OrderStatusConfirmed, ActorID: uuid.New(), ActorRole: enums.UserRole("courier")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.input.OrderID = order.ID
			_, err := f.svc.UpdateStatus(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), err)
		})
	}

	_, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{
		OrderID:   order.ID,
		Target:    enums.OrderStatusRejected,
		ActorID:   uuid.New(),
		ActorRole: enums.UserRoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.EventOrderRejected, f.dispatcher.notices[0].Event)
}

func TestCancelRestoresStock(t *testing.T) {
	f := newFixture(t)
	order, drug := f.seedOrder(t, enums.PaymentMethodCash, 3, 2)

	cancelled, err := f.svc.Cancel(context.Background(), CancelInput{
		OrderID:    order.ID,
		Reason:     "ordered twice",
		PharmacyID: f.pharmacy,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.stockOf(t, drug.ID))

	var stored models.Order
	require.NoError(t, f.db.First(&stored, "id = ?", order.ID).Error)
	require.NotNil(t, stored.CancelReason)
	assert.Equal(t, "ordered twice", *stored.CancelReason)
	require.Len(t, f.dispatcher.notices, 1)
	assert.Equal(t, enums.EventOrderCancelled, f.dispatcher.notices[0].Event)
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, drug := f.seedOrder(t, enums.PaymentMethodCash, 2, 1)

	_, err := f.svc.Cancel(ctx, CancelInput{OrderID: order.ID, PharmacyID: uuid.New()})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	for _, target := range []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing} {
		_, err := f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Target: target, ActorID: f.inventory, ActorRole: enums.UserRoleInventory})
		require.NoError(t, err)
	}

	_, err = f.svc.Cancel(ctx, CancelInput{OrderID: order.ID, PharmacyID: f.pharmacy})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
	assert.Equal(t, 1, f.stockOf(t, drug.ID))

	_, err = f.svc.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Target: enums.OrderStatusCancelled, ActorID: f.inventory, ActorRole: enums.UserRoleInventory})
	require.NoError(t, err)
	assert.Equal(t, 3, f.stockOf(t, drug.ID))
}

func TestCancelSkipsDeletedDrug(t *testing.T) {
	f := newFixture(t)
	order, drug := f.seedOrder(t, enums.PaymentMethodBankTransfer, 2, 0)
	require.NoError(t, f.db.Delete(&models.Drug{}, "id = ?", drug.ID).Error)

	_, err := f.svc.Cancel(context.Background(), CancelInput{OrderID: order.ID, PharmacyID: f.pharmacy})
	require.NoError(t, err)
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.seedOrder(t, enums.PaymentMethodCash, 1, 1)

	for _, requester := range []Requester{
		{UserID: f.pharmacy, Role: enums.UserRolePharmacy},
		{UserID: f.inventory, Role: enums.UserRoleInventory},
		{UserID: uuid.New(), Role: enums.UserRoleAdmin},
	} {
		_, err := f.svc.Get(ctx, order.ID, requester)
		require.NoError(t, err)
	}

	_, err := f.svc.Get(ctx, order.ID, Requester{UserID: uuid.New(), Role: enums.UserRolePharmacy})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Get(ctx, uuid.New(), Requester{UserID: f.pharmacy, Role: enums.UserRolePharmacy})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListScopesByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, enums.PaymentMethodCash, 1, 1)
	f.seedOrder(t, enums.PaymentMethodCash, 2, 1)

	mine, err := f.svc.List(ctx, Requester{UserID: f.pharmacy, Role: enums.UserRolePharmacy})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	received, err := f.svc.List(ctx, Requester{UserID: f.inventory, Role: enums.UserRoleInventory})
	require.NoError(t, err)
	assert.Len(t, received, 2)

	other, err := f.svc.List(ctx, Requester{UserID: uuid.New(), Role: enums.UserRolePharmacy})
	require.NoError(t, err)
	assert.Empty(t, other)

	_, err = f.svc.List(ctx, Requester{UserID: uuid.New(), Role: enums.UserRoleAdmin})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestDeleteTerminalBefore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open, _ := f.seedOrder(t, enums.PaymentMethodCash, 1, 1)
	done, _ := f.seedOrder(t, enums.PaymentMethodCash, 2, 1)
	_, err := f.svc.Cancel(ctx, CancelInput{OrderID: done.ID, PharmacyID: f.pharmacy})
	require.NoError(t, err)

	cutoff := done.UpdatedAt.AddDate(1, 0, 0)
	deleted, err := NewRepository(f.db).DeleteTerminalBefore(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	var remaining []models.Order
	require.NoError(t, f.db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, open.ID, remaining[0].ID)
	var events int64
	require.NoError(t, f.db.Model(&models.OrderStatusEvent{}).Where("order_id = ?", done.ID).Count(&events).Error)
	assert.Zero(t, events)
}

// staleRepository loads orders with a status another writer has already
// replaced, as if that write landed between load and update.
type staleRepository struct {
	Repository
	stale enums.OrderStatus
}

func (r staleRepository) WithTx(tx *gorm.DB) Repository {
	return staleRepository{Repository: r.Repository.WithTx(tx), stale: r.stale}
}

func (r staleRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := r.Repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Status = r.stale
	return order, nil
}

func TestTransitionLosesRaceToConcurrentWriter(t *testing.T) {
	cases := []struct {
		name    string
		current enums.OrderStatus
		run     func(svc Service, f fixture, orderID uuid.UUID) error
	}{
		{
			name:    "confirm after concurrent cancel",
			current: enums.OrderStatusCancelled,
			run: func(svc Service, f fixture, orderID uuid.UUID) error {
				_, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
					OrderID:   orderID,
					Target:    enums.OrderStatusConfirmed,
					ActorID:   f.inventory,
					ActorRole: enums.UserRoleInventory,
				})
				return err
			},
		},
		{
			name:    "cancel after concurrent cancel",
			current: enums.OrderStatusCancelled,
			run: func(svc Service, f fixture, orderID uuid.UUID) error {
				_, err := svc.Cancel(context.Background(), CancelInput{OrderID: orderID, PharmacyID: f.pharmacy})
				return err
			},
		},
		{
			name:    "reject after concurrent confirm",
			current: enums.OrderStatusConfirmed,
			run: func(svc Service, f fixture, orderID uuid.UUID) error {
				_, err := svc.UpdateStatus(context.Background(), UpdateStatusInput{
					OrderID:   orderID,
					Target:    enums.OrderStatusRejected,
					ActorID:   f.inventory,
					ActorRole: enums.UserRoleInventory,
				})
				return err
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			order, drug := f.seedOrder(t, enums.PaymentMethodCash, 3, 2)
			require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", tc.current).Error)

			repo := staleRepository{Repository: NewRepository(f.db), stale: enums.OrderStatusPending}
			svc, err := NewService(repo, dbpkg.FromGorm(f.db), stock.NewLedger(f.db), f.dispatcher, f.metrics, testLogger())
			require.NoError(t, err)

			err = tc.run(svc, f, order.ID)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), err)

			var stored models.Order
			require.NoError(t, f.db.First(&stored, "id = ?", order.ID).Error)
			assert.Equal(t, tc.current, stored.Status)
			var events int64
			require.NoError(t, f.db.Model(&models.OrderStatusEvent{}).Where("order_id = ?", order.ID).Count(&events).Error)
			assert.EqualValues(t, 1, events)
			assert.Equal(t, 2, f.stockOf(t, drug.ID))
			assert.Empty(t, f.dispatcher.notices)
			assert.Empty(t, f.metrics.pairs)
		})
	}
}
