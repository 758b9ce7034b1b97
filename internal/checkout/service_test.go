package checkout

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/internal/cart"
	"github.com/angelmondragon/pharmalink-backend/internal/drugs"
	"github.com/angelmondragon/pharmalink-backend/internal/notifications"
	"github.com/angelmondragon/pharmalink-backend/internal/orders"
	"github.com/angelmondragon/pharmalink-backend/internal/stock"
	"github.com/angelmondragon/pharmalink-backend/internal/users"
	pkgcheckout "github.com/angelmondragon/pharmalink-backend/pkg/checkout"
	dbpkg "github.com/angelmondragon/pharmalink-backend/pkg/db"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/dbtest"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
	"github.com/angelmondragon/pharmalink-backend/pkg/types"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	notices []notifications.Notice
}

func (d *recordingDispatcher) Dispatch(_ context.Context, notice notifications.Notice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, notice)
}

// optimisticLedger reports plenty of stock so the write path is the one
// that discovers the shortage.
type optimisticLedger struct {
	stock.Ledger
}

func (optimisticLedger) LiveStock(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(ids))
	for _, id := range ids {
		out[id] = 1 << 20
	}
	return out, nil
}

type fixture struct {
	db         *gorm.DB
	svc        Service
	carts      cart.Service
	orders     orders.Service
	dispatcher *recordingDispatcher
	inventory  models.User
}

func newFixture(t *testing.T, ledger func(stock.Ledger) stock.Ledger) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})
	tx := dbpkg.FromGorm(conn)

	drugRepo := drugs.NewRepository(conn)
	cartRepo := cart.NewRepository(conn)
	cartSvc, err := cart.NewService(cartRepo, tx, drugRepo)
	require.NoError(t, err)

	var stockLedger stock.Ledger = stock.NewLedger(conn)
	if ledger != nil {
		stockLedger = ledger(stockLedger)
	}
	dispatcher := &recordingDispatcher{}
	ordersRepo := orders.NewRepository(conn)
	ordersSvc, err := orders.NewService(ordersRepo, tx, stockLedger, dispatcher, nil, logg)
	require.NoError(t, err)

	svc, err := NewService(
		tx,
		cartRepo,
		cartSvc,
		drugRepo,
		stockLedger,
		users.NewRepository(conn),
		ordersRepo,
		orders.NewNumberGenerator(nil, nil),
		dispatcher,
		nil,
		logg,
	)
	require.NoError(t, err)

	inventory := models.User{
		Role:               enums.UserRoleInventory,
		Name:               "Central Depot",
		Email:              "depot@example.com",
		ShippingPriceCents: 500,
	}
	require.NoError(t, conn.Create(&inventory).Error)

	return fixture{
		db:         conn,
		svc:        svc,
		carts:      cartSvc,
		orders:     ordersSvc,
		dispatcher: dispatcher,
		inventory:  inventory,
	}
}

func (f fixture) seedPharmacy(t *testing.T) models.User {
	t.Helper()
	pharmacy := models.User{
		Role:    enums.UserRolePharmacy,
		Name:    "Corner Pharmacy",
		Email:   uuid.NewString() + "@example.com",
		Phone:   "+34 600 000 000",
		Address: types.Address{Line1: "Calle Mayor 1", City: "Madrid", Country: "ES"},
	}
	require.NoError(t, f.db.Create(&pharmacy).Error)
	return pharmacy
}

func (f fixture) seedDrug(t *testing.T, price int64, stockLeft int) models.Drug {
	t.Helper()
	drug := models.Drug{InventoryID: f.inventory.ID, Name: "Ibuprofen 400mg", PriceCents: price, Stock: stockLeft}
	require.NoError(t, f.db.Create(&drug).Error)
	return drug
}

func (f fixture) stockOf(t *testing.T, drugID uuid.UUID) int {
	t.Helper()
	var drug models.Drug
	require.NoError(t, f.db.First(&drug, "id = ?", drugID).Error)
	return drug.Stock
}

func (f fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f fixture) input(pharmacyID, cartID uuid.UUID) CreateOrderInput {
	return CreateOrderInput{
		PharmacyID:    pharmacyID,
		CartID:        cartID,
		InventoryID:   f.inventory.ID,
		PaymentMethod: enums.PaymentMethodCash,
		Note:          "deliver before noon",
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestCreateOrderThenCancelRestoresStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pharmacy := f.seedPharmacy(t)
	drug := f.seedDrug(t, 100, 5)

	c, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 3)
	require.NoError(t, err)

	order, err := f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, c.ID))
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Regexp(t, `^ORD-[0-9a-f]{6}-\d{8}-\d{6,}$`, order.OrderNumber)
	assert.Equal(t, int64(300), order.SubtotalCents)
	assert.Equal(t, int64(500), order.ShippingCostCents)
	assert.Equal(t, int64(800), order.TotalCents)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, "Calle Mayor 1", order.DeliveryAddress.Line1)
	assert.Equal(t, pharmacy.Phone, order.DeliveryPhone)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].TotalDelivered)
	require.Len(t, order.History, 1)
	assert.Equal(t, "deliver before noon", order.History[0].Note)
	assert.Equal(t, pharmacy.ID, order.History[0].UpdatedBy)

	assert.Equal(t, 2, f.stockOf(t, drug.ID))
	assert.Zero(t, f.count(t, &models.Cart{}))
	assert.Zero(t, f.count(t, &models.CartLineItem{}))

	require.Len(t, f.dispatcher.notices, 1)
	assert.Equal(t, enums.EventOrderCreated, f.dispatcher.notices[0].Event)
	assert.Equal(t, f.inventory.ID, f.dispatcher.notices[0].InventoryID)

	_, err = f.orders.Cancel(ctx, orders.CancelInput{OrderID: order.ID, Reason: "changed my mind", PharmacyID: pharmacy.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, f.stockOf(t, drug.ID))
}

func TestCreateOrderDecrementsPromotionalUnits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pharmacy := f.seedPharmacy(t)
	drug := f.seedDrug(t, 250, 10)
	require.NoError(t, f.db.Model(&models.Drug{}).Where("id = ?", drug.ID).Updates(map[string]any{
		"promotion_kind":          enums.PromotionKindBuyNGetMFree,
		"promotion_buy_quantity":  2,
		"promotion_free_quantity": 1,
	}).Error)

	c, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 4)
	require.NoError(t, err)

	order, err := f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, c.ID))
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	item := order.Items[0]
	assert.Equal(t, 4, item.PaidQuantity)
	assert.Equal(t, 2, item.FreeQuantity)
	assert.Equal(t, 6, item.TotalDelivered)
	assert.Equal(t, int64(1000), order.SubtotalCents)
	assert.Equal(t, 4, f.stockOf(t, drug.ID))
}

func TestCreateOrderStockUnavailableLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pharmacy := f.seedPharmacy(t)
	drug := f.seedDrug(t, 100, 5)

	c, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 3)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.Drug{}).Where("id = ?", drug.ID).Update("stock", 1).Error)

	_, err = f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, c.ID))
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStockUnavailable))

	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	violations, ok := details["violations"].([]pkgcheckout.StockViolationDetail)
	require.True(t, ok)
	require.Len(t, violations, 1)
	assert.Equal(t, drug.ID, violations[0].DrugID)
	assert.Equal(t, 3, violations[0].Requested)
	assert.Equal(t, 1, violations[0].Available)

	assert.Equal(t, 1, f.stockOf(t, drug.ID))
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.EqualValues(t, 1, f.count(t, &models.CartLineItem{}))
	assert.Empty(t, f.dispatcher.notices)
}

func TestCreateOrderReportsDeletedDrug(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pharmacy := f.seedPharmacy(t)
	drug := f.seedDrug(t, 100, 5)

	c, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.db.Delete(&models.Drug{}, "id = ?", drug.ID).Error)

	_, err = f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, c.ID))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStockUnavailable))
	details := pkgerrors.As(err).Details().(map[string]any)
	violations := details["violations"].([]pkgcheckout.StockViolationDetail)
	require.Len(t, violations, 1)
	assert.Zero(t, violations[0].Available)
}

func TestCreateOrderRollsBackPartialDecrements(t *testing.T) {
	f := newFixture(t, func(l stock.Ledger) stock.Ledger { return optimisticLedger{Ledger: l} })
	ctx := context.Background()
	pharmacy := f.seedPharmacy(t)
	plenty := f.seedDrug(t, 100, 10)
	scarce := f.seedDrug(t, 100, 2)

	_, err := f.carts.AddLineItem(ctx, pharmacy.ID, plenty.ID, 4)
	require.NoError(t, err)
	c, err := f.carts.AddLineItem(ctx, pharmacy.ID, scarce.ID, 2)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.Drug{}).Where("id = ?", scarce.ID).Update("stock", 1).Error)

	_, err = f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, c.ID))
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStockUnavailable))
	violations := pkgerrors.As(err).Details().(map[string]any)["violations"].([]pkgcheckout.StockViolationDetail)
	require.Len(t, violations, 1)
	assert.Equal(t, scarce.ID, violations[0].DrugID)

	assert.Equal(t, 10, f.stockOf(t, plenty.ID))
	assert.Equal(t, 1, f.stockOf(t, scarce.ID))
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Zero(t, f.count(t, &models.OrderLineItem{}))
	assert.EqualValues(t, 2, f.count(t, &models.CartLineItem{}))
}

func TestCreateOrderKeepsOtherGroups(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pharmacy := f.seedPharmacy(t)
	drug := f.seedDrug(t, 100, 5)

	other := models.User{Role: enums.UserRoleInventory, Name: "North Depot", Email: "north@example.com"}
	require.NoError(t, f.db.Create(&other).Error)
	otherDrug := models.Drug{InventoryID: other.ID, Name: "Omeprazole 20mg", PriceCents: 300, Stock: 9}
	require.NoError(t, f.db.Create(&otherDrug).Error)

	_, err := f.carts.AddLineItem(ctx, pharmacy.ID, otherDrug.ID, 2)
	require.NoError(t, err)
	c, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, c.ID))
	require.NoError(t, err)

	remaining, err := f.carts.GetCart(ctx, pharmacy.ID)
	require.NoError(t, err)
	require.Len(t, remaining.Groups, 1)
	assert.Equal(t, other.ID, remaining.Groups[0].InventoryID)
	assert.Equal(t, int64(600), remaining.TotalPriceAfterDiscountCents)
}

func TestCreateOrderMinimumOrderValue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.inventory.ID).Update("min_order_value_cents", 1000).Error)
	pharmacy := f.seedPharmacy(t)
	drug := f.seedDrug(t, 100, 5)

	c, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 3)
	require.NoError(t, err)

	_, err = f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, c.ID))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 5, f.stockOf(t, drug.ID))
}

func TestCreateOrderNotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pharmacy := f.seedPharmacy(t)
	drug := f.seedDrug(t, 100, 5)
	c, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, uuid.New()))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	stranger := f.seedPharmacy(t)
	_, err = f.svc.CreateOrderFromCart(ctx, f.input(stranger.ID, c.ID))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	wrongGroup := f.input(pharmacy.ID, c.ID)
	wrongGroup.InventoryID = uuid.New()
	_, err = f.svc.CreateOrderFromCart(ctx, wrongGroup)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	badPayment := f.input(pharmacy.ID, c.ID)
	badPayment.PaymentMethod = enums.PaymentMethod("iou")
	_, err = f.svc.CreateOrderFromCart(ctx, badPayment)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	drug := f.seedDrug(t, 100, 5)

	inputs := make([]CreateOrderInput, 2)
	for i := range inputs {
		pharmacy := f.seedPharmacy(t)
		c, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 3)
		require.NoError(t, err)
		inputs[i] = f.input(pharmacy.ID, c.ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, in := range inputs {
		wg.Add(1)
		go func(in CreateOrderInput) {
			defer wg.Done()
			_, err := f.svc.CreateOrderFromCart(ctx, in)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case pkgerrors.IsCode(err, pkgerrors.CodeStockUnavailable):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(in)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 2, f.stockOf(t, drug.ID))
}

// scriptedNumbers hands out numbers in order and runs beforeNext ahead of
// each one.
type scriptedNumbers struct {
	mu         sync.Mutex
	numbers    []string
	calls      int
	beforeNext func()
}

func (s *scriptedNumbers) Next(context.Context, uuid.UUID, time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeNext != nil {
		s.beforeNext()
	}
	n := s.numbers[len(s.numbers)-1]
	if s.calls < len(s.numbers) {
		n = s.numbers[s.calls]
	}
	s.calls++
	return n, nil
}

func (f fixture) useNumbers(numbers *scriptedNumbers) {
	f.svc.(*service).numbers = numbers
}

func TestCreateOrderRetriesOrderNumberCollision(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pharmacy := f.seedPharmacy(t)
	drug := f.seedDrug(t, 100, 5)

	first, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 1)
	require.NoError(t, err)
	numbers := &scriptedNumbers{numbers: []string{"ORD-aaaaaa-20260101-000001"}}
	f.useNumbers(numbers)
	_, err = f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, first.ID))
	require.NoError(t, err)

	second, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 2)
	require.NoError(t, err)
	numbers = &scriptedNumbers{numbers: []string{
		"ORD-aaaaaa-20260101-000001",
		"ORD-aaaaaa-20260101-000002",
	}}
	f.useNumbers(numbers)

	order, err := f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, second.ID))
	require.NoError(t, err)
	assert.Equal(t, 2, numbers.calls)
	assert.Equal(t, "ORD-aaaaaa-20260101-000002", order.OrderNumber)
	assert.EqualValues(t, 2, f.count(t, &models.Order{}))
	assert.Equal(t, 2, f.stockOf(t, drug.ID))
}

func TestCreateOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pharmacy := f.seedPharmacy(t)
	drug := f.seedDrug(t, 100, 5)

	first, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 1)
	require.NoError(t, err)
	numbers := &scriptedNumbers{numbers: []string{"ORD-bbbbbb-20260101-000001"}}
	f.useNumbers(numbers)
	_, err = f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, first.ID))
	require.NoError(t, err)

	second, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 2)
	require.NoError(t, err)
	numbers = &scriptedNumbers{numbers: []string{"ORD-bbbbbb-20260101-000001"}}
	f.useNumbers(numbers)

	_, err = f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, second.ID))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, maxOrderNumberAttempts, numbers.calls)
	assert.EqualValues(t, 1, f.count(t, &models.Order{}))
	assert.Equal(t, 4, f.stockOf(t, drug.ID))
	assert.EqualValues(t, 1, f.count(t, &models.CartLineItem{}))
}

func TestCreateOrderRechecksMinimumAfterReprice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", f.inventory.ID).Update("min_order_value_cents", 1000).Error)
	pharmacy := f.seedPharmacy(t)
	drug := f.seedDrug(t, 500, 5)

	c, err := f.carts.AddLineItem(ctx, pharmacy.ID, drug.ID, 2)
	require.NoError(t, err)

	// The price drops after the first minimum check has passed.
	f.useNumbers(&scriptedNumbers{
		numbers: []string{"ORD-cccccc-20260101-000001"},
		beforeNext: func() {
			require.NoError(t, f.db.Model(&models.Drug{}).Where("id = ?", drug.ID).Update("price_cents", 100).Error)
		},
	})

	_, err = f.svc.CreateOrderFromCart(ctx, f.input(pharmacy.ID, c.ID))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Equal(t, 5, f.stockOf(t, drug.ID))
	assert.EqualValues(t, 1, f.count(t, &models.CartLineItem{}))
	assert.Empty(t, f.dispatcher.notices)
}
