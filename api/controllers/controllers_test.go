package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/api/middleware"
	"github.com/angelmondragon/pharmalink-backend/internal/checkout"
	"github.com/angelmondragon/pharmalink-backend/internal/orders"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
)

func authedRequest(method, target string, body io.Reader, userID uuid.UUID, role enums.UserRole, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	ctx := middleware.WithIdentity(req.Context(), userID, role)
	if len(params) > 0 {
		rc := chi.NewRouteContext()
		for k, v := range params {
			rc.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rc)
	}
	return req.WithContext(ctx)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data any `json:"data"`
	}{Data: dest}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
}

func errorCodeOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

type stubCartService struct {
	cart       *models.Cart
	err        error
	gotDrug    uuid.UUID
	gotQty     int
	gotGroupID uuid.UUID
}

func (s *stubCartService) GetCart(context.Context, uuid.UUID) (*models.Cart, error) {
	return s.cart, s.err
}

func (s *stubCartService) AddLineItem(_ context.Context, _ uuid.UUID, drugID uuid.UUID, qty int) (*models.Cart, error) {
	s.gotDrug, s.gotQty = drugID, qty
	return s.cart, s.err
}

func (s *stubCartService) RemoveLineItem(_ context.Context, _ uuid.UUID, drugID uuid.UUID) (*models.Cart, error) {
	s.gotDrug = drugID
	return s.cart, s.err
}

func (s *stubCartService) RemoveInventoryGroup(_ context.Context, _ uuid.UUID, inventoryID uuid.UUID) (*models.Cart, error) {
	s.gotGroupID = inventoryID
	return s.cart, s.err
}

func (s *stubCartService) PruneGroup(context.Context, *gorm.DB, *models.Cart, uuid.UUID) (*models.Cart, error) {
	return s.cart, s.err
}

func sampleCart(pharmacyID uuid.UUID) *models.Cart {
	discounted := int64(900)
	return &models.Cart{
		ID:                           uuid.New(),
		PharmacyID:                   pharmacyID,
		TotalCartPriceCents:          2000,
		TotalPriceAfterDiscountCents: 1800,
		Groups: []models.CartInventoryGroup{{
			ID:                       uuid.New(),
			InventoryID:              uuid.New(),
			TotalInventoryPriceCents: 1800,
			Items: []models.CartLineItem{{
				ID:                   uuid.New(),
				DrugID:               uuid.New(),
				DrugName:             "Amoxicillin 500mg",
				Quantity:             2,
				PaidQuantity:         2,
				TotalDelivered:       2,
				UnitPriceCents:       1000,
				DiscountedPriceCents: &discounted,
				LineTotalCents:       1800,
			}},
		}},
	}
}

func TestCartFetchRendersMoneyAsDecimalStrings(t *testing.T) {
	pharmacyID := uuid.New()
	svc := &stubCartService{cart: sampleCart(pharmacyID)}
	rec := httptest.NewRecorder()
	CartFetch(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/cart", nil, pharmacyID, enums.UserRolePharmacy, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeData(t, rec, &body)
	assert.Equal(t, "20.00", body["total_cart_price"])
	assert.Equal(t, "18.00", body["total_price_after_discount"])
	item := body["groups"].([]any)[0].(map[string]any)["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "9.00", item["discounted_price"])
	assert.Equal(t, "10.00", item["unit_price"])
}

func TestCartFetchRequiresIdentity(t *testing.T) {
	rec := httptest.NewRecorder()
	CartFetch(&stubCartService{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCartAddLineItemPassesPayloadAndMapsErrors(t *testing.T) {
	pharmacyID := uuid.New()
	drugID := uuid.New()
	svc := &stubCartService{err: pkgerrors.New(pkgerrors.CodeOwnDrug, "cannot order own drug")}

	body := `{"drug_id":"` + drugID.String() + `","quantity":3}`
	rec := httptest.NewRecorder()
	CartAddLineItem(svc, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body), pharmacyID, enums.UserRolePharmacy, nil))

	assert.Equal(t, drugID, svc.gotDrug)
	assert.Equal(t, 3, svc.gotQty)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeOwnDrug), errorCodeOf(t, rec))
}

func TestCartAddLineItemValidatesQuantity(t *testing.T) {
	svc := &stubCartService{}
	body := `{"drug_id":"` + uuid.NewString() + `","quantity":0}`
	rec := httptest.NewRecorder()
	CartAddLineItem(svc, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(body), uuid.New(), enums.UserRolePharmacy, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.gotQty)
}

func TestCartRemoveGroupReturnsNullWhenCartDeleted(t *testing.T) {
	inventoryID := uuid.New()
	svc := &stubCartService{}
	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodDelete, "/api/v1/cart/groups/x", nil, uuid.New(), enums.UserRolePharmacy, map[string]string{"inventoryId": inventoryID.String()})
	CartRemoveGroup(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, inventoryID, svc.gotGroupID)
	assert.JSONEq(t, `{"data":null}`, rec.Body.String())
}

type stubCheckout struct {
	input checkout.CreateOrderInput
	order *models.Order
	err   error
}

func (s *stubCheckout) CreateOrderFromCart(_ context.Context, input checkout.CreateOrderInput) (*models.Order, error) {
	s.input = input
	return s.order, s.err
}

func sampleOrder(pharmacyID uuid.UUID) *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-20261014-ABCD-000001",
		PharmacyID:    pharmacyID,
		InventoryID:   uuid.New(),
		Status:        enums.OrderStatusPending,
		SubtotalCents: 1800,
		TotalCents:    1800,
		PaymentMethod: enums.PaymentMethodCash,
		PaymentStatus: enums.PaymentStatusPending,
		History:       []models.OrderStatusEvent{{Sequence: 1, Status: enums.OrderStatusPending, UpdatedBy: pharmacyID}},
	}
}

func TestOrderCreateDefaultsPaymentMethod(t *testing.T) {
	pharmacyID := uuid.New()
	svc := &stubCheckout{order: sampleOrder(pharmacyID)}
	body := `{"cart_id":"` + uuid.NewString() + `","inventory_id":"` + uuid.NewString() + `","note":"  ring twice "}`
	rec := httptest.NewRecorder()
	OrderCreate(svc, enums.PaymentMethodBankTransfer, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body), pharmacyID, enums.UserRolePharmacy, nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, enums.PaymentMethodBankTransfer, svc.input.PaymentMethod)
	assert.Equal(t, pharmacyID, svc.input.PharmacyID)
	assert.Equal(t, "ring twice", svc.input.Note)

	var body2 map[string]any
	decodeData(t, rec, &body2)
	assert.Equal(t, "18.00", body2["total"])
	assert.Equal(t, "ORD-20261014-ABCD-000001", body2["order_number"])
	assert.Len(t, body2["history"], 1)
}

func TestOrderCreateSurfacesStockDetails(t *testing.T) {
	drugID := uuid.New()
	svc := &stubCheckout{err: pkgerrors.New(pkgerrors.CodeStockUnavailable, "insufficient stock").
		WithDetails([]map[string]any{{"drug_id": drugID.String(), "available": 1}})}
	body := `{"cart_id":"` + uuid.NewString() + `","inventory_id":"` + uuid.NewString() + `","payment_method":"cash"}`
	rec := httptest.NewRecorder()
	OrderCreate(svc, enums.PaymentMethodCash, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body), uuid.New(), enums.UserRolePharmacy, nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), drugID.String())
}

func TestOrderCreateRejectsUnknownPaymentMethod(t *testing.T) {
	svc := &stubCheckout{}
	body := `{"cart_id":"` + uuid.NewString() + `","inventory_id":"` + uuid.NewString() + `","payment_method":"barter"}`
	rec := httptest.NewRecorder()
	OrderCreate(svc, enums.PaymentMethodCash, nil).ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body), uuid.New(), enums.UserRolePharmacy, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, uuid.Nil, svc.input.PharmacyID)
}

type stubOrders struct {
	order     *models.Order
	list      []models.Order
	err       error
	requester orders.Requester
	update    orders.UpdateStatusInput
	cancel    orders.CancelInput
}

func (s *stubOrders) Get(_ context.Context, _ uuid.UUID, requester orders.Requester) (*models.Order, error) {
	s.requester = requester
	return s.order, s.err
}

func (s *stubOrders) List(_ context.Context, requester orders.Requester) ([]models.Order, error) {
	s.requester = requester
	return s.list, s.err
}

func (s *stubOrders) UpdateStatus(_ context.Context, input orders.UpdateStatusInput) (*models.Order, error) {
	s.update = input
	return s.order, s.err
}

func (s *stubOrders) Cancel(_ context.Context, input orders.CancelInput) (*models.Order, error) {
	s.cancel = input
	return s.order, s.err
}

func TestOrderDetailForwardsRequester(t *testing.T) {
	inventoryID := uuid.New()
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeForbidden, "not visible")}
	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/api/v1/orders/x", nil, inventoryID, enums.UserRoleInventory, map[string]string{"orderId": uuid.NewString()})
	OrderDetail(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, orders.Requester{UserID: inventoryID, Role: enums.UserRoleInventory}, svc.requester)
}

func TestOrderDetailRejectsBadID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/api/v1/orders/x", nil, uuid.New(), enums.UserRolePharmacy, map[string]string{"orderId": "x"})
	OrderDetail(&stubOrders{}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderListReturnsSummaries(t *testing.T) {
	pharmacyID := uuid.New()
	svc := &stubOrders{list: []models.Order{*sampleOrder(pharmacyID), *sampleOrder(pharmacyID)}}
	rec := httptest.NewRecorder()
	OrderList(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/orders", nil, pharmacyID, enums.UserRolePharmacy, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]any
	decodeData(t, rec, &rows)
	require.Len(t, rows, 2)
	assert.NotContains(t, rows[0], "items")
}

func TestOrderUpdateStatusMapsInvalidTransition(t *testing.T) {
	inventoryID := uuid.New()
	orderID := uuid.New()
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeInvalidTransition, "pending cannot move to delivered")}
	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodPatch, "/api/v1/orders/x/status", strings.NewReader(`{"status":"delivered","note":"left"}`), inventoryID, enums.UserRoleInventory, map[string]string{"orderId": orderID.String()})
	OrderUpdateStatus(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, orders.UpdateStatusInput{
		OrderID:   orderID,
		Target:    enums.OrderStatusDelivered,
		Note:      "left",
		ActorID:   inventoryID,
		ActorRole: enums.UserRoleInventory,
	}, svc.update)
}

func TestOrderUpdateStatusRejectsUnknownStatus(t *testing.T) {
	svc := &stubOrders{}
	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodPatch, "/api/v1/orders/x/status", strings.NewReader(`{"status":"teleported"}`), uuid.New(), enums.UserRoleInventory, map[string]string{"orderId": uuid.NewString()})
	OrderUpdateStatus(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, uuid.Nil, svc.update.OrderID)
}

func TestOrderCancelRequiresReason(t *testing.T) {
	svc := &stubOrders{}
	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodPost, "/api/v1/orders/x/cancel", strings.NewReader(`{}`), uuid.New(), enums.UserRolePharmacy, map[string]string{"orderId": uuid.NewString()})
	OrderCancel(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderCancelPassesCaller(t *testing.T) {
	pharmacyID := uuid.New()
	orderID := uuid.New()
	order := sampleOrder(pharmacyID)
	order.Status = enums.OrderStatusCancelled
	svc := &stubOrders{order: order}
	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodPost, "/api/v1/orders/x/cancel", strings.NewReader(`{"reason":"ordered twice"}`), pharmacyID, enums.UserRolePharmacy, map[string]string{"orderId": orderID.String()})
	OrderCancel(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.CancelInput{OrderID: orderID, Reason: "ordered twice", PharmacyID: pharmacyID}, svc.cancel)
}

type stubNotifications struct {
	rows   []models.Notification
	err    error
	marked uuid.UUID
}

func (s *stubNotifications) List(context.Context, uuid.UUID) ([]models.Notification, error) {
	return s.rows, s.err
}

func (s *stubNotifications) MarkRead(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	s.marked = id
	return s.err
}

func TestListNotifications(t *testing.T) {
	svc := &stubNotifications{rows: []models.Notification{{ID: uuid.New(), Type: enums.NotificationTypeOrderUpdated, Title: "New order"}}}
	rec := httptest.NewRecorder()
	ListNotifications(svc, nil).ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/notifications", nil, uuid.New(), enums.UserRoleInventory, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]any
	decodeData(t, rec, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "New order", rows[0]["title"])
}

func TestMarkNotificationReadNotFound(t *testing.T) {
	notificationID := uuid.New()
	svc := &stubNotifications{err: pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")}
	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodPost, "/api/v1/notifications/x/read", nil, uuid.New(), enums.UserRolePharmacy, map[string]string{"notificationId": notificationID.String()})
	MarkNotificationRead(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, notificationID, svc.marked)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthReady(map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HealthReady(map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("dial tcp")}}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMoneyJSON(t *testing.T) {
	raw, err := json.Marshal(Money(1205))
	require.NoError(t, err)
	assert.Equal(t, `"12.05"`, string(raw))

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`"7.5"`), &m))
	assert.Equal(t, Money(750), m)
	assert.Error(t, json.Unmarshal([]byte(`7.5`), &m))
}
