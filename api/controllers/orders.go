package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmalink-backend/api/middleware"
	"github.com/angelmondragon/pharmalink-backend/api/responses"
	"github.com/angelmondragon/pharmalink-backend/api/validators"
	"github.com/angelmondragon/pharmalink-backend/internal/checkout"
	"github.com/angelmondragon/pharmalink-backend/internal/orders"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	"github.com/angelmondragon/pharmalink-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
	"github.com/angelmondragon/pharmalink-backend/pkg/types"
)

const maxNoteLength = 500

type createOrderRequest struct {
	CartID        uuid.UUID `json:"cart_id" validate:"required"`
	InventoryID   uuid.UUID `json:"inventory_id" validate:"required"`
	PaymentMethod string    `json:"payment_method" validate:"omitempty,payment_method"`
	Note          string    `json:"note" validate:"max=2000"`
}

// OrderCreate commits one inventory group of the caller's cart as an order.
// An omitted payment method falls back to defaultMethod.
func OrderCreate(svc checkout.Service, defaultMethod enums.PaymentMethod, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pharmacyID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method := defaultMethod
		if payload.PaymentMethod != "" {
			parsed, err := enums.ParsePaymentMethod(payload.PaymentMethod)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment_method"))
				return
			}
			method = parsed
		}

		order, err := svc.CreateOrderFromCart(r.Context(), checkout.CreateOrderInput{
			PharmacyID:    pharmacyID,
			CartID:        payload.CartID,
			InventoryID:   payload.InventoryID,
			PaymentMethod: method,
			Note:          validators.SanitizeString(payload.Note, maxNoteLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

func OrderList(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.List(r.Context(), requesterFrom(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]orderSummaryResponse, 0, len(rows))
		for i := range rows {
			out = append(out, newOrderSummary(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID, requesterFrom(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,order_status"`
	Note   string `json:"note" validate:"max=2000"`
}

// OrderUpdateStatus moves an order along the state machine on behalf of the caller.
func OrderUpdateStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload updateStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := svc.UpdateStatus(r.Context(), orders.UpdateStatusInput{
			OrderID:   orderID,
			Target:    target,
			Note:      validators.SanitizeString(payload.Note, maxNoteLength),
			ActorID:   actorID,
			ActorRole: middleware.RoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

func OrderCancel(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pharmacyID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Cancel(r.Context(), orders.CancelInput{
			OrderID:    orderID,
			Reason:     validators.SanitizeString(payload.Reason, maxNoteLength),
			PharmacyID: pharmacyID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func requesterFrom(r *http.Request) orders.Requester {
	return orders.Requester{
		UserID: middleware.UserIDFromContext(r.Context()),
		Role:   middleware.RoleFromContext(r.Context()),
	}
}

type orderSummaryResponse struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   string              `json:"order_number"`
	PharmacyID    uuid.UUID           `json:"pharmacy_id"`
	InventoryID   uuid.UUID           `json:"inventory_id"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	Total         Money               `json:"total"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type orderResponse struct {
	orderSummaryResponse
	Subtotal            Money                 `json:"subtotal"`
	ShippingCost        Money                 `json:"shipping_cost"`
	PaidAt              *time.Time            `json:"paid_at,omitempty"`
	DeliveryAddress     types.Address         `json:"delivery_address"`
	DeliveryGeolocation *types.GeoPoint       `json:"delivery_geolocation,omitempty"`
	DeliveryPhone       string                `json:"delivery_phone,omitempty"`
	ActualDeliveryDate  *time.Time            `json:"actual_delivery_date,omitempty"`
	CancelReason        *string               `json:"cancel_reason,omitempty"`
	Items               []orderLineResponse   `json:"items"`
	History             []statusEventResponse `json:"history"`
}

type orderLineResponse struct {
	ID              uuid.UUID `json:"id"`
	DrugID          uuid.UUID `json:"drug_id"`
	DrugName        string    `json:"drug_name"`
	Quantity        int       `json:"quantity"`
	PaidQuantity    int       `json:"paid_quantity"`
	FreeQuantity    int       `json:"free_quantity"`
	TotalDelivered  int       `json:"total_delivered"`
	UnitPrice       Money     `json:"unit_price"`
	DiscountedPrice *Money    `json:"discounted_price,omitempty"`
	LineTotal       Money     `json:"line_total"`
}

type statusEventResponse struct {
	Sequence  int               `json:"sequence"`
	Status    enums.OrderStatus `json:"status"`
	Note      string            `json:"note,omitempty"`
	UpdatedBy uuid.UUID         `json:"updated_by"`
	CreatedAt time.Time         `json:"created_at"`
}

func newOrderSummary(order *models.Order) orderSummaryResponse {
	return orderSummaryResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		PharmacyID:    order.PharmacyID,
		InventoryID:   order.InventoryID,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
		Total:         Money(order.TotalCents),
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

func newOrderResponse(order *models.Order) orderResponse {
	items := make([]orderLineResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineResponse{
			ID:              item.ID,
			DrugID:          item.DrugID,
			DrugName:        item.DrugName,
			Quantity:        item.Quantity,
			PaidQuantity:    item.PaidQuantity,
			FreeQuantity:    item.FreeQuantity,
			TotalDelivered:  item.TotalDelivered,
			UnitPrice:       Money(item.UnitPriceCents),
			DiscountedPrice: optionalMoney(item.DiscountedPriceCents),
			LineTotal:       Money(item.LineTotalCents),
		})
	}
	history := make([]statusEventResponse, 0, len(order.History))
	for _, event := range order.History {
		history = append(history, statusEventResponse{
			Sequence:  event.Sequence,
			Status:    event.Status,
			Note:      event.Note,
			UpdatedBy: event.UpdatedBy,
			CreatedAt: event.CreatedAt,
		})
	}
	return orderResponse{
		orderSummaryResponse: newOrderSummary(order),
		Subtotal:             Money(order.SubtotalCents),
		ShippingCost:         Money(order.ShippingCostCents),
		PaidAt:               order.PaidAt,
		DeliveryAddress:      order.DeliveryAddress,
		DeliveryGeolocation:  order.DeliveryGeolocation,
		DeliveryPhone:        order.DeliveryPhone,
		ActualDeliveryDate:   order.ActualDeliveryDate,
		CancelReason:         order.CancelReason,
		Items:                items,
		History:              history,
	}
}
