package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pharmalink-backend/api/middleware"
	"github.com/angelmondragon/pharmalink-backend/api/responses"
	"github.com/angelmondragon/pharmalink-backend/api/validators"
	cartsvc "github.com/angelmondragon/pharmalink-backend/internal/cart"
	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/pharmalink-backend/pkg/errors"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
)

// CartFetch returns the caller's cart with current prices.
func CartFetch(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pharmacyID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		cart, err := svc.GetCart(r.Context(), pharmacyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

type addLineItemRequest struct {
	DrugID   uuid.UUID `json:"drug_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,min=1,max=10000"`
}

// CartAddLineItem adds quantity of a drug, merging with an existing line.
func CartAddLineItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pharmacyID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		var payload addLineItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.DrugID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "drug_id is required"))
			return
		}
		cart, err := svc.AddLineItem(r.Context(), pharmacyID, payload.DrugID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

func CartRemoveLineItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pharmacyID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		drugID, err := validators.ParsePathUUID(r, "drugId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cart, err := svc.RemoveLineItem(r.Context(), pharmacyID, drugID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

// CartRemoveGroup drops every line from one inventory. Data is null when the
// cart was left empty and deleted.
func CartRemoveGroup(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pharmacyID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		inventoryID, err := validators.ParsePathUUID(r, "inventoryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cart, err := svc.RemoveInventoryGroup(r.Context(), pharmacyID, inventoryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

func callerID(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	id := middleware.UserIDFromContext(r.Context())
	if id == uuid.Nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
		return uuid.Nil, false
	}
	return id, true
}

type cartResponse struct {
	ID                      uuid.UUID           `json:"id"`
	PharmacyID              uuid.UUID           `json:"pharmacy_id"`
	TotalCartPrice          Money               `json:"total_cart_price"`
	TotalPriceAfterDiscount Money               `json:"total_price_after_discount"`
	Groups                  []cartGroupResponse `json:"groups"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

type cartGroupResponse struct {
	ID                  uuid.UUID          `json:"id"`
	InventoryID         uuid.UUID          `json:"inventory_id"`
	TotalInventoryPrice Money              `json:"total_inventory_price"`
	Items               []cartLineResponse `json:"items"`
}

type cartLineResponse struct {
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

func newCartResponse(cart *models.Cart) *cartResponse {
	if cart == nil {
		return nil
	}
	groups := make([]cartGroupResponse, 0, len(cart.Groups))
	for _, group := range cart.Groups {
		items := make([]cartLineResponse, 0, len(group.Items))
		for _, item := range group.Items {
			items = append(items, cartLineResponse{
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
		groups = append(groups, cartGroupResponse{
			ID:                  group.ID,
			InventoryID:         group.InventoryID,
			TotalInventoryPrice: Money(group.TotalInventoryPriceCents),
			Items:               items,
		})
	}
	return &cartResponse{
		ID:                      cart.ID,
		PharmacyID:              cart.PharmacyID,
		TotalCartPrice:          Money(cart.TotalCartPriceCents),
		TotalPriceAfterDiscount: Money(cart.TotalPriceAfterDiscountCents),
		Groups:                  groups,
		UpdatedAt:               cart.UpdatedAt,
	}
}
