package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/apotek-pos/internal/catalog"
	"github.com/noah-isme/apotek-pos/internal/common"
	"github.com/noah-isme/apotek-pos/internal/lock"
	"github.com/noah-isme/apotek-pos/internal/pos"
	"github.com/noah-isme/apotek-pos/internal/pricing"
)

// Handler wires the checkout service to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// NewHandler returns a handler with a validator that reports json field names.
func NewHandler(svc *Service) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Handler{Svc: svc, Validate: v}
}

// Routes mounts the session endpoints on r. Idempotent wraps the finalize endpoint.
func (h *Handler) Routes(r chi.Router, idempotent func(http.Handler) http.Handler) {
	if idempotent == nil {
		idempotent = func(next http.Handler) http.Handler { return next }
	}
	r.Post("/sessions", h.Start)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Cancel)
		r.Post("/lines", h.AddItem)
		r.Patch("/lines/{index}", h.UpdateLine)
		r.Delete("/lines/{index}", h.RemoveLine)
		r.Put("/customer", h.SelectCustomer)
		r.Post("/tenders", h.AddTender)
		r.Delete("/tenders/{index}", h.RemoveTender)
		r.With(idempotent).Post("/finalize", h.Finalize)
	})
}

type addItemRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=prescription otc product"`
	ItemID string `json:"itemId" validate:"required,max=128"`
}

type updateLineRequest struct {
	Quantity  *int           `json:"quantity" validate:"required_without=UnitPrice,omitempty,max=1000000"`
	UnitPrice *pricing.Money `json:"unitPrice" validate:"required_without=Quantity"`
}

type customerRequest struct {
	ID        string `json:"id" validate:"required,max=128"`
	Name      string `json:"name" validate:"max=256"`
	Insurance *struct {
		Provider string `json:"provider" validate:"required,max=128"`
		MemberID string `json:"memberId" validate:"required,max=128"`
	} `json:"insurance" validate:"omitempty"`
}

type tenderRequest struct {
	Method string         `json:"method" validate:"required"`
	Amount *pricing.Money `json:"amount" validate:"required"`
}

// Start opens a session.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Start(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusCreated, view)
}

// Get returns the session view.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, view, err)
}

// AddItem adds a catalog item or prescription to the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var payload addItemRequest
	if err := h.decode(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.Svc.AddItem(r.Context(), chi.URLParam(r, "id"), pos.Kind(payload.Kind), payload.ItemID)
	h.respond(w, r, view, err)
}

// UpdateLine changes quantity and/or unit price of a line. A quantity of zero
// or less removes the line, in which case a unit price in the same request is ignored.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload updateLineRequest
	if err := h.decode(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.Svc.UpdateLine(r.Context(), chi.URLParam(r, "id"), index, payload.UnitPrice, payload.Quantity)
	h.respond(w, r, view, err)
}

// RemoveLine deletes a line by index.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.Svc.RemoveLine(r.Context(), chi.URLParam(r, "id"), index)
	h.respond(w, r, view, err)
}

// SelectCustomer sets the customer of the session.
func (h *Handler) SelectCustomer(w http.ResponseWriter, r *http.Request) {
	var payload customerRequest
	if err := h.decode(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	customer := pos.Customer{ID: strings.TrimSpace(payload.ID), Name: strings.TrimSpace(payload.Name)}
	if payload.Insurance != nil {
		customer.Insurance = &pos.InsuranceProfile{Provider: payload.Insurance.Provider, MemberID: payload.Insurance.MemberID}
	}
	view, err := h.Svc.SelectCustomer(r.Context(), chi.URLParam(r, "id"), customer)
	h.respond(w, r, view, err)
}

// AddTender applies a payment.
func (h *Handler) AddTender(w http.ResponseWriter, r *http.Request) {
	var payload tenderRequest
	if err := h.decode(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	method, err := pos.ParseMethod(payload.Method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.Svc.AddTender(r.Context(), chi.URLParam(r, "id"), method, *payload.Amount)
	h.respond(w, r, view, err)
}

// RemoveTender deletes a payment by index.
func (h *Handler) RemoveTender(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.Svc.RemoveTender(r.Context(), chi.URLParam(r, "id"), index)
	h.respond(w, r, view, err)
}

// Finalize records the sale and returns the receipt.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	result, err := h.Svc.Finalize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, result)
}

// Cancel discards the session.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, view View, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

func (h *Handler) decode(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return common.BadRequest("invalid payload", err)
	}
	if err := h.Validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = validationMessage(fe)
			}
			appErr := common.BadRequest("validation failed", err)
			appErr.Details = details
			return appErr
		}
		return common.BadRequest("validation failed", err)
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "is required when " + fe.Param() + " is absent"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}

func indexParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, common.BadRequest(fmt.Sprintf("invalid index %q", raw), err)
	}
	return index, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		common.WriteAppError(w, appErr)
		return
	}
	switch {
	case errors.Is(err, pos.ErrOutOfRange):
		common.JSONError(w, http.StatusUnprocessableEntity, "OUT_OF_RANGE", err.Error(), nil)
	case errors.Is(err, pos.ErrInvalidAmount):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_AMOUNT", err.Error(), nil)
	case errors.Is(err, pos.ErrUnknownKind), errors.Is(err, pos.ErrUnknownMethod):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrSessionNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "session not found", nil)
	case errors.Is(err, catalog.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusConflict, "EMPTY_CART", "cart is empty", nil)
	case errors.Is(err, ErrNotSettleable):
		common.JSONError(w, http.StatusConflict, "NOT_SETTLEABLE", err.Error(), nil)
	case errors.Is(err, lock.ErrNotAcquired), errors.Is(err, lock.ErrLost):
		common.JSONError(w, http.StatusConflict, "SESSION_BUSY", "session is being modified by another request", nil)
	case errors.Is(err, ErrUpstream):
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "upstream service unavailable", nil)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("checkout request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
