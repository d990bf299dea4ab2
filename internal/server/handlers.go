package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/tomide/paylink/backend/internal/domain"
	"github.com/tomide/paylink/backend/internal/intent"
	"github.com/tomide/paylink/backend/internal/voucher"
)

// IdentityFn resolves the caller's user ID from a request. Authentication
// itself lives in an external collaborator; this only extracts its result.
type IdentityFn func(*http.Request) string

// HeaderIdentity reads the caller ID from the given request header.
func HeaderIdentity(header string) IdentityFn {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(header))
	}
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger    *slog.Logger
	parser    *intent.Parser
	validator *intent.Validator
	vouchers  *voucher.Lifecycle
	identity  IdentityFn
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, parser *intent.Parser, validator *intent.Validator, vouchers *voucher.Lifecycle, identity IdentityFn) *APIHandlers {
	if identity == nil {
		identity = HeaderIdentity("X-User-ID")
	}
	return &APIHandlers{
		logger:    logger,
		parser:    parser,
		validator: validator,
		vouchers:  vouchers,
		identity:  identity,
	}
}

func (h *APIHandlers) handleParseIntent(w http.ResponseWriter, r *http.Request) {
	var payload parseIntentRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Payload == "" {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	parsed, err := h.parser.Parse(payload.Payload)
	if err != nil {
		// TooLong and malformed-URL are the only hard parse failures;
		// everything else is a verdict, not an error.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	verdict := h.validator.Validate(parsed)
	respondJSON(w, http.StatusOK, parseIntentResponse{
		Intent:  toIntentResponse(parsed),
		Verdict: toVerdictResponse(verdict),
	})
}

func (h *APIHandlers) handleCreateVoucher(w http.ResponseWriter, r *http.Request) {
	creatorID := h.identity(r)
	if creatorID == "" {
		writeError(w, http.StatusUnauthorized, "caller identity is required")
		return
	}

	var payload createVoucherRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	created, err := h.vouchers.Create(r.Context(), voucher.CreateParams{
		CreatorID: creatorID,
		Amount:    amount,
		Currency:  payload.Currency,
		TTL:       time.Duration(payload.TTLHours) * time.Hour,
		PIN:       payload.PIN,
	})
	if err != nil {
		h.writeVoucherError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toVoucherResponse(created))
}

func (h *APIHandlers) handleGetVoucher(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	found, err := h.vouchers.Get(r.Context(), code)
	if err != nil {
		h.writeVoucherError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toVoucherResponse(found))
}

func (h *APIHandlers) handleRedeemVoucher(w http.ResponseWriter, r *http.Request) {
	redeemerID := h.identity(r)
	if redeemerID == "" {
		writeError(w, http.StatusUnauthorized, "caller identity is required")
		return
	}

	var payload redeemVoucherRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code := mux.Vars(r)["code"]
	redeemed, err := h.vouchers.Redeem(r.Context(), code, payload.PIN, redeemerID)
	if err != nil {
		h.writeVoucherError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toVoucherResponse(redeemed))
}

func (h *APIHandlers) handleCancelVoucher(w http.ResponseWriter, r *http.Request) {
	requesterID := h.identity(r)
	if requesterID == "" {
		writeError(w, http.StatusUnauthorized, "caller identity is required")
		return
	}

	code := mux.Vars(r)["code"]
	if err := h.vouchers.Cancel(r.Context(), code, requesterID); err != nil {
		h.writeVoucherError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: "cancelled"})
}

func (h *APIHandlers) handleSweep(w http.ResponseWriter, r *http.Request) {
	count, err := h.vouchers.ExpireSweep(r.Context())
	if err != nil {
		h.writeVoucherError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sweepResponse{Expired: count})
}

// writeVoucherError maps lifecycle outcomes onto HTTP statuses. Business
// outcomes are never 500s: the caller always receives a specific state it
// can render.
func (h *APIHandlers) writeVoucherError(w http.ResponseWriter, r *http.Request, err error) {
	if finalErr, ok := voucher.IsAlreadyFinal(err); ok {
		respondJSON(w, http.StatusConflict, map[string]string{
			"error":  "voucher already final",
			"reason": finalErr.Status.String(),
		})
		return
	}

	switch {
	case errors.Is(err, voucher.ErrNotFound):
		writeError(w, http.StatusNotFound, "voucher not found")
	case errors.Is(err, voucher.ErrInvalidPin):
		writeError(w, http.StatusForbidden, "invalid pin")
	case errors.Is(err, voucher.ErrForbidden):
		writeError(w, http.StatusForbidden, "operation not permitted")
	case errors.Is(err, voucher.ErrAmountOutOfRange),
		errors.Is(err, voucher.ErrUnsupportedCurrency),
		errors.Is(err, voucher.ErrInvalidTTL),
		errors.Is(err, voucher.ErrInvalidPinFormat),
		errors.Is(err, voucher.ErrMissingCreator):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, voucher.ErrStorageUnavailable):
		h.logger.Error("voucher storage unavailable", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusServiceUnavailable, "voucher storage unavailable")
	default:
		h.logger.Error("voucher operation failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type parseIntentRequest struct {
	Payload string `json:"payload"`
}

type intentResponse struct {
	Kind            string `json:"kind"`
	RecipientHandle string `json:"recipientHandle,omitempty"`
	Amount          string `json:"amount,omitempty"`
	Currency        string `json:"currency,omitempty"`
	Description     string `json:"description,omitempty"`
	SourceFormat    string `json:"sourceFormat"`
}

type verdictResponse struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Headline string   `json:"headline,omitempty"`
}

type parseIntentResponse struct {
	Intent  intentResponse  `json:"intent"`
	Verdict verdictResponse `json:"verdict"`
}

type createVoucherRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	TTLHours int    `json:"ttlHours"`
	PIN      string `json:"pin,omitempty"`
}

type redeemVoucherRequest struct {
	PIN string `json:"pin,omitempty"`
}

type voucherResponse struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	PINProtected bool   `json:"pinProtected"`
	CreatorID    string `json:"creatorId"`
	RedeemerID   string `json:"redeemerId,omitempty"`
	CreatedAt    string `json:"createdAt"`
	ExpiresAt    string `json:"expiresAt"`
	RedeemedAt   string `json:"redeemedAt,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type sweepResponse struct {
	Expired int64 `json:"expired"`
}

func toIntentResponse(in domain.PaymentIntent) intentResponse {
	resp := intentResponse{
		Kind:            in.Kind.String(),
		RecipientHandle: in.RecipientHandle,
		Currency:        in.Currency,
		Description:     in.Description,
		SourceFormat:    in.SourceFormat.String(),
	}
	if in.Amount.Valid {
		resp.Amount = in.Amount.Decimal.StringFixed(2)
	}
	return resp
}

func toVerdictResponse(v domain.ValidationVerdict) verdictResponse {
	resp := verdictResponse{
		Valid:    v.Valid,
		Errors:   v.Errors,
		Warnings: v.Warnings,
		Headline: v.Headline(),
	}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	return resp
}

func toVoucherResponse(v domain.Voucher) voucherResponse {
	resp := voucherResponse{
		ID:           v.ID.String(),
		Code:         v.Code,
		Amount:       v.Amount.StringFixed(2),
		Currency:     v.Currency,
		Status:       v.Status.String(),
		PINProtected: v.PINProtected(),
		CreatorID:    v.CreatorID,
		RedeemerID:   v.RedeemerID,
		CreatedAt:    formatTime(v.CreatedAt),
		ExpiresAt:    formatTime(v.ExpiresAt),
	}
	if v.RedeemedAt != nil {
		resp.RedeemedAt = formatTime(*v.RedeemedAt)
	}
	return resp
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}
