/*
handlers.go - HTTP API handlers for the card ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response and JSON
  serialization, and delegates every rule to ledger.Ledger.

ENDPOINTS:
  Cards:
    POST   /api/cards                       Create card
    GET    /api/cards/{id}                  Get card
    POST   /api/cards/{id}/spend            Spend from card
    POST   /api/cards/{id}/topup            Top up card
    GET    /api/cards/{id}/transactions     Transaction history (limit, offset)
    POST   /api/cards/{id}/block            Block card
    POST   /api/cards/{id}/unblock          Unblock card
    GET    /api/cards/{id}/reconciliation   Compare balance with history

  Admin:
    POST   /api/admin/reconcile             Run the maintenance pass now

  Health:
    GET    /healthz                         Store ping

ERROR HANDLING:
  Ledger failure kinds map to HTTP status in statusFor, the only place
  that inspects them:
  - 400: CARD_BLOCKED, INVALID_AMOUNT, INSUFFICIENT_BALANCE, bad input
  - 404: CARD_NOT_FOUND
  - 409: CONCURRENT_MODIFICATION (re-read the card, then retry)
  - 429: RATE_LIMIT_EXCEEDED
  - 500: Internal errors (details are logged, not returned)

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/card-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Store     Pinger
	Scheduler *MaintenanceScheduler
	Log       logrus.FieldLogger
}

// NewHandler creates a handler. store and scheduler may be nil.
func NewHandler(l *ledger.Ledger, store Pinger, scheduler *MaintenanceScheduler, log logrus.FieldLogger) *Handler {
	if log == nil {
		discard := logrus.New()
		discard.SetLevel(logrus.PanicLevel)
		log = discard
	}
	return &Handler{
		Ledger:    l,
		Store:     store,
		Scheduler: scheduler,
		Log:       log,
	}
}

// =============================================================================
// CARD HANDLERS
// =============================================================================

// CreateCard creates a card.
// POST /api/cards
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req CreateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	card, err := h.Ledger.CreateCard(r.Context(), req.CardholderName, req.InitialBalance)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCardDTO(card))
}

// GetCard returns a card.
// GET /api/cards/{id}
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, ok := cardID(w, r)
	if !ok {
		return
	}

	card, err := h.Ledger.GetCard(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCardDTO(card))
}

// Spend removes an amount from the card balance.
// POST /api/cards/{id}/spend
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	h.mutateBalance(w, r, h.Ledger.Spend)
}

// Topup adds an amount to the card balance.
// POST /api/cards/{id}/topup
func (h *Handler) Topup(w http.ResponseWriter, r *http.Request) {
	h.mutateBalance(w, r, h.Ledger.Topup)
}

type balanceOp func(ctx context.Context, id ledger.CardID, amount decimal.Decimal) (*ledger.Card, error)

func (h *Handler) mutateBalance(w http.ResponseWriter, r *http.Request, op balanceOp) {
	id, ok := cardID(w, r)
	if !ok {
		return
	}

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	// A missing amount reaches the ledger as zero, which it rejects after
	// the card checks.
	card, err := op(r.Context(), id, req.Amount.Decimal)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCardDTO(card))
}

// GetTransactions returns a page of the card's history, newest first.
// GET /api/cards/{id}/transactions?limit=10&offset=0
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := cardID(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", ledger.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset", err.Error())
		return
	}

	txs, err := h.Ledger.ListTransactions(r.Context(), id, limit, offset)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	total, err := h.Ledger.CountTransactions(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// BlockCard sets the card to BLOCKED.
// POST /api/cards/{id}/block
func (h *Handler) BlockCard(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

// UnblockCard sets the card back to ACTIVE.
// POST /api/cards/{id}/unblock
func (h *Handler) UnblockCard(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *Handler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	id, ok := cardID(w, r)
	if !ok {
		return
	}
	if _, err := h.Ledger.SetBlocked(r.Context(), id, blocked); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetReconciliation replays the card's history against its balance.
// GET /api/cards/{id}/reconciliation
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := cardID(w, r)
	if !ok {
		return
	}

	rec, err := h.Ledger.Verify(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// =============================================================================
// ADMIN / HEALTH
// =============================================================================

// TriggerReconcile runs the maintenance pass synchronously.
// POST /api/admin/reconcile
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Maintenance is not configured", nil)
		return
	}
	summary, err := h.Scheduler.RunOnce(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Healthz pings the store.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			h.Log.WithError(err).Warn("health check failed")
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func cardID(w http.ResponseWriter, r *http.Request) (ledger.CardID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid card id", raw)
		return "", false
	}
	return ledger.CardID(id.String()), true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// statusFor maps a ledger failure kind to its HTTP status.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindCardNotFound:
		return http.StatusNotFound
	case ledger.KindCardBlocked, ledger.KindInvalidAmount, ledger.KindInsufficientBalance:
		return http.StatusBadRequest
	case ledger.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case ledger.KindConcurrentModification:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		resp := ErrorResponse{Error: lerr.Message, Code: string(lerr.Kind)}
		if lerr.CardID != "" {
			resp.Details = map[string]string{"card_id": string(lerr.CardID)}
		}
		writeJSON(w, statusFor(lerr.Kind), resp)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	}).WithError(err).Error("request failed")
	writeError(w, http.StatusInternalServerError, "Internal server error", nil)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	resp := ErrorResponse{Error: message}
	if details != nil {
		resp.Details = details
	}
	writeJSON(w, status, resp)
}
