package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"p2pescrow/gateway/middleware"
	"p2pescrow/native/escrow"
)

const requestBodyLimit = 64 << 10

// Balances exposes settled account balances and the escrow vault.
type Balances interface {
	Balance(addr common.Address) (*uint256.Int, error)
	Vault() (*uint256.Int, error)
}

type escrowRoutes struct {
	engine         *escrow.Engine
	balances       Balances
	logger         *slog.Logger
	resolveTimeout time.Duration
}

type writeRequest struct {
	// Value is the decimal amount attached to the call.
	Value       string `json:"value"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
	TrackingURL string `json:"trackingUrl"`
	Statement   string `json:"statement"`
	Evidence    string `json:"evidence"`
}

func (h *escrowRoutes) mountReads(r chi.Router) {
	r.Get("/offers/{id}", h.getOffer)
	r.Get("/deals/{id}", h.getDeal)
	r.Get("/next-offer-id", h.nextOfferID)
	r.Get("/accounts/{address}", h.getAccount)
	r.Get("/vault", h.getVault)
}

func (h *escrowRoutes) mountWrites(r chi.Router) {
	r.Post("/offers", h.write(h.createOffer))
	r.Post("/offers/{id}/cancel", h.write(h.cancelOffer))
	r.Post("/offers/{id}/accept", h.write(h.acceptOffer))
	r.Post("/deals/{id}/ship", h.write(h.markShipped))
	r.Post("/deals/{id}/confirm", h.write(h.confirmReceived))
	r.Post("/deals/{id}/dispute", h.write(h.openDispute))
	r.Post("/deals/{id}/respond", h.write(h.respondDispute))
	r.Post("/deals/{id}/resolve", h.write(h.resolveDispute))
}

type writeHandler func(r *http.Request, call escrow.Call, req writeRequest) (any, error)

// write decodes the body, builds the call from the authenticated caller and
// the attached value, and renders the result or the rejection.
func (h *escrowRoutes) write(fn writeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
			return
		}
		var req writeRequest
		body, err := io.ReadAll(io.LimitReader(r.Body, requestBodyLimit+1))
		if err != nil {
			writeBadRequest(w, fmt.Errorf("read request body: %w", err))
			return
		}
		if len(body) > requestBodyLimit {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeBadRequest(w, fmt.Errorf("decode request: %w", err))
				return
			}
		}
		value, err := escrow.ParseAmount(strings.TrimSpace(req.Value))
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		out, err := fn(r, escrow.Call{Sender: caller, Value: value}, req)
		if err != nil {
			h.writeEscrowError(w, err)
			return
		}
		if out == nil {
			out = map[string]bool{"ok": true}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *escrowRoutes) createOffer(_ *http.Request, call escrow.Call, req writeRequest) (any, error) {
	price, err := escrow.ParseAmount(strings.TrimSpace(req.Price))
	if err != nil {
		return nil, badRequest{err}
	}
	id, err := h.engine.CreateOffer(call, req.Title, req.Description, price)
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"id": id}, nil
}

func (h *escrowRoutes) cancelOffer(r *http.Request, call escrow.Call, _ writeRequest) (any, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	return nil, h.engine.CancelOffer(call, id)
}

func (h *escrowRoutes) acceptOffer(r *http.Request, call escrow.Call, _ writeRequest) (any, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	return nil, h.engine.AcceptOffer(call, id)
}

func (h *escrowRoutes) markShipped(r *http.Request, call escrow.Call, req writeRequest) (any, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	return nil, h.engine.MarkShipped(call, id, req.TrackingURL)
}

func (h *escrowRoutes) confirmReceived(r *http.Request, call escrow.Call, _ writeRequest) (any, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	return nil, h.engine.ConfirmReceived(call, id)
}

func (h *escrowRoutes) openDispute(r *http.Request, call escrow.Call, req writeRequest) (any, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	return nil, h.engine.OpenDispute(call, id, req.Statement, req.Evidence)
}

func (h *escrowRoutes) respondDispute(r *http.Request, call escrow.Call, req writeRequest) (any, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	return nil, h.engine.RespondDispute(call, id, req.Statement, req.Evidence)
}

func (h *escrowRoutes) resolveDispute(r *http.Request, call escrow.Call, _ writeRequest) (any, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	ctx := r.Context()
	if h.resolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.resolveTimeout)
		defer cancel()
	}
	verdict, err := h.engine.ResolveDispute(ctx, call, id)
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

func (h *escrowRoutes) getOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeEscrowError(w, err)
		return
	}
	view, err := h.engine.OfferJSON(id)
	h.writeView(w, view, err, escrow.ReasonOfferNotFound)
}

func (h *escrowRoutes) getDeal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeEscrowError(w, err)
		return
	}
	view, err := h.engine.DealJSON(id)
	h.writeView(w, view, err, escrow.ReasonDealNotFound)
}

func (h *escrowRoutes) writeView(w http.ResponseWriter, view string, err error, missing string) {
	if err != nil {
		h.writeEscrowError(w, err)
		return
	}
	if view == "" {
		writeJSON(w, http.StatusNotFound, errorBody{Error: missing})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, view)
}

func (h *escrowRoutes) nextOfferID(w http.ResponseWriter, _ *http.Request) {
	next, err := h.engine.NextOfferID()
	if err != nil {
		h.writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nextOfferId": next})
}

func (h *escrowRoutes) getAccount(w http.ResponseWriter, r *http.Request) {
	if h.balances == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "balances unavailable"})
		return
	}
	addr, err := escrow.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := h.balances.Balance(addr)
	if err != nil {
		h.writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr.Hex(), "balance": balance.Dec()})
}

func (h *escrowRoutes) getVault(w http.ResponseWriter, _ *http.Request) {
	if h.balances == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "balances unavailable"})
		return
	}
	vault, err := h.balances.Vault()
	if err != nil {
		h.writeEscrowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": vault.Dec()})
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest{fmt.Errorf("invalid id %q", raw)}
	}
	return id, nil
}

type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeEscrowError maps a rejection to its status. The body carries the
// reason code verbatim.
func (h *escrowRoutes) writeEscrowError(w http.ResponseWriter, err error) {
	var bad badRequest
	if errors.As(err, &bad) {
		writeBadRequest(w, bad.err)
		return
	}
	var rejected *escrow.Error
	if !errors.As(err, &rejected) {
		h.logger.Error("gateway: escrow call failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, escrow.ErrConsensusFailure):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, errorBody{Error: rejected.Reason, Retryable: rejected.Retryable()})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
