// Package handler exposes the engine over JSON/HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	planmodels "bnpl/internal/plan/models"
	planservice "bnpl/internal/plan/service"
	trustmodels "bnpl/internal/trust/models"
	trustservice "bnpl/internal/trust/service"
	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
	"bnpl/pkg/platform/httputil"
	"bnpl/pkg/requestcontext"
)

// Service is the engine surface the handler needs.
type Service interface {
	CreateProfile(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
	GetProfile(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
	CalculateScore(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
	CheckEligibility(ctx context.Context, userID id.UserID, amount decimal.Decimal) (trustmodels.Eligibility, error)
	CreatePlan(ctx context.Context, userID id.UserID, orderID id.OrderID, total decimal.Decimal) (*planmodels.Plan, error)
	GetUserPlans(ctx context.Context, userID id.UserID) ([]*planmodels.Plan, error)
	GetPlan(ctx context.Context, planID id.PlanID) (*planmodels.Plan, error)
	PayInstallment(ctx context.Context, planID id.PlanID, index int) (*planmodels.Plan, error)
	UseCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (bool, error)
	RedeemCoins(ctx context.Context, userID id.UserID, amount decimal.Decimal) (decimal.Decimal, error)
	AwardCoins(ctx context.Context, eventID uuid.UUID, userID id.UserID, amount decimal.Decimal) error
	HandlePaymentCompleted(ctx context.Context, eventID uuid.UUID, userID id.UserID) error
	RecordOrder(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
	RecordDispute(ctx context.Context, userID id.UserID) (*trustmodels.Profile, error)
	CancelPlan(ctx context.Context, planID id.PlanID) (*planmodels.Plan, error)
	MarkDefaulted(ctx context.Context, planID id.PlanID) (*planmodels.Plan, error)
	RescoreAll(ctx context.Context) (*trustservice.RescoreResult, error)
	SweepOverdue(ctx context.Context, grace time.Duration, batchSize int) (*planservice.SweepResult, error)
}

// SweepDefaults are used when an admin sweep request leaves a field unset.
type SweepDefaults struct {
	GracePeriod time.Duration
	BatchSize   int
}

type Handler struct {
	service Service
	logger  *slog.Logger
	sweep   SweepDefaults
}

func New(service Service, logger *slog.Logger, sweep SweepDefaults) *Handler {
	if sweep.BatchSize <= 0 {
		sweep.BatchSize = 500
	}
	return &Handler{service: service, logger: logger, sweep: sweep}
}

// Register mounts the caller routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/profiles", h.handleCreateProfile)
		r.Get("/profiles/{userID}", h.handleGetProfile)
		r.Post("/profiles/{userID}/score", h.handleCalculateScore)
		r.Get("/profiles/{userID}/eligibility", h.handleCheckEligibility)
		r.Get("/profiles/{userID}/plans", h.handleGetUserPlans)
		r.Post("/profiles/{userID}/coins/use", h.handleUseCoins)
		r.Post("/profiles/{userID}/coins/redeem", h.handleRedeemCoins)

		r.Post("/plans", h.handleCreatePlan)
		r.Get("/plans/{planID}", h.handleGetPlan)
		r.Post("/plans/{planID}/installments/{index}/pay", h.handlePayInstallment)

		r.Post("/events/payment-completed", h.handlePaymentCompleted)
		r.Post("/events/award-coins", h.handleAwardCoins)
	})
}

// RegisterAdmin mounts the operator routes. The caller applies any auth middleware.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/profiles/{userID}/orders", h.handleRecordOrder)
	r.Post("/profiles/{userID}/disputes", h.handleRecordDispute)
	r.Post("/plans/{planID}/cancel", h.handleCancelPlan)
	r.Post("/plans/{planID}/default", h.handleMarkDefaulted)
	r.Post("/rescore", h.handleRescore)
	r.Post("/overdue-sweep", h.handleSweep)
}

func (h *Handler) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[CreateProfileRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	profile, err := h.service.CreateProfile(ctx, userID)
	if err != nil {
		h.fail(ctx, w, "create profile", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toProfileResponse(profile))
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, func(ctx context.Context, userID id.UserID) {
		profile, err := h.service.GetProfile(ctx, userID)
		if err != nil {
			h.fail(ctx, w, "get profile", requestcontext.RequestID(ctx), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toProfileResponse(profile))
	})
}

func (h *Handler) handleCalculateScore(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, func(ctx context.Context, userID id.UserID) {
		profile, err := h.service.CalculateScore(ctx, userID)
		if err != nil {
			h.fail(ctx, w, "calculate score", requestcontext.RequestID(ctx), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toProfileResponse(profile))
	})
}

func (h *Handler) handleCheckEligibility(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, func(ctx context.Context, userID id.UserID) {
		amount, err := id.ParseAmount(r.URL.Query().Get("amount"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		result, err := h.service.CheckEligibility(ctx, userID, amount)
		if err != nil {
			h.fail(ctx, w, "check eligibility", requestcontext.RequestID(ctx), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toEligibilityResponse(result))
	})
}

func (h *Handler) handleGetUserPlans(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, func(ctx context.Context, userID id.UserID) {
		plans, err := h.service.GetUserPlans(ctx, userID)
		if err != nil {
			h.fail(ctx, w, "list plans", requestcontext.RequestID(ctx), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"plans": toPlanResponses(plans)})
	})
}

func (h *Handler) handleUseCoins(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, func(ctx context.Context, userID id.UserID) {
		requestID := requestcontext.RequestID(ctx)
		req, ok := httputil.DecodeAndPrepare[CoinsRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		amount, _ := id.ParseAmount(req.Amount)
		used, err := h.service.UseCoins(ctx, userID, amount)
		if err != nil {
			h.fail(ctx, w, "use coins", requestID, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, UseCoinsResponse{Success: used})
	})
}

func (h *Handler) handleRedeemCoins(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, func(ctx context.Context, userID id.UserID) {
		requestID := requestcontext.RequestID(ctx)
		req, ok := httputil.DecodeAndPrepare[CoinsRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		amount, _ := id.ParseAmount(req.Amount)
		balance, err := h.service.RedeemCoins(ctx, userID, amount)
		if err != nil {
			h.fail(ctx, w, "redeem coins", requestID, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, RedeemCoinsResponse{Success: true, Balance: money(balance)})
	})
}

func (h *Handler) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[CreatePlanRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	orderID, err := id.ParseOrderID(req.OrderID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	total, _ := id.ParseAmount(req.TotalAmount)

	plan, err := h.service.CreatePlan(ctx, userID, orderID, total)
	if err != nil {
		h.fail(ctx, w, "create plan", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toPlanResponse(plan))
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	h.withPlan(w, r, func(ctx context.Context, planID id.PlanID) {
		plan, err := h.service.GetPlan(ctx, planID)
		if err != nil {
			h.fail(ctx, w, "get plan", requestcontext.RequestID(ctx), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toPlanResponse(plan))
	})
}

func (h *Handler) handlePayInstallment(w http.ResponseWriter, r *http.Request) {
	h.withPlan(w, r, func(ctx context.Context, planID id.PlanID) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "installment index must be an integer"))
			return
		}
		plan, err := h.service.PayInstallment(ctx, planID, index)
		if err != nil {
			h.fail(ctx, w, "pay installment", requestcontext.RequestID(ctx), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toPlanResponse(plan))
	})
}

func (h *Handler) handlePaymentCompleted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[PaymentCompletedRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.HandlePaymentCompleted(ctx, parseEventID(req.EventID), userID); err != nil {
		h.fail(ctx, w, "apply payment completed", requestID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleAwardCoins(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[AwardCoinsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	amount, _ := id.ParseAmount(req.Amount)
	if err := h.service.AwardCoins(ctx, parseEventID(req.EventID), userID, amount); err != nil {
		h.fail(ctx, w, "award coins", requestID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleRecordOrder(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, func(ctx context.Context, userID id.UserID) {
		profile, err := h.service.RecordOrder(ctx, userID)
		if err != nil {
			h.fail(ctx, w, "record order", requestcontext.RequestID(ctx), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toProfileResponse(profile))
	})
}

func (h *Handler) handleRecordDispute(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, func(ctx context.Context, userID id.UserID) {
		profile, err := h.service.RecordDispute(ctx, userID)
		if err != nil {
			h.fail(ctx, w, "record dispute", requestcontext.RequestID(ctx), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toProfileResponse(profile))
	})
}

func (h *Handler) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	h.withPlan(w, r, func(ctx context.Context, planID id.PlanID) {
		plan, err := h.service.CancelPlan(ctx, planID)
		if err != nil {
			h.fail(ctx, w, "cancel plan", requestcontext.RequestID(ctx), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toPlanResponse(plan))
	})
}

func (h *Handler) handleMarkDefaulted(w http.ResponseWriter, r *http.Request) {
	h.withPlan(w, r, func(ctx context.Context, planID id.PlanID) {
		plan, err := h.service.MarkDefaulted(ctx, planID)
		if err != nil {
			h.fail(ctx, w, "mark plan defaulted", requestcontext.RequestID(ctx), err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toPlanResponse(plan))
	})
}

func (h *Handler) handleRescore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.service.RescoreAll(ctx)
	if err != nil {
		h.fail(ctx, w, "rescore", requestcontext.RequestID(ctx), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRescoreResponse(result))
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[SweepRequest](w, r, h.logger, ctx, requestID, httputil.AllowEmptyBody())
	if !ok {
		return
	}
	batch := req.BatchSize
	if batch == 0 {
		batch = h.sweep.BatchSize
	}
	result, err := h.service.SweepOverdue(ctx, req.Grace(h.sweep.GracePeriod), batch)
	if err != nil {
		h.fail(ctx, w, "overdue sweep", requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSweepResponse(result))
}

func (h *Handler) withUser(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID id.UserID)) {
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	fn(r.Context(), userID)
}

func (h *Handler) withPlan(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, planID id.PlanID)) {
	planID, err := id.ParsePlanID(chi.URLParam(r, "planID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	fn(r.Context(), planID)
}

// fail logs at warn for caller mistakes and at error for everything else.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op, requestID string, err error) {
	code := dErrors.CodeInternal
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		code = domainErr.Code
	}
	status := httputil.DomainCodeToHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, op+" failed", "request_id", requestID, "code", string(code), "error", err)
	} else {
		h.logger.WarnContext(ctx, op+" rejected", "request_id", requestID, "code", string(code), "error", err)
	}
	httputil.WriteError(w, err)
}
