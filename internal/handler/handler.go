// Package handler содержит HTTP-обработчики API сервиса комиссий.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/wetwo/commission-system/internal/middleware"
	"github.com/wetwo/commission-system/internal/model"
	"github.com/wetwo/commission-system/internal/repository"
	"github.com/wetwo/commission-system/internal/tier"
	"github.com/wetwo/commission-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CascadeTier(ctx context.Context, vendorID int64, target, source string) (*model.CascadeResult, error)
	ProcessAffiliateSale(ctx context.Context, ev model.SaleEvent) (*model.SaleOutcome, error)
	ProcessOrder(ctx context.Context, ev model.OrderEvent) (*model.OrderOutcome, error)
	SponsorStatus(ctx context.Context, ref string) (bool, error)
	CoupleReferral(ctx context.Context, slug string) (*model.VendorReferral, error)
	ListVendors(ctx context.Context) ([]model.Vendor, error)
}

// Handler реализует HTTP-обработчики API сервиса комиссий.
type Handler struct {
	service         Service
	logger          *zap.Logger
	adminAuth       *middleware.AdminAuth
	webhookVerifier *middleware.WebhookVerifier
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, adminAuth *middleware.AdminAuth, verifier *middleware.WebhookVerifier) *Handler {
	return &Handler{
		service:         s,
		logger:          logger,
		adminAuth:       adminAuth,
		webhookVerifier: verifier,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type tierUpdateRequest struct {
	VendorID int64  `json:"vendor_id"`
	Tier     string `json:"tier"`
}

type vendorCard struct {
	ID           int64  `json:"id"`
	Ref          string `json:"ref"`
	BusinessName string `json:"business_name"`
	Email        string `json:"email,omitempty"`
}

type tierUpdateResponse struct {
	Success bool       `json:"success"`
	Skipped bool       `json:"skipped,omitempty"`
	Vendor  vendorCard `json:"vendor"`
	Changes struct {
		Tier               model.Change           `json:"tier"`
		Pool               model.Change           `json:"pool"`
		Commission         model.CommissionChange `json:"commission"`
		SubscriptionActive bool                   `json:"subscription_active"`
	} `json:"changes"`
	Affiliate model.AffiliateResult `json:"affiliate"`
}

// UpdateVendorTier запускает каскад смены тарифа поставщика.
func (h *Handler) UpdateVendorTier(w http.ResponseWriter, r *http.Request) {
	var req tierUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.VendorID == 0 || req.Tier == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.service.CascadeTier(r.Context(), req.VendorID, req.Tier, "admin_api")
	if err != nil {
		switch {
		case errors.Is(err, tier.ErrUnknownTier):
			http.Error(w, "tier must be one of: free, pro, elite", http.StatusBadRequest)
		case errors.Is(err, repository.ErrVendorNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("cascade tier error", zap.Error(err), zap.Int64("vendorID", req.VendorID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	resp := tierUpdateResponse{
		Success: true,
		Skipped: result.Skipped,
		Vendor: vendorCard{
			ID:           result.Vendor.ID,
			Ref:          result.Vendor.Ref,
			BusinessName: result.Vendor.BusinessName,
			Email:        result.Vendor.Email,
		},
		Affiliate: result.Affiliate,
	}
	resp.Changes.Tier = result.Tier
	resp.Changes.Pool = result.Pool
	resp.Changes.Commission = result.Commission
	resp.Changes.SubscriptionActive = result.SubscriptionActive

	writeJSON(w, http.StatusOK, resp)
}

type vendorListItem struct {
	ID                 int64  `json:"id"`
	Ref                string `json:"ref"`
	BusinessName       string `json:"business_name"`
	Email              string `json:"email,omitempty"`
	Tier               string `json:"tier"`
	Pool               string `json:"pool"`
	AffiliateID        string `json:"affiliate_id,omitempty"`
	SubscriptionActive bool   `json:"subscription_active"`
}

// ListVendors возвращает список поставщиков с их тарифами.
func (h *Handler) ListVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := h.service.ListVendors(r.Context())
	if err != nil {
		h.logger.Error("list vendors error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	items := make([]vendorListItem, 0, len(vendors))
	for _, v := range vendors {
		items = append(items, vendorListItem{
			ID:                 v.ID,
			Ref:                v.Ref,
			BusinessName:       v.BusinessName,
			Email:              v.Email,
			Tier:               v.Tier,
			Pool:               v.Pool,
			AffiliateID:        v.AffiliateID,
			SubscriptionActive: v.SubscriptionActive,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"vendors": items,
		"count":   len(items),
	})
}

// OrderWebhook принимает вебхук заказа от коммерческой платформы.
// Подпись проверяется по сырому телу до какой-либо обработки.
func (h *Handler) OrderWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(middleware.WebhookSignatureHeader)
	if !h.webhookVerifier.Verify(body, signature) {
		h.logger.Warn("order webhook signature mismatch")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	ev, err := parseOrderEvent(body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	outcome, err := h.service.ProcessOrder(r.Context(), ev)
	if err != nil {
		h.logger.Error("process order error", zap.Error(err), zap.String("orderID", ev.OrderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if outcome.Ignored {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "reason": outcome.Reason})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "upgraded",
		"vendor": outcome.VendorRef,
		"tier":   outcome.Tier,
	})
}

// AffiliateSaleWebhook принимает событие продажи от партнёрского сервиса.
// Деловые пропуски подтверждаются кодом 200, чтобы отправитель не повторял
// заведомо пропущенные события; ошибки хранилища возвращают 5xx для повторной
// доставки.
func (h *Handler) AffiliateSaleWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ev, err := parseSaleEvent(body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	outcome, err := h.service.ProcessAffiliateSale(r.Context(), ev)
	if err != nil {
		h.logger.Error("process affiliate sale error", zap.Error(err), zap.String("orderID", ev.OrderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if outcome.Skipped {
		writeJSON(w, http.StatusOK, map[string]any{"skipped": true, "reason": outcome.Reason})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"sale_amount":         outcome.SaleAmount,
		"cashback_pct":        outcome.CashbackPct,
		"vendor_share_pct":    outcome.VendorSharePct,
		"vendor_share_amount": outcome.VendorShareAmount,
		"reward_posted":       outcome.RewardPosted,
	})
}

// SponsorStatus возвращает признак активной подписки поставщика по его ref.
func (h *Handler) SponsorStatus(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if !validation.IsValidRef(ref) {
		http.Error(w, "ref required", http.StatusBadRequest)
		return
	}

	active, err := h.service.SponsorStatus(r.Context(), ref)
	if err != nil {
		h.logger.Error("sponsor status error", zap.Error(err), zap.String("ref", ref))
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"active": active})
}

// CoupleReferral возвращает карточку пригласившего поставщика для пары.
// Отсутствие приглашения отдаётся как referral: null, не как ошибка.
func (h *Handler) CoupleReferral(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	slug := r.URL.Query().Get("slug")
	if !validation.IsValidRef(slug) {
		writeJSON(w, http.StatusOK, map[string]any{"referral": nil})
		return
	}

	referral, err := h.service.CoupleReferral(r.Context(), slug)
	if err != nil {
		h.logger.Error("couple referral error", zap.Error(err), zap.String("slug", slug))
		writeJSON(w, http.StatusOK, map[string]any{"referral": nil})
		return
	}

	if referral == nil {
		writeJSON(w, http.StatusOK, map[string]any{"referral": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"referral": map[string]any{"vendor": referral},
	})
}
