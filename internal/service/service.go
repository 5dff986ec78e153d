// Package service реализует бизнес-логику сервиса комиссий.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/wetwo/commission-system/internal/affiliate"
	"github.com/wetwo/commission-system/internal/model"
	"github.com/wetwo/commission-system/internal/repository"
	"github.com/wetwo/commission-system/internal/tier"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetVendorByID(ctx context.Context, id int64) (*model.Vendor, error)
	GetVendorByRef(ctx context.Context, ref string) (*model.Vendor, error)
	GetVendorByEmail(ctx context.Context, email string) (*model.Vendor, error)
	UpdateVendorTier(ctx context.Context, id int64, tierName, pool string, subscriptionActive, affiliateSynced bool) error
	MarkVendorSynced(ctx context.Context, id int64) error
	GetCoupleByAffiliateID(ctx context.Context, affiliateID string) (*model.Couple, error)
	GetCoupleBySlug(ctx context.Context, slug string) (*model.Couple, error)
	ListVendors(ctx context.Context) ([]model.Vendor, error)
	ListUnsyncedVendors(ctx context.Context, limit int) ([]model.Vendor, error)
}

// AuditSink описывает журналирование событий. Запись выполняется по принципу
// best effort: вызывающая сторона вправе проигнорировать ошибку, но контракт
// делает её видимой.
type AuditSink interface {
	RecordEvent(ctx context.Context, e model.AuditEvent) error
	RecordActivity(ctx context.Context, a model.VendorActivity) error
}

// AffiliateClient описывает контракт партнёрского сервиса.
type AffiliateClient interface {
	SetCommission(ctx context.Context, affiliateID string, percent int) error
	CreateReward(ctx context.Context, reward affiliate.Reward) error
}

// Service содержит бизнес-логику сервиса комиссий.
type Service struct {
	repo      Repository
	audit     AuditSink
	affiliate AffiliateClient
	products  map[string]string
}

// NewService создаёт новый сервис. products сопоставляет идентификаторы
// подписочных товаров коммерческой платформы именам тарифов.
func NewService(repo Repository, audit AuditSink, client AffiliateClient, products map[string]string) *Service {
	return &Service{
		repo:      repo,
		audit:     audit,
		affiliate: client,
		products:  products,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CascadeTier переводит поставщика на указанный тариф: обновляет запись
// поставщика, затем доводит ставку комиссии до партнёрского сервиса и пишет
// событие в журнал. Порядок шагов фиксирован. Сбой обновления записи
// фатален и прерывает каскад; сбой партнёрского сервиса не фатален —
// запись поставщика остаётся источником истины, расхождение устраняет
// плановая синхронизация.
func (s *Service) CascadeTier(ctx context.Context, vendorID int64, target, source string) (*model.CascadeResult, error) {
	cfg, err := tier.Lookup(target)
	if err != nil {
		return nil, err
	}

	vendor, err := s.repo.GetVendorByID(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	oldTier := vendor.Tier
	if oldTier == "" {
		oldTier = tier.Free
	}
	oldPool := vendor.Pool
	if oldPool == "" {
		oldPool = "0.20"
	}

	result := &model.CascadeResult{
		Vendor:             *vendor,
		Tier:               model.Change{From: oldTier, To: target},
		Pool:               model.Change{From: oldPool, To: cfg.Pool},
		Commission:         model.CommissionChange{From: tier.NormalizePercent(oldPool), To: cfg.Commission},
		SubscriptionActive: cfg.SubscriptionActive,
	}

	// Поставщик уже на этом тарифе: без обращения к партнёрскому сервису
	// и без дублирования записи в журнале.
	if vendor.Tier == target && vendor.Pool == cfg.Pool {
		result.Skipped = true
		return result, nil
	}

	synced := vendor.AffiliateID == ""
	if err := s.repo.UpdateVendorTier(ctx, vendor.ID, target, cfg.Pool, cfg.SubscriptionActive, synced); err != nil {
		return nil, fmt.Errorf("update vendor tier: %w", err)
	}

	affiliateResult := model.AffiliateResult{Success: false, Message: "no affiliate id"}
	if vendor.AffiliateID != "" {
		if err := s.affiliate.SetCommission(ctx, vendor.AffiliateID, cfg.Commission); err != nil {
			affiliateResult = model.AffiliateResult{Success: false, Message: err.Error()}
		} else {
			affiliateResult = model.AffiliateResult{
				Success: true,
				Message: fmt.Sprintf("commission set to %d%%", cfg.Commission),
			}
			_ = s.repo.MarkVendorSynced(ctx, vendor.ID)
		}
	}
	result.Affiliate = affiliateResult

	_ = s.audit.RecordEvent(ctx, model.AuditEvent{
		Type:     "vendor_tier_update",
		VendorID: vendor.ID,
		Details: map[string]any{
			"vendor_ref":       vendor.Ref,
			"business_name":    vendor.BusinessName,
			"old_tier":         oldTier,
			"new_tier":         target,
			"old_pool":         oldPool,
			"new_pool":         cfg.Pool,
			"old_commission":   result.Commission.From,
			"new_commission":   cfg.Commission,
			"affiliate_id":     vendor.AffiliateID,
			"affiliate_result": affiliateResult,
			"source":           source,
		},
	})

	return result, nil
}

// ProcessAffiliateSale разбирает событие продажи: если покупатель — пара,
// приглашённая поставщиком, начисляет поставщику остаток комиссионного пула
// после вычета кэшбэка пары. Повторная доставка того же заказа не
// подавляется: дедупликация остаётся на стороне партнёрского сервиса.
func (s *Service) ProcessAffiliateSale(ctx context.Context, ev model.SaleEvent) (*model.SaleOutcome, error) {
	if ev.AffiliateID == "" {
		return &model.SaleOutcome{Skipped: true, Reason: "no_affiliate_id"}, nil
	}
	if ev.Amount <= 0 {
		return &model.SaleOutcome{Skipped: true, Reason: "no_sale_amount"}, nil
	}

	couple, err := s.repo.GetCoupleByAffiliateID(ctx, ev.AffiliateID)
	if err != nil {
		if errors.Is(err, repository.ErrCoupleNotFound) {
			// Прямая продажа поставщика: партнёрский сервис начисляет её сам.
			return &model.SaleOutcome{Skipped: true, Reason: "vendor_direct_sale"}, nil
		}
		return nil, fmt.Errorf("lookup couple: %w", err)
	}

	if couple.ReferredByVendorID == 0 {
		return &model.SaleOutcome{Skipped: true, Reason: "no_referring_vendor"}, nil
	}

	vendor, err := s.repo.GetVendorByID(ctx, couple.ReferredByVendorID)
	if err != nil {
		if errors.Is(err, repository.ErrVendorNotFound) {
			return &model.SaleOutcome{Skipped: true, Reason: "vendor_not_found"}, nil
		}
		return nil, fmt.Errorf("lookup vendor: %w", err)
	}

	if vendor.AffiliateID == "" {
		return &model.SaleOutcome{Skipped: true, Reason: "vendor_no_affiliate_id"}, nil
	}

	poolPct := tier.NormalizePercent(vendor.Pool)
	cashbackPct := couple.CashbackRate
	sharePct := poolPct - cashbackPct

	outcome := &model.SaleOutcome{
		SaleAmount:     ev.Amount,
		CashbackPct:    cashbackPct,
		VendorSharePct: sharePct,
	}

	if sharePct <= 0 {
		// Кэшбэк пары исчерпывает весь пул. Событие всё равно пишем:
		// "ничего не произошло" и "оценили, доля нулевая" различимы в журнале.
		outcome.Skipped = true
		outcome.Reason = "zero_vendor_share"

		_ = s.audit.RecordEvent(ctx, model.AuditEvent{
			Type:     "couple_sale_no_vendor_share",
			VendorID: vendor.ID,
			Details: map[string]any{
				"order_id":         ev.OrderID,
				"affiliate_id":     ev.AffiliateID,
				"couple_id":        couple.ID,
				"sale_amount":      ev.Amount,
				"vendor_pool_pct":  poolPct,
				"cashback_pct":     cashbackPct,
				"vendor_share_pct": sharePct,
			},
		})

		return outcome, nil
	}

	outcome.VendorShareAmount = shareAmount(ev.Amount, sharePct)

	rewardErr := s.affiliate.CreateReward(ctx, affiliate.Reward{
		AffiliateID: vendor.AffiliateID,
		OrderID:     ev.OrderID,
		Amount:      outcome.VendorShareAmount,
	})
	outcome.RewardPosted = rewardErr == nil

	details := map[string]any{
		"order_id":            ev.OrderID,
		"couple_id":           couple.ID,
		"couple_affiliate_id": ev.AffiliateID,
		"sale_amount":         ev.Amount,
		"cashback_pct":        cashbackPct,
		"couple_commission":   ev.Commission,
		"vendor_pool_pct":     poolPct,
		"vendor_share_pct":    sharePct,
		"vendor_share_amount": outcome.VendorShareAmount,
		"vendor_affiliate_id": vendor.AffiliateID,
		"reward_posted":       outcome.RewardPosted,
	}
	if rewardErr != nil {
		details["reward_error"] = rewardErr.Error()
	}

	_ = s.audit.RecordEvent(ctx, model.AuditEvent{
		Type:     "couple_sale_vendor_reward",
		VendorID: vendor.ID,
		Details:  details,
	})

	if outcome.RewardPosted {
		_ = s.audit.RecordActivity(ctx, model.VendorActivity{
			VendorID:     vendor.ID,
			ActivityType: "couple_sale_commission",
			Description: fmt.Sprintf("Earned $%.2f from a referred couple's sale ($%.2f x %d%%)",
				outcome.VendorShareAmount, ev.Amount, sharePct),
			Metadata: map[string]any{
				"order_id":     ev.OrderID,
				"couple_id":    couple.ID,
				"sale_amount":  ev.Amount,
				"vendor_share": outcome.VendorShareAmount,
			},
		})
	}

	return outcome, nil
}

// shareAmount вычисляет долю поставщика с округлением до цента.
func shareAmount(sale float64, pct int) float64 {
	cents := math.Round(sale * float64(pct))
	return cents / 100
}

// ProcessOrder разбирает заказ коммерческой платформы: покупка подписочного
// товара переводит поставщика на соответствующий тариф тем же каскадом,
// что и административный запрос.
func (s *Service) ProcessOrder(ctx context.Context, ev model.OrderEvent) (*model.OrderOutcome, error) {
	var target string
	for _, productID := range ev.ProductIDs {
		if t, ok := s.products[productID]; ok {
			target = t
			break
		}
	}

	if target == "" {
		return &model.OrderOutcome{Ignored: true, Reason: "no_subscription_product"}, nil
	}

	vendor, err := s.repo.GetVendorByEmail(ctx, ev.Email)
	if err != nil {
		if errors.Is(err, repository.ErrVendorNotFound) {
			// Заказ не от поставщика платформы: подтверждаем доставку,
			// чтобы отправитель не повторял её.
			return &model.OrderOutcome{Ignored: true, Reason: "vendor_not_found", Tier: target}, nil
		}
		return nil, fmt.Errorf("lookup vendor by email: %w", err)
	}

	result, err := s.CascadeTier(ctx, vendor.ID, target, "commerce_webhook")
	if err != nil {
		return nil, err
	}

	if !result.Skipped {
		_ = s.audit.RecordEvent(ctx, model.AuditEvent{
			Type:     "subscription_purchase",
			VendorID: vendor.ID,
			Details: map[string]any{
				"vendor_ref": vendor.Ref,
				"order_id":   ev.OrderID,
				"email":      ev.Email,
				"tier":       target,
				"pool":       result.Pool.To,
			},
		})
	}

	return &model.OrderOutcome{VendorRef: vendor.Ref, Tier: target}, nil
}

// SponsorStatus возвращает признак активной подписки поставщика.
func (s *Service) SponsorStatus(ctx context.Context, ref string) (bool, error) {
	vendor, err := s.repo.GetVendorByRef(ctx, ref)
	if err != nil {
		if errors.Is(err, repository.ErrVendorNotFound) {
			return false, nil
		}
		return false, err
	}
	return vendor.SubscriptionActive, nil
}

// CoupleReferral возвращает карточку поставщика, пригласившего пару.
// Отсутствие пары или приглашения — не ошибка.
func (s *Service) CoupleReferral(ctx context.Context, slug string) (*model.VendorReferral, error) {
	couple, err := s.repo.GetCoupleBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrCoupleNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if couple.ReferredByVendorID == 0 {
		return nil, nil
	}

	vendor, err := s.repo.GetVendorByID(ctx, couple.ReferredByVendorID)
	if err != nil {
		if errors.Is(err, repository.ErrVendorNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &model.VendorReferral{Ref: vendor.Ref, BusinessName: vendor.BusinessName}, nil
}

// ListVendors возвращает всех поставщиков для административной консоли.
func (s *Service) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	return s.repo.ListVendors(ctx)
}

// StartAffiliateSync запускает фоновый процесс досинхронизации ставок
// комиссии: каскады, у которых обращение к партнёрскому сервису не удалось,
// оставляют поставщика с affiliate_synced = false.
func (s *Service) StartAffiliateSync(ctx context.Context) {
	if s.affiliate == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processSyncBatch(ctx)
			}
		}
	}()
}

func (s *Service) processSyncBatch(ctx context.Context) {
	vendors, err := s.repo.ListUnsyncedVendors(ctx, 50)
	if err != nil {
		return
	}

	for _, v := range vendors {
		cfg, err := tier.Lookup(v.Tier)
		if err != nil {
			continue
		}

		backoff := retry.WithMaxRetries(2, retry.NewFibonacci(1*time.Second))
		err = retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := s.affiliate.SetCommission(ctx, v.AffiliateID, cfg.Commission); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			continue
		}

		_ = s.repo.MarkVendorSynced(ctx, v.ID)
	}
}
