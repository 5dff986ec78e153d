package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/wetwo/commission-system/internal/middleware"
	"github.com/wetwo/commission-system/internal/model"
	"github.com/wetwo/commission-system/internal/repository"
	"github.com/wetwo/commission-system/internal/tier"
)

type stubService struct {
	cascadeResult *model.CascadeResult
	cascadeErr    error
	cascadeCalls  int

	saleOutcome *model.SaleOutcome
	saleErr     error
	saleCalls   int
	lastSale    model.SaleEvent

	orderOutcome *model.OrderOutcome
	orderErr     error
	orderCalls   int
	lastOrder    model.OrderEvent

	sponsorActive bool
	sponsorErr    error

	referral    *model.VendorReferral
	referralErr error

	vendors    []model.Vendor
	vendorsErr error
}

func (s *stubService) CascadeTier(ctx context.Context, vendorID int64, target, source string) (*model.CascadeResult, error) {
	s.cascadeCalls++
	return s.cascadeResult, s.cascadeErr
}

func (s *stubService) ProcessAffiliateSale(ctx context.Context, ev model.SaleEvent) (*model.SaleOutcome, error) {
	s.saleCalls++
	s.lastSale = ev
	return s.saleOutcome, s.saleErr
}

func (s *stubService) ProcessOrder(ctx context.Context, ev model.OrderEvent) (*model.OrderOutcome, error) {
	s.orderCalls++
	s.lastOrder = ev
	return s.orderOutcome, s.orderErr
}

func (s *stubService) SponsorStatus(ctx context.Context, ref string) (bool, error) {
	return s.sponsorActive, s.sponsorErr
}

func (s *stubService) CoupleReferral(ctx context.Context, slug string) (*model.VendorReferral, error) {
	return s.referral, s.referralErr
}

func (s *stubService) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	return s.vendors, s.vendorsErr
}

func newTestHandler(t *testing.T, svc Service, adminKey, webhookSecret string) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	return NewHandler(svc, logger,
		middleware.NewAdminAuth(adminKey),
		middleware.NewWebhookVerifier(webhookSecret))
}

func TestUpdateVendorTier_Success(t *testing.T) {
	svc := &stubService{
		cascadeResult: &model.CascadeResult{
			Vendor:     model.Vendor{ID: 1, Ref: "rosewood-catering"},
			Tier:       model.Change{From: "free", To: "pro"},
			Pool:       model.Change{From: "0.20", To: "0.30"},
			Commission: model.CommissionChange{From: 20, To: 30},
			Affiliate:  model.AffiliateResult{Success: true, Message: "commission set to 30%"},
		},
	}
	h := newTestHandler(t, svc, "", "")

	body, _ := json.Marshal(tierUpdateRequest{VendorID: 1, Tier: "pro"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/vendors/tier", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.UpdateVendorTier(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp tierUpdateResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Changes.Tier.To != "pro" || !resp.Affiliate.Success {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestUpdateVendorTier_UnknownTier(t *testing.T) {
	svc := &stubService{cascadeErr: tier.ErrUnknownTier}
	h := newTestHandler(t, svc, "", "")

	body, _ := json.Marshal(tierUpdateRequest{VendorID: 1, Tier: "platinum"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/vendors/tier", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.UpdateVendorTier(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUpdateVendorTier_VendorNotFound(t *testing.T) {
	svc := &stubService{cascadeErr: repository.ErrVendorNotFound}
	h := newTestHandler(t, svc, "", "")

	body, _ := json.Marshal(tierUpdateRequest{VendorID: 99, Tier: "pro"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/vendors/tier", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.UpdateVendorTier(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestUpdateVendorTier_MissingFields(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, "", "")

	req := httptest.NewRequest(http.MethodPost, "/api/admin/vendors/tier", bytes.NewReader([]byte(`{"tier":"pro"}`)))
	rec := httptest.NewRecorder()

	h.UpdateVendorTier(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if svc.cascadeCalls != 0 {
		t.Fatalf("cascade must not run without vendor_id")
	}
}

func TestAdminRoutes_RequireKey(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, "top-secret", "")
	router := h.SetupRouter()

	body, _ := json.Marshal(tierUpdateRequest{VendorID: 1, Tier: "pro"})

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{name: "missing key", key: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", key: "guess", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/vendors/tier", bytes.NewReader(body))
			if tt.key != "" {
				req.Header.Set(middleware.AdminKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if svc.cascadeCalls != 0 {
				t.Fatalf("cascade must not run without a valid admin key")
			}
		})
	}
}

func TestOrderWebhook_InvalidSignature(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, "", "webhook-secret")

	body := []byte(`{"id":1,"email":"owner@rosewood.test","line_items":[{"product_id":42}]}`)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/order", bytes.NewReader(body))
	req.Header.Set(middleware.WebhookSignatureHeader, "bogus")
	rec := httptest.NewRecorder()

	h.OrderWebhook(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	// Подпись не сошлась — до бизнес-логики (и базы) дело дойти не должно.
	if svc.orderCalls != 0 {
		t.Fatalf("order must not be processed with an invalid signature")
	}
}

func TestOrderWebhook_ValidSignature(t *testing.T) {
	svc := &stubService{
		orderOutcome: &model.OrderOutcome{VendorRef: "rosewood-catering", Tier: "pro"},
	}
	h := newTestHandler(t, svc, "", "webhook-secret")

	body := []byte(`{"id":7001,"email":"Owner@Rosewood.Test","line_items":[{"product_id":9106774261982},{"product_id":"1111"}]}`)
	signature := middleware.NewWebhookVerifier("webhook-secret").Sign(body)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/order", bytes.NewReader(body))
	req.Header.Set(middleware.WebhookSignatureHeader, signature)
	rec := httptest.NewRecorder()

	h.OrderWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.orderCalls != 1 {
		t.Fatalf("order must be processed once, got %d", svc.orderCalls)
	}
	if svc.lastOrder.OrderID != "7001" || svc.lastOrder.Email != "owner@rosewood.test" {
		t.Fatalf("unexpected order event: %+v", svc.lastOrder)
	}
	if len(svc.lastOrder.ProductIDs) != 2 || svc.lastOrder.ProductIDs[0] != "9106774261982" {
		t.Fatalf("unexpected product ids: %+v", svc.lastOrder.ProductIDs)
	}
}

func TestAffiliateSaleWebhook_Skip(t *testing.T) {
	svc := &stubService{
		saleOutcome: &model.SaleOutcome{Skipped: true, Reason: "vendor_direct_sale"},
	}
	h := newTestHandler(t, svc, "", "")

	body := []byte(`{"affiliate_id":4242,"order_total":"150.00","id":5001}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/affiliate-sale", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AffiliateSaleWebhook(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if skipped, _ := resp["skipped"].(bool); !skipped {
		t.Fatalf("response = %+v, want skipped", resp)
	}
	if resp["reason"] != "vendor_direct_sale" {
		t.Fatalf("reason = %v", resp["reason"])
	}
}

func TestAffiliateSaleWebhook_ServerErrorForStoreFailure(t *testing.T) {
	svc := &stubService{saleErr: errors.New("database unavailable")}
	h := newTestHandler(t, svc, "", "")

	body := []byte(`{"affiliate_id":"9001","sale_amount":100,"id":5001}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/affiliate-sale", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.AffiliateSaleWebhook(rec, req)

	// 5xx заставляет отправителя повторить доставку.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestSponsorStatus(t *testing.T) {
	svc := &stubService{sponsorActive: true}
	h := newTestHandler(t, svc, "", "")

	req := httptest.NewRequest(http.MethodGet, "/api/vendor/sponsor-status?ref=rosewood-catering", nil)
	rec := httptest.NewRecorder()

	h.SponsorStatus(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]bool
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp["active"] {
		t.Fatalf("active = false, want true")
	}
}

func TestSponsorStatus_BadRef(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, "", "")

	for _, target := range []string{"/api/vendor/sponsor-status", "/api/vendor/sponsor-status?ref=Bad_Ref"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()

		h.SponsorStatus(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want %d", target, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestCoupleReferral(t *testing.T) {
	svc := &stubService{
		referral: &model.VendorReferral{Ref: "rosewood-catering", BusinessName: "Rosewood Catering"},
	}
	h := newTestHandler(t, svc, "", "")

	req := httptest.NewRequest(http.MethodGet, "/api/couples/referral?slug=anna-and-lee", nil)
	rec := httptest.NewRecorder()

	h.CoupleReferral(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if origin := res.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("CORS header = %q", origin)
	}

	var resp struct {
		Referral *struct {
			Vendor model.VendorReferral `json:"vendor"`
		} `json:"referral"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Referral == nil || resp.Referral.Vendor.Ref != "rosewood-catering" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCoupleReferral_NullForMissing(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, "", "")

	req := httptest.NewRequest(http.MethodGet, "/api/couples/referral?slug=nobody", nil)
	rec := httptest.NewRecorder()

	h.CoupleReferral(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["referral"] != nil {
		t.Fatalf("referral = %v, want null", resp["referral"])
	}
}
