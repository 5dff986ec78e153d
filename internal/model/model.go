// Package model содержит доменные сущности сервиса комиссий wetwo.
package model

import "time"

// Vendor представляет поставщика свадебных услуг на платформе.
type Vendor struct {
	ID                 int64
	Ref                string
	BusinessName       string
	Email              string
	Tier               string
	Pool               string
	AffiliateID        string
	SubscriptionActive bool
	AffiliateSynced    bool
	CreatedAt          time.Time
}

// Couple представляет пару, приглашённую поставщиком по реферальной ссылке.
type Couple struct {
	ID                 int64
	Slug               string
	PartnerA           string
	PartnerB           string
	Email              string
	AffiliateID        string
	ReferredByVendorID int64
	CashbackRate       int
	CreatedAt          time.Time
}

// AuditEvent описывает запись журнала административных событий.
// Записи создаются один раз и никогда не изменяются.
type AuditEvent struct {
	Type     string
	VendorID int64
	Details  map[string]any
}

// VendorActivity описывает запись ленты активности поставщика.
type VendorActivity struct {
	VendorID     int64
	ActivityType string
	Description  string
	Metadata     map[string]any
}

// SaleEvent — типизированное событие продажи от партнёрского сервиса,
// собранное на границе из входящего вебхука.
type SaleEvent struct {
	AffiliateID string
	OrderID     string
	Amount      float64
	Commission  float64
}

// OrderEvent — типизированное событие заказа коммерческой платформы.
type OrderEvent struct {
	OrderID    string
	Email      string
	ProductIDs []string
}

// AffiliateResult описывает исход обращения к партнёрскому сервису
// в рамках каскада смены тарифа.
type AffiliateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Change описывает изменение строкового поля поставщика (было → стало).
type Change struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CommissionChange описывает изменение ставки комиссии в целых процентах.
type CommissionChange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// CascadeResult — итог каскада смены тарифа: дельта по каждому полю
// и исход обращения к партнёрскому сервису.
type CascadeResult struct {
	Skipped            bool
	Vendor             Vendor
	Tier               Change
	Pool               Change
	Commission         CommissionChange
	SubscriptionActive bool
	Affiliate          AffiliateResult
}

// SaleOutcome — итог обработки события продажи.
type SaleOutcome struct {
	Skipped           bool
	Reason            string
	SaleAmount        float64
	CashbackPct       int
	VendorSharePct    int
	VendorShareAmount float64
	RewardPosted      bool
}

// OrderOutcome — итог обработки события заказа коммерческой платформы.
type OrderOutcome struct {
	Ignored   bool
	Reason    string
	VendorRef string
	Tier      string
}

// VendorReferral — карточка поставщика, пригласившего пару.
type VendorReferral struct {
	Ref          string `json:"ref"`
	BusinessName string `json:"business_name"`
}
