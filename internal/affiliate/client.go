// Package affiliate предоставляет клиент для внешнего партнёрского сервиса
// (учёт рефералов, ставки комиссии и вознаграждения).
package affiliate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const accessTokenHeader = "X-Affiliate-Access-Token"

// Client инкапсулирует HTTP-взаимодействие с партнёрским сервисом.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Reward описывает вознаграждение, начисляемое партнёру за заказ.
type Reward struct {
	AffiliateID string
	OrderID     string
	Amount      float64
}

// NewClient создаёт HTTP-клиент партнёрского сервиса по указанному адресу.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type commissionPayload struct {
	Commission struct {
		Type   string `json:"type"`
		Amount string `json:"amount"`
	} `json:"commission"`
}

// SetCommission устанавливает партнёру ставку комиссии в целых процентах.
func (c *Client) SetCommission(ctx context.Context, affiliateID string, percent int) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("affiliate client not configured")
	}
	if affiliateID == "" {
		return fmt.Errorf("empty affiliate id")
	}

	var payload commissionPayload
	payload.Commission.Type = "percentage"
	payload.Commission.Amount = strconv.Itoa(percent)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal commission: %w", err)
	}

	url := fmt.Sprintf("%s/v1/admin/affiliates/%s", c.base(), affiliateID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessTokenHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("affiliate service status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	return nil
}

type rewardItem struct {
	Amount      float64 `json:"amount"`
	AffiliateID int64   `json:"affiliate_id"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	Level       int     `json:"level"`
	OrderID     string  `json:"order_id"`
}

type rewardsPayload struct {
	Rewards []rewardItem `json:"rewards"`
}

// CreateReward начисляет партнёру вознаграждение, привязанное к заказу.
// Партнёрский сервис принимает числовые идентификаторы партнёров.
func (c *Client) CreateReward(ctx context.Context, reward Reward) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("affiliate client not configured")
	}

	affiliateID, err := strconv.ParseInt(reward.AffiliateID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse affiliate id %q: %w", reward.AffiliateID, err)
	}

	payload := rewardsPayload{
		Rewards: []rewardItem{{
			Amount:      reward.Amount,
			AffiliateID: affiliateID,
			Type:        "sale_commission",
			Status:      "approved",
			Level:       1,
			OrderID:     reward.OrderID,
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal rewards: %w", err)
	}

	url := c.base() + "/v1/admin/rewards"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessTokenHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("affiliate service status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	return nil
}

func (c *Client) base() string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}
