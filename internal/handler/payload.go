package handler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wetwo/commission-system/internal/model"
)

// parseSaleEvent собирает типизированное событие продажи из входящего
// вебхука партнёрского сервиса. Сервис шлёт данные заказа либо в обёртке
// order, либо плоско, с разнобоем в именах полей.
func parseSaleEvent(body []byte) (model.SaleEvent, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.SaleEvent{}, fmt.Errorf("decode sale webhook: %w", err)
	}

	if inner, ok := raw["order"].(map[string]any); ok {
		raw = inner
	}

	return model.SaleEvent{
		AffiliateID: stringField(raw, "affiliate_id", "affiliateId"),
		OrderID:     stringField(raw, "id", "order_id", "orderId"),
		Amount:      floatField(raw, "sale_amount", "order_total", "total", "amount"),
		Commission:  floatField(raw, "commission", "commission_amount"),
	}, nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func floatField(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

type orderLineItem struct {
	ProductID json.Number `json:"product_id"`
}

type orderPayload struct {
	ID        json.Number     `json:"id"`
	Email     string          `json:"email"`
	LineItems []orderLineItem `json:"line_items"`
}

// parseOrderEvent собирает типизированное событие заказа коммерческой
// платформы. Идентификаторы приходят и числами, и строками.
func parseOrderEvent(body []byte) (model.OrderEvent, error) {
	var payload orderPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.OrderEvent{}, fmt.Errorf("decode order webhook: %w", err)
	}

	ev := model.OrderEvent{
		OrderID: payload.ID.String(),
		Email:   strings.ToLower(strings.TrimSpace(payload.Email)),
	}

	for _, item := range payload.LineItems {
		if id := item.ProductID.String(); id != "" {
			ev.ProductIDs = append(ev.ProductIDs, id)
		}
	}

	return ev, nil
}
