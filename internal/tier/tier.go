// Package tier содержит справочник тарифов поставщиков и нормализацию
// процента комиссионного пула.
package tier

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Имена тарифов, известные справочнику.
const (
	Free  = "free"
	Pro   = "pro"
	Elite = "elite"
)

// DefaultPercent — процент пула по умолчанию, когда у поставщика
// не заполнено поле пула (исторические записи бесплатного тарифа).
const DefaultPercent = 20

// ErrUnknownTier возвращается при запросе тарифа, отсутствующего в справочнике.
var ErrUnknownTier = errors.New("unknown tier")

// Config описывает параметры одного тарифа: доля пула (десятичная строка),
// ставка комиссии партнёрского сервиса в целых процентах и признак
// активной подписки.
type Config struct {
	Pool               string
	Commission         int
	SubscriptionActive bool
}

// Справочник статичен: загружается один раз и не изменяется во время работы.
var catalog = map[string]Config{
	Free:  {Pool: "0.20", Commission: 20, SubscriptionActive: false},
	Pro:   {Pool: "0.30", Commission: 30, SubscriptionActive: true},
	Elite: {Pool: "0.40", Commission: 40, SubscriptionActive: true},
}

// Lookup возвращает параметры тарифа по имени.
// Для неизвестного имени возвращает ErrUnknownTier — вызывающая сторона
// обязана отклонить запрос до каких-либо изменений состояния.
func Lookup(name string) (Config, error) {
	cfg, ok := catalog[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return cfg, nil
}

// NormalizePercent приводит сохранённое значение пула к целым процентам.
// Исторически пул хранится либо долей ("0.30"), либо целым процентом ("30");
// нормализация выполняется один раз на границе модели данных.
func NormalizePercent(pool string) int {
	if pool == "" {
		return DefaultPercent
	}

	v, err := strconv.ParseFloat(pool, 64)
	if err != nil || v <= 0 {
		return DefaultPercent
	}

	if v < 1 {
		return int(math.Round(v * 100))
	}
	return int(math.Round(v))
}
