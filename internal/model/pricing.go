package model

import "math"

// Pricing は予約作成時に一度だけ計算される料金です
type Pricing struct {
	HourlyRate float64 `json:"hourly_rate"`
	TotalHours int     `json:"total_hours"`
	Subtotal   float64 `json:"subtotal"`
	Taxes      float64 `json:"taxes"`
	Fees       float64 `json:"fees"`
	Total      float64 `json:"total"`
}

// PricingPolicy は税率と手数料の設定です
type PricingPolicy struct {
	TaxRate       float64
	ProcessingFee float64
}

// DefaultPricingPolicy は税率8%、手数料2.50です
var DefaultPricingPolicy = PricingPolicy{TaxRate: 0.08, ProcessingFee: 2.50}

// Compute は時間単価と予約区間から料金を計算します
// 金額はすべてセント単位に丸めます
func (p PricingPolicy) Compute(hourlyRate float64, interval Interval) Pricing {
	hours := interval.Hours()
	subtotal := roundCents(hourlyRate * float64(hours))
	taxes := roundCents(subtotal * p.TaxRate)
	fees := roundCents(p.ProcessingFee)
	return Pricing{
		HourlyRate: hourlyRate,
		TotalHours: hours,
		Subtotal:   subtotal,
		Taxes:      taxes,
		Fees:       fees,
		Total:      roundCents(subtotal + taxes + fees),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
