package model

import "github.com/shopspring/decimal"

// 金額列はdecimal(12,2)
const AmountScale = 2

var MaxAmount = decimal.RequireFromString("9999999999.99")

// 列にそのまま保存できる金額か（上限・小数2桁まで）
func AmountFits(d decimal.Decimal) bool {
	return d.LessThanOrEqual(MaxAmount) && d.Equal(d.Round(AmountScale))
}
