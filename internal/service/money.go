package service

import "github.com/shopspring/decimal"

func decimalInt(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }

// round2 rounds to pence.
func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }
