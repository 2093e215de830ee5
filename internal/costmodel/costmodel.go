// Package costmodel implements the pure notional+side -> fee function:
// commission (both sides, with a floor), stamp tax (sell-only), and
// slippage (both sides). Grounded on the original cost model's
// commission/stamp-tax/slippage split, generalized to decimal arithmetic.
package costmodel

import (
	"ashare-backtest/internal/apperrors"

	"github.com/shopspring/decimal"
)

// Config holds the four rate parameters.
type Config struct {
	CommissionRate decimal.Decimal
	MinCommission  decimal.Decimal
	StampTaxRate   decimal.Decimal
	SlippageRate   decimal.Decimal
}

// DefaultConfig mirrors the reference defaults: commission 0.03%, min fee 5,
// stamp tax 0.1% (sell-only), slippage 0.1%.
func DefaultConfig() Config {
	return Config{
		CommissionRate: decimal.NewFromFloat(0.0003),
		MinCommission:  decimal.NewFromInt(5),
		StampTaxRate:   decimal.NewFromFloat(0.001),
		SlippageRate:   decimal.NewFromFloat(0.001),
	}
}

// Model is a pure function of notional and side under Config.
type Model struct {
	cfg Config
}

// New constructs a Model from cfg.
func New(cfg Config) *Model {
	return &Model{cfg: cfg}
}

func (m *Model) commission(notional decimal.Decimal) decimal.Decimal {
	c := notional.Mul(m.cfg.CommissionRate)
	if c.LessThan(m.cfg.MinCommission) {
		return m.cfg.MinCommission
	}
	return c
}

// BuyCost returns max(notional*commission_rate, min_commission) +
// notional*slippage_rate. notional must be non-negative.
func (m *Model) BuyCost(notional decimal.Decimal) (decimal.Decimal, error) {
	if notional.IsNegative() {
		return decimal.Zero, apperrors.New(apperrors.KindDataIntegrity, "negative notional")
	}
	return m.commission(notional).Add(notional.Mul(m.cfg.SlippageRate)), nil
}

// SellCost returns max(notional*commission_rate, min_commission) +
// notional*stamp_tax_rate + notional*slippage_rate. notional must be
// non-negative.
func (m *Model) SellCost(notional decimal.Decimal) (decimal.Decimal, error) {
	if notional.IsNegative() {
		return decimal.Zero, apperrors.New(apperrors.KindDataIntegrity, "negative notional")
	}
	return m.commission(notional).
		Add(notional.Mul(m.cfg.StampTaxRate)).
		Add(notional.Mul(m.cfg.SlippageRate)), nil
}

// CommissionRate exposes the configured commission rate, used by the
// portfolio package to split a combined fee back into its components for
// the trade log.
func (m *Model) CommissionRate() decimal.Decimal { return m.cfg.CommissionRate }

// MinCommission exposes the configured commission floor.
func (m *Model) MinCommission() decimal.Decimal { return m.cfg.MinCommission }

// StampTaxRate exposes the configured stamp tax rate.
func (m *Model) StampTaxRate() decimal.Decimal { return m.cfg.StampTaxRate }
