package domain

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Money is an amount in paise, the smallest INR subunit.
// JSON and YAML carry it as rupees with at most two fractional digits.
type Money int64

// PaisePerRupee is the subunit ratio.
const PaisePerRupee = 100

// MaxMoney bounds any single amount and any sum of amounts in a request:
// one lakh crore rupees. Sums of bounded amounts stay far inside int64.
const MaxMoney Money = 1_000_000_000_000 * PaisePerRupee

var (
	hundred     = decimal.NewFromInt(PaisePerRupee)
	maxMoneyDec = decimal.NewFromInt(int64(MaxMoney))
)

// Rupees builds a Money value from whole rupees.
func Rupees(r int64) Money {
	return Money(r * PaisePerRupee)
}

// ParseMoney parses a rupee amount such as "1250.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal converts a rupee decimal into paise.
// More than two fractional digits is rejected rather than rounded, and so is
// any magnitude above MaxMoney.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	paise := d.Mul(hundred)
	if !paise.Equal(paise.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", d.String())
	}
	if paise.Abs().GreaterThan(maxMoneyDec) {
		return 0, fmt.Errorf("amount %s exceeds the maximum of %s", d.String(), MaxMoney)
	}
	return Money(paise.IntPart()), nil
}

// AddBounded returns m+o, or false when the sum leaves [-MaxMoney, MaxMoney].
// Both operands must already be within that range.
func (m Money) AddBounded(o Money) (Money, bool) {
	sum := m + o
	if sum > MaxMoney || sum < -MaxMoney {
		return 0, false
	}
	return sum, true
}

// Decimal returns the amount in paise as a decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(m))
}

// RupeeDecimal returns the amount in rupees as a decimal.
func (m Money) RupeeDecimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if m > o {
		return m
	}
	return o
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if m < o {
		return m
	}
	return o
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

// String renders rupees with two decimals, e.g. "1250.50".
func (m Money) String() string {
	return m.RupeeDecimal().StringFixed(2)
}

// MarshalJSON writes the rupee amount as a JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("invalid amount %s: %w", s, err)
		}
		s = unq
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// UnmarshalText lets yaml.v3 decode plain scalars into Money.
func (m *Money) UnmarshalText(text []byte) error {
	v, err := ParseMoney(string(bytes.TrimSpace(text)))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalText renders the rupee amount.
func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// RoundToRupee rounds a paise decimal to the nearest whole rupee,
// half away from zero, and returns it as Money.
func RoundToRupee(paise decimal.Decimal) Money {
	return Money(paise.Div(hundred).Round(0).Mul(hundred).IntPart())
}

// RoundToPaisa rounds a paise decimal to a whole paisa.
func RoundToPaisa(paise decimal.Decimal) Money {
	return Money(paise.Round(0).IntPart())
}
