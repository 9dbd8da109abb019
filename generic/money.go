package generic

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY - The two currencies a due is priced in
// =============================================================================

// Currency identifies the unit a Money value is expressed in.
// Conversion between currencies is an external concern; the engine never
// converts, it only carries both figures side by side.
type Currency string

const (
	CurrencyUSD Currency = "USD" // currency A
	CurrencyVES Currency = "VES" // currency B
)

// minorScale is the number of decimal places in a minor unit (cents) for both currencies.
const minorScale = 2

// MaxMinor is the largest magnitude accepted at the boundary. minor*rate stays
// within int64 for any rate up to 100%.
const MaxMinor int64 = 900_000_000_000_000

var (
	maxMinorDecimal   = decimal.NewFromInt(MaxMinor)
	maxBasisPointsDec = decimal.NewFromInt(math.MaxInt64)
)

func (c Currency) Valid() bool {
	return c == CurrencyUSD || c == CurrencyVES
}

// =============================================================================
// MONEY - Integer minor units, never floats
// =============================================================================

// Money is an amount of a single currency expressed in minor units.
type Money struct {
	Minor    int64
	Currency Currency
}

func NewMoney(minor int64, c Currency) Money { return Money{Minor: minor, Currency: c} }
func USD(minor int64) Money                  { return Money{Minor: minor, Currency: CurrencyUSD} }
func VES(minor int64) Money                  { return Money{Minor: minor, Currency: CurrencyVES} }

// MoneyFromDecimal converts a major-unit decimal ("50.00") into minor units,
// rounding half away from zero at the second decimal place. Amounts beyond
// MaxMinor are rejected with ErrInvalidAmount.
func MoneyFromDecimal(d decimal.Decimal, c Currency) (Money, error) {
	minor := d.Shift(minorScale).Round(0)
	if minor.Abs().GreaterThan(maxMinorDecimal) {
		return Money{}, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d)
	}
	return Money{Minor: minor.IntPart(), Currency: c}, nil
}

// ParseMoney parses a decimal string in major units. Empty strings parse as zero.
func ParseMoney(s string, c Currency) (Money, error) {
	if s == "" {
		return Money{Currency: c}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidAmount, s)
	}
	return MoneyFromDecimal(d, c)
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal { return decimal.New(m.Minor, -minorScale) }

// Major formats the amount in major units with two decimals ("2.50").
func (m Money) Major() string { return m.Decimal().StringFixed(minorScale) }

func (m Money) String() string { return m.Major() + " " + string(m.Currency) }

func (m Money) IsZero() bool     { return m.Minor == 0 }
func (m Money) IsNegative() bool { return m.Minor < 0 }

func (m Money) Add(o Money) Money {
	m.mustMatch(o)
	return Money{Minor: m.Minor + o.Minor, Currency: m.Currency}
}

func (m Money) Sub(o Money) Money {
	m.mustMatch(o)
	return Money{Minor: m.Minor - o.Minor, Currency: m.Currency}
}

// ApplyRate returns m * rate, rounded half away from zero to the nearest minor unit.
// Integer-only: minor*rate stays within int64 for amounts below ~9e14 minor units.
func (m Money) ApplyRate(rate BasisPoints) Money {
	p := m.Minor * int64(rate)
	half := int64(OneHundredPercent) / 2
	if p >= 0 {
		p += half
	} else {
		p -= half
	}
	return Money{Minor: p / int64(OneHundredPercent), Currency: m.Currency}
}

func (m Money) mustMatch(o Money) {
	if m.Currency != o.Currency {
		panic(fmt.Sprintf("money: currency mismatch %s vs %s", m.Currency, o.Currency))
	}
}

// =============================================================================
// AMOUNTS - The dual-currency pair carried by every price and penalty
// =============================================================================

// Amounts holds the same obligation expressed in both currencies.
// Each side is computed independently; the pair is never cross-converted.
type Amounts struct {
	USD Money
	VES Money
}

func NewAmounts(usdMinor, vesMinor int64) Amounts {
	return Amounts{USD: USD(usdMinor), VES: VES(vesMinor)}
}

// ParseAmounts parses a pair of major-unit decimal strings.
func ParseAmounts(usd, ves string) (Amounts, error) {
	a, err := ParseMoney(usd, CurrencyUSD)
	if err != nil {
		return Amounts{}, err
	}
	b, err := ParseMoney(ves, CurrencyVES)
	if err != nil {
		return Amounts{}, err
	}
	return Amounts{USD: a, VES: b}, nil
}

// Normalize fills in the currency tags of a zero-valued pair.
func (a Amounts) Normalize() Amounts {
	a.USD.Currency = CurrencyUSD
	a.VES.Currency = CurrencyVES
	return a
}

func (a Amounts) Add(b Amounts) Amounts { return Amounts{USD: a.USD.Add(b.USD), VES: a.VES.Add(b.VES)} }
func (a Amounts) Sub(b Amounts) Amounts { return Amounts{USD: a.USD.Sub(b.USD), VES: a.VES.Sub(b.VES)} }

func (a Amounts) ApplyRate(rate BasisPoints) Amounts {
	return Amounts{USD: a.USD.ApplyRate(rate), VES: a.VES.ApplyRate(rate)}
}

func (a Amounts) IsZero() bool     { return a.USD.IsZero() && a.VES.IsZero() }
func (a Amounts) IsNegative() bool { return a.USD.IsNegative() || a.VES.IsNegative() }

// Validate checks currency tags and rejects negative figures.
func (a Amounts) Validate() error {
	if a.USD.Currency != CurrencyUSD || a.VES.Currency != CurrencyVES {
		return fmt.Errorf("%w: amounts must be tagged %s/%s", ErrInvalidAmount, CurrencyUSD, CurrencyVES)
	}
	if a.IsNegative() {
		return fmt.Errorf("%w: negative amount %s / %s", ErrInvalidAmount, a.USD, a.VES)
	}
	return nil
}

func (a Amounts) String() string { return a.USD.String() + " / " + a.VES.String() }

// =============================================================================
// BASIS POINTS - Percentages stored as integers (500 = 5%)
// =============================================================================

type BasisPoints int64

const OneHundredPercent BasisPoints = 10000

// ParsePercent parses a percentage string ("5", "5.25") into basis points.
func ParsePercent(s string) (BasisPoints, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a percentage", ErrInvalidConfiguration, s)
	}
	return PercentFromDecimal(d)
}

// PercentFromDecimal converts a percentage to basis points, rounding half away
// from zero. Values that do not fit are rejected with ErrInvalidConfiguration.
func PercentFromDecimal(d decimal.Decimal) (BasisPoints, error) {
	bp := d.Shift(2).Round(0)
	if bp.Abs().GreaterThan(maxBasisPointsDec) {
		return 0, fmt.Errorf("%w: percentage %s is out of range", ErrInvalidConfiguration, d)
	}
	return BasisPoints(bp.IntPart()), nil
}

// Percent returns the rate as a percentage decimal (500 -> 5).
func (b BasisPoints) Percent() decimal.Decimal { return decimal.New(int64(b), -2) }

func (b BasisPoints) String() string { return b.Percent().StringFixed(2) + "%" }
