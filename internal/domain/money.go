package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

var currencyUnit atomic.Pointer[string]

func init() {
	unit := "MZN"
	currencyUnit.Store(&unit)
}

// SetCurrencyUnit fixes the currency assigned to every Money read from the wire
func SetCurrencyUnit(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return
	}
	currencyUnit.Store(&code)
}

// CurrencyUnit returns the configured currency code
func CurrencyUnit() string {
	return *currencyUnit.Load()
}

// Money is a monetary amount in the configured currency unit
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(amount string) (Money, error) {
	d, err := parseAmount(amount)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: d, Currency: CurrencyUnit()}, nil
}

func MustMoney(amount string) Money {
	m, err := NewMoney(amount)
	if err != nil {
		panic(err)
	}
	return m
}

// Equal compares amounts by value, so 1.5 equals 1.50
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

type moneyWire struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	currency := m.Currency
	if currency == "" {
		currency = CurrencyUnit()
	}
	return json.Marshal(struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}{Amount: m.Amount.String(), Currency: currency})
}

// UnmarshalJSON reads amount as a plain decimal (string or number) and ignores the wire currency
func (m *Money) UnmarshalJSON(data []byte) error {
	var w moneyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	raw := strings.TrimSpace(string(w.Amount))
	if raw == "" || raw == "null" {
		return fmt.Errorf("money: amount is missing")
	}
	raw = strings.Trim(raw, `"`)
	d, err := parseAmount(raw)
	if err != nil {
		return err
	}
	m.Amount = d
	m.Currency = CurrencyUnit()
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if strings.ContainsAny(s, "eE") {
		return decimal.Decimal{}, fmt.Errorf("money: scientific notation is not accepted: %q", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return d, nil
}
