// Package money provides fixed-point decimal arithmetic for wallet amounts.
//
// Amounts are represented as uint64 base units, each unit worth 1e-8 of the
// display denomination (the same scale Bitcoin uses for satoshis). No
// floating point value ever represents an amount anywhere in walletd.
package money

import (
	"fmt"
	"math/big"
)

// Decimals is the fixed fractional precision every amount is scaled to.
const Decimals = 8

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Format renders a base-unit amount as a decimal string, e.g. Format(100000000) == "1".
func Format(amount uint64) string {
	amountBig := new(big.Int).SetUint64(amount)

	whole := new(big.Int).Div(amountBig, unit)
	frac := new(big.Int).Mod(amountBig, unit)

	if frac.Sign() == 0 {
		return whole.String()
	}

	fracStr := fmt.Sprintf("%0*d", Decimals, frac)
	for len(fracStr) > 0 && fracStr[len(fracStr)-1] == '0' {
		fracStr = fracStr[:len(fracStr)-1]
	}

	return fmt.Sprintf("%s.%s", whole.String(), fracStr)
}

// FormatFixed renders a base-unit amount with exactly Decimals fractional
// digits, e.g. FormatFixed(100000000) == "1.00000000". Used for canonical
// serialization (tx hashing) where trailing zeros must not be trimmed.
func FormatFixed(amount uint64) string {
	amountBig := new(big.Int).SetUint64(amount)
	whole := new(big.Int).Div(amountBig, unit)
	frac := new(big.Int).Mod(amountBig, unit)
	return fmt.Sprintf("%s.%0*d", whole.String(), Decimals, frac)
}

// Parse converts a decimal string into base units. It rejects negative
// values, empty strings, non-digit characters and values that overflow
// uint64.
func Parse(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("money: empty amount")
	}

	var wholeStr, fracStr string
	dot := -1
	for i, c := range s {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot >= 0 {
		wholeStr = s[:dot]
		fracStr = s[dot+1:]
	} else {
		wholeStr = s
	}
	if wholeStr == "" {
		wholeStr = "0"
	}

	for _, c := range wholeStr {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("money: invalid character in amount %q", s)
		}
	}
	for _, c := range fracStr {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("money: invalid character in amount %q", s)
		}
	}
	if len(fracStr) > Decimals {
		return 0, fmt.Errorf("money: too many fractional digits in %q", s)
	}
	for len(fracStr) < Decimals {
		fracStr += "0"
	}

	combined := wholeStr + fracStr
	amount := new(big.Int)
	if _, ok := amount.SetString(combined, 10); !ok {
		return 0, fmt.Errorf("money: invalid amount %q", s)
	}
	if amount.Sign() < 0 {
		return 0, fmt.Errorf("money: negative amount %q", s)
	}
	if !amount.IsUint64() {
		return 0, fmt.Errorf("money: amount overflow %q", s)
	}

	return amount.Uint64(), nil
}

// Add adds two amounts, returning an error on uint64 overflow.
func Add(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("money: overflow adding %d and %d", a, b)
	}
	return sum, nil
}

// Sub subtracts b from a, returning an error if the result would be negative.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("money: underflow subtracting %d from %d", b, a)
	}
	return a - b, nil
}

// SumUint64 adds a slice of amounts, returning an error on overflow.
func SumUint64(amounts []uint64) (uint64, error) {
	var total uint64
	for _, a := range amounts {
		var err error
		total, err = Add(total, a)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
