// Package core provides the bank-agnostic domain model shared by adapters,
// storage, the synchronizer and the scheduler.
//
// This file contains locale-aware amount parsing. Banks report amounts with
// either a comma or a dot as the decimal mark, with the other character used
// as a thousands separator, and sometimes with a trailing minus sign.
package core

import (
	"errors"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// NumberStyle names the decimal convention of a bank's amount fields.
type NumberStyle int

const (
	// CommaDecimal is "1.250,00" (Turkish / continental).
	CommaDecimal NumberStyle = iota
	// DotDecimal is "1,250.00".
	DotDecimal
)

var ErrInvalidAmount = errors.New("invalid amount")

// ParseDecimal converts a locale-formatted amount into a canonical decimal.
//
// Examples:
//
//	ParseDecimal("1.250,00", CommaDecimal) -> 1250.00
//	ParseDecimal("-300,00", CommaDecimal)  -> -300.00
//	ParseDecimal("300,00-", CommaDecimal)  -> -300.00
//	ParseDecimal("1,250.5", DotDecimal)    -> 1250.5
func ParseDecimal(s string, style NumberStyle) (decimal.Decimal, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}

	negative := false
	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasSuffix(s, "-"):
		negative = true
		s = s[:len(s)-1]
	}

	thousands, mark := ".", ","
	if style == DotDecimal {
		thousands, mark = ",", "."
	}

	if strings.Count(s, mark) > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, thousands, "")
	s = strings.Replace(s, mark, ".", 1)

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart+fracPart == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return decimal.Zero, ErrInvalidAmount
		}
	}

	d, err := decimal.NewFromString(intPart + "." + fracPart + "0")
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// SignedAmount applies a debit/credit indicator to an unsigned amount.
// Debits are always negative regardless of the sign the bank sent.
func SignedAmount(amount decimal.Decimal, debit bool) decimal.Decimal {
	if debit {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}
