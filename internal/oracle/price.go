// Package oracle feeds basket NAV quotes into the engine: a reconnecting
// websocket stream for live updates, a REST snapshot for startup and
// fallback, and a cache that enforces quote freshness. All prices are parsed
// straight into fixed-point integers; no float ever touches a quote.
package oracle

import (
	"errors"
	"fmt"
	"strings"

	"baskt-core/internal/fixedpoint"
)

var (
	ErrInvalidPrice = errors.New("invalid price string")
	ErrStaleQuote   = errors.New("stale oracle quote")
	ErrNoQuote      = errors.New("no oracle quote")
)

// ParsePrice converts a decimal string such as "1.05" into a PricePrecision
// fixed-point integer (1_050_000). More fractional digits than the precision
// carries are rejected rather than rounded.
func ParsePrice(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" || s == "." {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	const fracDigits = 6 // PricePrecision = 1e6
	if len(frac) > fracDigits {
		return 0, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidPrice, s, fracDigits)
	}
	var value int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
		}
		d := int64(r - '0')
		v, err := fixedpoint.Mul(value, 10)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
		}
		value, err = fixedpoint.Add(v, d)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
		}
	}
	value, err := fixedpoint.Mul(value, fixedpoint.PricePrecision)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	scale := int64(fixedpoint.PricePrecision)
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
		}
		scale /= 10
		value += int64(r-'0') * scale
	}
	if neg {
		value = -value
	}
	return value, nil
}

// FormatPrice renders a fixed-point price back to its decimal string with
// trailing zeros trimmed.
func FormatPrice(p int64) string {
	neg := p < 0
	if neg {
		p = -p
	}
	whole := p / fixedpoint.PricePrecision
	frac := p % fixedpoint.PricePrecision
	out := fmt.Sprintf("%d", whole)
	if frac > 0 {
		f := strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
		out += "." + f
	}
	if neg {
		out = "-" + out
	}
	return out
}
