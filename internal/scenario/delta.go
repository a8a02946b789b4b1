package scenario

import (
	"strconv"
	"strings"

	"github.com/henrysouchien/portfolio-risk-engine/internal/domain"
)

// ParseDelta parses a per-ticker weight shift expressed as a bare decimal
// ("-0.01"), a percent string ("1.5%"), or a basis-point string
// ("+200bp"/"-75bps"), returning the shift as a decimal weight delta.
func ParseDelta(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(trimmed, "bps"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(trimmed, "bps"), 64)
		if err != nil {
			return 0, invalidDelta(s, err)
		}
		return n / 10000, nil
	case strings.HasSuffix(trimmed, "bp"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(trimmed, "bp"), 64)
		if err != nil {
			return 0, invalidDelta(s, err)
		}
		return n / 10000, nil
	case strings.HasSuffix(trimmed, "%"):
		n, err := strconv.ParseFloat(strings.TrimSuffix(trimmed, "%"), 64)
		if err != nil {
			return 0, invalidDelta(s, err)
		}
		return n / 100, nil
	default:
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, invalidDelta(s, err)
		}
		return n, nil
	}
}

func invalidDelta(raw string, cause error) error {
	return domain.NewError(domain.ErrInputInvalid, "delta string is not a recognized bp/percent/decimal shift",
		domain.WithSuggestion("use a form like +200bp, -75bps, 1.5%, or -0.01"),
		domain.WithCause(cause))
}
