package market

import (
	"strconv"
	"strings"
)

// DecimalsFor returns the display precision for a symbol: low-value crypto
// pairs get 6 decimals, JPY pairs 3, everything else 2.
func DecimalsFor(symbol string) int {
	up := strings.ToUpper(symbol)
	switch {
	case strings.Contains(up, "DOGE"), strings.Contains(up, "XRP"), strings.Contains(up, "ADA"):
		return 6
	case strings.Contains(up, "JPY"):
		return 3
	default:
		return 2
	}
}

// FormatPrice renders a price with the symbol's display precision.
func FormatPrice(symbol string, price float64) string {
	return strconv.FormatFloat(price, 'f', DecimalsFor(symbol), 64)
}
