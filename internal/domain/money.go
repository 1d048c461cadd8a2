package domain

import "fmt"

// FormatCents renders an amount of cents as a decimal string, e.g.
// 2700 -> "27.00".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
