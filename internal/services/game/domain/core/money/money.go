// Package money parses the loosely formatted amounts found in rule data and
// formats balances for display.
package money

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Parse reads amounts such as "$200K", "1.5M", "-$50,000" or "750".
func Parse(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}
	sign := 1
	switch value[0] {
	case '-':
		sign = -1
		value = value[1:]
	case '+':
		value = value[1:]
	}
	value = strings.TrimPrefix(strings.TrimSpace(value), "$")
	value = strings.ReplaceAll(value, ",", "")

	multiplier := 1.0
	if n := len(value); n > 0 {
		switch value[n-1] {
		case 'k', 'K':
			multiplier = 1_000
			value = value[:n-1]
		case 'm', 'M':
			multiplier = 1_000_000
			value = value[:n-1]
		case 'b', 'B':
			multiplier = 1_000_000_000
			value = value[:n-1]
		}
	}

	number, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return sign * int(math.Round(number*multiplier)), nil
}

// ParsePercent reads "5%" as 5. The second result is false when raw is not a
// percentage.
func ParsePercent(raw string) (float64, bool) {
	value := strings.TrimSpace(raw)
	if !strings.HasSuffix(value, "%") {
		return 0, false
	}
	number, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(value, "%")), 64)
	if err != nil {
		return 0, false
	}
	return number, true
}

// ParseDays reads "5 days", "1 day" or "5".
func ParseDays(raw string) (int, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimSuffix(value, "days")
	value = strings.TrimSuffix(value, "day")
	days, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse days %q: %w", raw, err)
	}
	return days, nil
}

// Percent returns pct percent of amount, rounded to the nearest unit.
func Percent(amount int, pct float64) int {
	return int(math.Round(float64(amount) * pct / 100))
}

// Format renders an amount with thousands grouping, e.g. "$1,250,000".
func Format(amount int) string {
	if amount < 0 {
		return printer.Sprintf("-$%d", -amount)
	}
	return printer.Sprintf("$%d", amount)
}
