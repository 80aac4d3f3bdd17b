package tools

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// money renders v with thousands separators and two decimals
func money(v float64) string {
	return printer.Sprintf("%.2f", v)
}

// grouped renders v rounded to an integer with thousands separators
func grouped(v float64) string {
	return printer.Sprintf("%.0f", v)
}

func percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
}

// decimal renders v the shortest way that still shows a fractional part
func decimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func optionalString(s *string) string {
	if s == nil {
		return "None"
	}
	return *s
}

func optionalDecimal(v *float64) string {
	if v == nil {
		return "None"
	}
	return decimal(*v)
}

const isoDateLayout = "2006-01-02"

// isoDateLayouts are accepted for date arguments, most specific first
var isoDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	isoDateLayout,
}

func parseISODate(s string) (time.Time, bool) {
	for _, layout := range isoDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
