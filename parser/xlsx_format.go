package parser

import (
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// formatGeneral renders a number the way the General format shows it:
// at most 15 significant digits, no trailing zeros.
func formatGeneral(v string) string {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return v
	}
	return strconv.FormatFloat(f, 'g', 15, 64)
}

// renderNumber applies a built-in or custom number format to a raw cell
// value. It covers the formats documents use in practice (fixed decimals,
// thousands separators, percentages, dates and times) and falls back to
// General for anything else.
func renderNumber(v string, id int, code string, date1904 bool) string {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}

	if isDateFormat(id, code) {
		t, err := excelize.ExcelDateToTime(f, date1904)
		if err != nil {
			return formatGeneral(v)
		}
		return t.Format(dateLayout(id, code))
	}

	switch id {
	case 1:
		return strconv.FormatFloat(f, 'f', 0, 64)
	case 2:
		return strconv.FormatFloat(f, 'f', 2, 64)
	case 3:
		return thousands(strconv.FormatFloat(f, 'f', 0, 64))
	case 4:
		return thousands(strconv.FormatFloat(f, 'f', 2, 64))
	case 9:
		return strconv.FormatFloat(f*100, 'f', 0, 64) + "%"
	case 10:
		return strconv.FormatFloat(f*100, 'f', 2, 64) + "%"
	}
	if code == "" {
		return formatGeneral(v)
	}

	section := stripLiterals(strings.SplitN(code, ";", 2)[0])
	if !strings.ContainsAny(section, "0#?") {
		return formatGeneral(v)
	}
	decimals := 0
	if i := strings.IndexByte(section, '.'); i >= 0 {
		for _, r := range section[i+1:] {
			if r != '0' && r != '#' && r != '?' {
				break
			}
			decimals++
		}
	}
	if strings.Contains(section, "%") {
		return strconv.FormatFloat(f*100, 'f', decimals, 64) + "%"
	}
	s := strconv.FormatFloat(f, 'f', decimals, 64)
	if strings.Contains(section, ",") {
		s = thousands(s)
	}
	return s
}

// isDateFormat reports whether a number format renders dates or times.
func isDateFormat(id int, code string) bool {
	switch {
	case id >= 14 && id <= 22, id >= 27 && id <= 36, id >= 45 && id <= 47, id >= 50 && id <= 58:
		return true
	case code == "":
		return false
	}
	section := strings.ToLower(stripLiterals(strings.SplitN(code, ";", 2)[0]))
	return strings.ContainsAny(section, "ymdhs")
}

func dateLayout(id int, code string) string {
	var hasDate, hasTime bool
	switch {
	case id >= 18 && id <= 21, id >= 45 && id <= 47:
		hasTime = true
	case id == 22:
		hasDate, hasTime = true, true
	case id >= 14 && id <= 17, id >= 27 && id <= 36, id >= 50 && id <= 58:
		hasDate = true
	default:
		section := strings.ToLower(stripLiterals(code))
		hasDate = strings.ContainsAny(section, "yd")
		hasTime = strings.ContainsAny(section, "hs")
		if !hasDate && !hasTime {
			hasDate = true
		}
	}
	switch {
	case hasDate && hasTime:
		return "2006-01-02 15:04:05"
	case hasTime:
		return "15:04:05"
	}
	return "2006-01-02"
}

// stripLiterals removes quoted text, escaped characters and bracketed
// sections (colors, conditions, locales) from a format code.
func stripLiterals(code string) string {
	var b strings.Builder
	inQuote, inBracket, escaped := false, false, false
	for _, r := range code {
		switch {
		case escaped:
			escaped = false
		case inQuote:
			inQuote = r != '"'
		case inBracket:
			inBracket = r != ']'
		case r == '"':
			inQuote = true
		case r == '[':
			inBracket = true
		case r == '\\' || r == '_' || r == '*':
			escaped = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// thousands inserts comma separators into the integer part of a decimal
// string.
func thousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}
