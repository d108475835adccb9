package extract

import (
	"strings"
	"time"
)

// normalizePDFDate converts a PDF date string (D:YYYYMMDDHHmmSS±HH'mm')
// to ISO-8601. The trailing components are all optional, so the parser
// consumes as many fields as are present and defaults the rest.
func normalizePDFDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "D:")
	if len(s) < 4 {
		return "", false
	}

	year, s, ok := takeDigits(s, 4)
	if !ok {
		return "", false
	}
	month, s, _ := takeDigitsDefault(s, 2, 1)
	day, s, _ := takeDigitsDefault(s, 2, 1)
	hour, s, _ := takeDigitsDefault(s, 2, 0)
	minute, s, _ := takeDigitsDefault(s, 2, 0)
	second, s, _ := takeDigitsDefault(s, 2, 0)

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}

	loc := time.UTC
	if len(s) > 0 {
		switch s[0] {
		case 'Z':
			loc = time.UTC
		case '+', '-':
			sign := 1
			if s[0] == '-' {
				sign = -1
			}
			rest := s[1:]
			offH, rest, okH := takeDigits(rest, 2)
			rest = strings.TrimPrefix(rest, "'")
			offM, _, _ := takeDigitsDefault(rest, 2, 0)
			if okH {
				loc = time.FixedZone("", sign*(offH*3600+offM*60))
			}
		}
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
	return t.Format(time.RFC3339), true
}

// takeDigits parses exactly n leading decimal digits from s.
func takeDigits(s string, n int) (int, string, bool) {
	if len(s) < n {
		return 0, s, false
	}
	v := 0
	for i := 0; i < n; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, s, false
		}
		v = v*10 + int(c-'0')
	}
	return v, s[n:], true
}

// takeDigitsDefault parses n digits, falling back to def when the field
// is absent or malformed.
func takeDigitsDefault(s string, n, def int) (int, string, bool) {
	v, rest, ok := takeDigits(s, n)
	if !ok {
		return def, s, false
	}
	return v, rest, true
}

// normalizeISODate parses common date layouts found in office document
// properties and reformats them as RFC 3339.
func normalizeISODate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), true
		}
	}
	return "", false
}
