package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrUnsupportedSnapshot is returned for snapshots that are not JSON objects.
var ErrUnsupportedSnapshot = errors.New("snapshot is not a JSON object")

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02 15:04 UTC"
)

func decodeSnapshot(raw json.RawMessage) (map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return map[string]interface{}{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, ErrUnsupportedSnapshot
	}
	return m, nil
}

// formatValue renders v for display. Equal renderings mean no change, so
// formatting-only differences never surface.
func formatValue(fs fieldSpec, v interface{}, currency string) string {
	if v == nil {
		return ""
	}
	switch fs.kind {
	case kindDate:
		if t, ok := parseTime(v); ok {
			return t.UTC().Format(dateLayout)
		}
	case kindTime:
		if t, ok := parseTime(v); ok {
			return t.UTC().Format(timeLayout)
		}
	case kindMoney:
		if s, ok := formatMoney(v, currency); ok {
			return s
		}
	}
	return formatAuto(v)
}

func formatAuto(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		if t, ok := parseTime(x); ok {
			t = t.UTC()
			if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
				return t.Format(dateLayout)
			}
			return t.Format(timeLayout)
		}
		return strings.TrimSpace(x)
	case json.Number:
		return formatNumber(x)
	case bool:
		if x {
			return "yes"
		}
		return "no"
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func formatNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return n.String()
}

func parseTime(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// formatMoney renders minor units as "USD 1,234.50".
func formatMoney(v interface{}, currency string) (string, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return "", false
	}
	minor, err := n.Int64()
	if err != nil {
		return "", false
	}

	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	p := message.NewPrinter(language.English)
	amount := p.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
	if currency == "" {
		return amount, true
	}
	return strings.ToUpper(currency) + " " + amount, true
}

// deriveLabel turns snake_case or camelCase keys into title-cased words.
func deriveLabel(key string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(key)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return cases.Title(language.English).String(strings.Join(words, " "))
}
