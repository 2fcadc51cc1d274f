package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"signalpush/internal/domain"
)

var errNoSignalFields = errors.New("no signal fields in model output")

// parseSignal reads model output into a TradingSignal. A JSON object
// (optionally fenced or wrapped in prose) is tried first, then labelled
// "KEY: value" lines. Price fields that do not parse stay unspecified.
func parseSignal(output string) (domain.TradingSignal, error) {
	content := stripCodeFence(strings.TrimSpace(output))

	if start, end := findJSONBounds(content); start >= 0 && end > start {
		if fields, err := decodeObject(content[start:end]); err == nil {
			if sig, ok := signalFromFields(fields); ok {
				return sig, nil
			}
		}
	}

	if fields := labelledFields(content); len(fields) > 0 {
		if sig, ok := signalFromFields(fields); ok {
			return sig, nil
		}
	}

	return domain.TradingSignal{}, errNoSignalFields
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) >= 3 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return content
}

// findJSONBounds locates the first top-level JSON object in s.
// Returns start and end+1, or (-1, -1).
func findJSONBounds(s string) (int, int) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return -1, -1
	}
	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			if ch == '\\' {
				i++
				continue
			}
			if ch == '"' {
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

func decodeObject(raw string) (map[string]string, error) {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		dec = json.NewDecoder(bytes.NewReader([]byte(sanitizeJSONEscapes(raw))))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return nil, err
		}
	}
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		key := canonicalKey(k)
		if key == "" || v == nil {
			continue
		}
		switch val := v.(type) {
		case json.Number:
			fields[key] = val.String()
		case string:
			fields[key] = val
		case bool:
			// never meaningful in this schema
		default:
			fields[key] = fmt.Sprint(val)
		}
	}
	return fields, nil
}

// sanitizeJSONEscapes drops backslashes that start invalid JSON escapes.
func sanitizeJSONEscapes(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			if i+1 >= len(s) {
				break
			}
			switch s[i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				escaped = true
			default:
				continue
			}
		case ch == '"':
			inString = !inString
		}
		buf.WriteByte(ch)
	}
	return buf.String()
}

// signalFromFields reports ok=false when none of the recognised fields are present.
func signalFromFields(f map[string]string) (domain.TradingSignal, bool) {
	sig := domain.TradingSignal{Confidence: domain.ConfidenceAI}
	recognised := 0
	if v, ok := f["instrument"]; ok {
		sig.Instrument = instrumentField(v)
		recognised++
	}
	if v, ok := f["direction"]; ok {
		sig.Direction = domain.ParseDirection(v)
		recognised++
	}
	if v, ok := f["entry"]; ok {
		sig.Entry = priceField(v)
		recognised++
	}
	if v, ok := f["stop_loss"]; ok {
		sig.StopLoss = priceField(v)
		recognised++
	}
	if v, ok := f["take_profit"]; ok {
		sig.TakeProfit = priceField(v)
		recognised++
	}
	if v, ok := f["risk_reward"]; ok {
		sig.RiskReward = ratioField(v)
	}
	if v, ok := f["timeframe"]; ok {
		sig.Timeframe = timeframeField(v)
	}
	if v, ok := f["rationale"]; ok {
		sig.Narrative = optionalText(v)
	}
	if recognised == 0 {
		return domain.TradingSignal{}, false
	}
	return sig.DeriveRiskReward().Normalize(), true
}
