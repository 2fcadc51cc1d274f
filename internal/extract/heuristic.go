package extract

import (
	"regexp"
	"strings"

	"signalpush/internal/domain"
)

var (
	pairPattern      = regexp.MustCompile(`\b(XAU|XAG|EUR|GBP|USD|JPY|CHF|CAD|AUD|NZD)[/\-\s]?(USD|EUR|GBP|JPY|CHF|CAD|AUD|NZD|GOLD)\b`)
	directionPattern = regexp.MustCompile(`\b(BUY|SELL|LONG|SHORT)\b`)
	pricePattern     = regexp.MustCompile(`\b\d{4}(?:\.\d+)?\b|\b\d{1,3}\.\d{4,5}\b`)
	timeframePattern = regexp.MustCompile(`\b(M1|M5|M15|M30|H1|H4|D1|W1|MN)\b`)
)

// ChartInstructions is the narrative used when a chart image could not be
// analysed automatically.
const ChartInstructions = "Chart needs manual review. Find the blue/red risk-reward tool: " +
	"entry is where the two zones meet, blue zone is take profit, red zone is stop loss. " +
	"Blue above entry means BUY, blue below entry means SELL."

const heuristicExcerptRunes = 200

// HeuristicExtractor pulls what it can from the message text with fixed
// patterns. It never fails and performs no I/O.
type HeuristicExtractor struct{}

func NewHeuristic() *HeuristicExtractor { return &HeuristicExtractor{} }

func (h *HeuristicExtractor) Extract(msg domain.NormalizedMessage) domain.TradingSignal {
	upper := strings.ToUpper(msg.Text)

	sig := domain.TradingSignal{
		Instrument: matchInstrument(upper),
		Direction:  domain.DirectionUnknown,
		Confidence: domain.ConfidenceHeuristic,
	}

	if m := directionPattern.FindString(upper); m != "" {
		sig.Direction = domain.ParseDirection(m)
	}
	if m := timeframePattern.FindString(upper); m != "" {
		sig.Timeframe = m
	}

	// Prices are collected but never assigned a role.
	for _, tok := range pricePattern.FindAllString(upper, -1) {
		if p, ok := domain.ParsePrice(tok); ok {
			sig.Candidates = append(sig.Candidates, p)
		}
	}

	switch {
	case msg.HasMedia && msg.MediaType.IsImage():
		sig.Narrative = ChartInstructions
	default:
		sig.Narrative = domain.TruncateRunes(strings.Join(strings.Fields(msg.Text), " "), heuristicExcerptRunes)
	}

	return sig.Normalize()
}

func matchInstrument(upper string) string {
	if strings.Contains(upper, "GOLD") || strings.Contains(upper, "XAU") {
		return "XAUUSD"
	}
	for _, m := range pairPattern.FindAllStringSubmatch(upper, -1) {
		base, quote := m[1], m[2]
		if quote == "GOLD" || base == quote {
			continue
		}
		return base + quote
	}
	return domain.InstrumentUnknown
}
