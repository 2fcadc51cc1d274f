package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// InstrumentUnknown is used when no tradable instrument could be identified.
const InstrumentUnknown = "UNKNOWN"

// MaxNarrativeRunes bounds TradingSignal.Narrative.
const MaxNarrativeRunes = 600

// MaxTimeframeRunes bounds TradingSignal.Timeframe ("H4", "Daily", "4 hours").
const MaxTimeframeRunes = 12

type Direction string

const (
	DirectionBuy     Direction = "BUY"
	DirectionSell    Direction = "SELL"
	DirectionUnknown Direction = "UNKNOWN"
)

// ParseDirection maps free-form direction words to a Direction.
// LONG is BUY and SHORT is SELL.
func ParseDirection(s string) Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG", "BULLISH":
		return DirectionBuy
	case "SELL", "SHORT", "BEARISH":
		return DirectionSell
	default:
		return DirectionUnknown
	}
}

type Confidence string

const (
	ConfidenceAI         Confidence = "AI_DERIVED"
	ConfidenceHeuristic  Confidence = "HEURISTIC"
	ConfidenceUnresolved Confidence = "UNRESOLVED"
)

// Price is either a validated positive decimal or unspecified.
// The zero value is unspecified.
type Price struct {
	value decimal.Decimal
	set   bool
}

func Unspecified() Price { return Price{} }

// NewPrice returns a specified price. Non-positive values yield Unspecified.
func NewPrice(d decimal.Decimal) Price {
	if !d.IsPositive() {
		return Price{}
	}
	return Price{value: d, set: true}
}

// ParsePrice accepts strings such as "2650.50", "1,234.5" or "$1.08500".
func ParsePrice(s string) (Price, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return Price{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, false
	}
	p := NewPrice(d)
	return p, p.set
}

func (p Price) IsSet() bool { return p.set }

func (p Price) Decimal() decimal.Decimal { return p.value }

// String keeps the precision the price was written with ("2650.50" stays
// "2650.50"). Unspecified prices render as the empty string.
func (p Price) String() string {
	if !p.set {
		return ""
	}
	if exp := p.value.Exponent(); exp < 0 {
		return p.value.StringFixed(-exp)
	}
	return p.value.String()
}

// TradingSignal is the structured result of extraction.
type TradingSignal struct {
	Instrument string     `json:"instrument"`
	Direction  Direction  `json:"direction"`
	Entry      Price      `json:"-"`
	StopLoss   Price      `json:"-"`
	TakeProfit Price      `json:"-"`
	RiskReward Price      `json:"-"`
	Timeframe  string     `json:"timeframe,omitempty"`
	Narrative  string     `json:"narrative,omitempty"`
	Confidence Confidence `json:"confidence"`

	// Candidates holds price-like tokens found by the heuristic path, in order
	// of appearance. They are never promoted to Entry/StopLoss/TakeProfit.
	Candidates []Price `json:"-"`
}

// Normalize fills sentinels and bounds free text. It returns the copy.
func (s TradingSignal) Normalize() TradingSignal {
	s.Instrument = strings.ToUpper(strings.TrimSpace(s.Instrument))
	if s.Instrument == "" {
		s.Instrument = InstrumentUnknown
	}
	switch s.Direction {
	case DirectionBuy, DirectionSell:
	default:
		s.Direction = DirectionUnknown
	}
	if s.Confidence == "" {
		s.Confidence = ConfidenceUnresolved
	}
	s.Timeframe = TruncateRunes(strings.TrimSpace(s.Timeframe), MaxTimeframeRunes)
	s.Narrative = TruncateRunes(strings.TrimSpace(s.Narrative), MaxNarrativeRunes)
	return s
}

// DeriveRiskReward fills RiskReward from entry, stop and target when all three
// are set and no ratio was supplied.
func (s TradingSignal) DeriveRiskReward() TradingSignal {
	if s.RiskReward.IsSet() || !s.Entry.IsSet() || !s.StopLoss.IsSet() || !s.TakeProfit.IsSet() {
		return s
	}
	risk := s.Entry.Decimal().Sub(s.StopLoss.Decimal()).Abs()
	reward := s.TakeProfit.Decimal().Sub(s.Entry.Decimal()).Abs()
	if risk.IsZero() {
		return s
	}
	s.RiskReward = NewPrice(reward.DivRound(risk, 2))
	return s
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
