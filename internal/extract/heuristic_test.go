package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"signalpush/internal/domain"
)

func textMessage(text string) domain.NormalizedMessage {
	return domain.NormalizedMessage{ID: "1", Source: "telegram", Text: text}
}

func TestHeuristic_ReferenceSignal(t *testing.T) {
	sig := NewHeuristic().Extract(textMessage("XAUUSD SELL at 2650.50, Stop Loss: 2665.00, Take Profit: 2620.00"))

	assert.Equal(t, "XAUUSD", sig.Instrument)
	assert.Equal(t, domain.DirectionSell, sig.Direction)
	assert.Equal(t, domain.ConfidenceHeuristic, sig.Confidence)

	// matched but never assigned
	assert.False(t, sig.Entry.IsSet())
	assert.False(t, sig.StopLoss.IsSet())
	assert.False(t, sig.TakeProfit.IsSet())
	if assert.Len(t, sig.Candidates, 3) {
		assert.Equal(t, "2650.50", sig.Candidates[0].String())
		assert.Equal(t, "2620.00", sig.Candidates[2].String())
	}
}

func TestHeuristic_GoldAlwaysWins(t *testing.T) {
	h := NewHeuristic()
	for _, text := range []string{
		"gold looking heavy, short it",
		"EUR/USD and XAU both moving",
		"xau/usd buy",
		"GBPJPY long, also watching GOLD",
	} {
		assert.Equal(t, "XAUUSD", h.Extract(textMessage(text)).Instrument, text)
	}
}

func TestHeuristic_PairSeparators(t *testing.T) {
	h := NewHeuristic()
	cases := map[string]string{
		"eur/usd buy now":    "EURUSD",
		"GBP-JPY short":      "GBPJPY",
		"aud cad long":       "AUDCAD",
		"NZDUSD sell 0.5912": "NZDUSD",
		"nothing here":       domain.InstrumentUnknown,
	}
	for text, want := range cases {
		assert.Equal(t, want, h.Extract(textMessage(text)).Instrument, text)
	}
}

func TestHeuristic_Direction(t *testing.T) {
	h := NewHeuristic()
	assert.Equal(t, domain.DirectionBuy, h.Extract(textMessage("going LONG on eurusd")).Direction)
	assert.Equal(t, domain.DirectionSell, h.Extract(textMessage("short gbpusd then buy later")).Direction)
	assert.Equal(t, domain.DirectionUnknown, h.Extract(textMessage("buying opportunity soon")).Direction)
}

func TestHeuristic_PricePatterns(t *testing.T) {
	sig := NewHeuristic().Extract(textMessage("EURUSD entry 1.08500 sl 1.0820 target 1.09 and 2650"))
	var got []string
	for _, p := range sig.Candidates {
		got = append(got, p.String())
	}
	assert.Equal(t, []string{"1.08500", "1.0820", "2650"}, got)
}

func TestHeuristic_ChartImageNarrative(t *testing.T) {
	msg := domain.NormalizedMessage{ID: "2", HasMedia: true, MediaType: domain.MediaPhoto}
	sig := NewHeuristic().Extract(msg)
	assert.Equal(t, ChartInstructions, sig.Narrative)
	assert.Equal(t, domain.InstrumentUnknown, sig.Instrument)
	assert.Contains(t, sig.Narrative, "blue")
}

func TestHeuristic_Timeframe(t *testing.T) {
	assert.Equal(t, "H4", NewHeuristic().Extract(textMessage("xauusd h4 setup")).Timeframe)
}

func TestHeuristic_NeverPanics(t *testing.T) {
	h := NewHeuristic()
	inputs := []string{
		"", " ", "\x00\xff", strings.Repeat("9", 10000), "SELL SELL SELL", "🚀🚀 BUY 🚀🚀",
		"USD/USD", "1.2.3.4.5", "XAUUSD\n\n\nSELL",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			sig := h.Extract(textMessage(in))
			assert.NotEmpty(t, sig.Instrument)
			for _, p := range sig.Candidates {
				assert.True(t, p.IsSet())
			}
		})
	}
}
