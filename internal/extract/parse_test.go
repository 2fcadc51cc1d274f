package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalpush/internal/domain"
)

func TestParseSignal_JSON(t *testing.T) {
	out := "Sure, here it is:\n```json\n" + `{"instrument":"XAU/USD","direction":"sell","entry":2650.50,"stop_loss":"2665.00","take_profit":2620,"risk_reward":null,"timeframe":"h1","rationale":"Rejection at resistance"}` + "\n```"
	sig, err := parseSignal(stripCodeFence(out))
	require.NoError(t, err)

	assert.Equal(t, "XAUUSD", sig.Instrument)
	assert.Equal(t, domain.DirectionSell, sig.Direction)
	assert.Equal(t, "2650.50", sig.Entry.String())
	assert.Equal(t, "2665.00", sig.StopLoss.String())
	assert.Equal(t, "2620", sig.TakeProfit.String())
	assert.Equal(t, "H1", sig.Timeframe)
	assert.Equal(t, domain.ConfidenceAI, sig.Confidence)
	assert.True(t, sig.RiskReward.IsSet(), "derived from levels")
}

func TestParseSignal_GarbagePricesBecomeUnspecified(t *testing.T) {
	sig, err := parseSignal(`{"instrument":"EURUSD","direction":"BUY","entry":"market","stop_loss":"see chart","take_profit":null}`)
	require.NoError(t, err)
	assert.False(t, sig.Entry.IsSet())
	assert.False(t, sig.StopLoss.IsSet())
	assert.False(t, sig.TakeProfit.IsSet())
	assert.False(t, sig.RiskReward.IsSet())
}

func TestParseSignal_LabelledBlock(t *testing.T) {
	out := `**INSTRUMENT**: XAUUSD
**TRADE DIRECTION**: BUY
**ENTRY PRICE**: 2,401.20
**STOP LOSS**: 2390
**TAKE PROFIT**: 2430.5
**TIMEFRAME**: M15
**RISK/REWARD**: 1:2.6
**NOTES**: Blue zone above entry`
	sig, err := parseSignal(out)
	require.NoError(t, err)
	assert.Equal(t, "XAUUSD", sig.Instrument)
	assert.Equal(t, domain.DirectionBuy, sig.Direction)
	assert.Equal(t, "2401.20", sig.Entry.String())
	assert.Equal(t, "2390", sig.StopLoss.String())
	assert.Equal(t, "2430.5", sig.TakeProfit.String())
	assert.Equal(t, "M15", sig.Timeframe)
	assert.Equal(t, "2.60", sig.RiskReward.String())
	assert.Equal(t, "Blue zone above entry", sig.Narrative)
}

func TestParseSignal_UnknownValues(t *testing.T) {
	out := "INSTRUMENT: UNKNOWN\nTRADE DIRECTION: UNKNOWN\nENTRY PRICE: UNKNOWN\nTIMEFRAME: UNKNOWN"
	sig, err := parseSignal(out)
	require.NoError(t, err)
	assert.Equal(t, domain.InstrumentUnknown, sig.Instrument)
	assert.Equal(t, domain.DirectionUnknown, sig.Direction)
	assert.False(t, sig.Entry.IsSet())
	assert.Empty(t, sig.Timeframe)
}

func TestParseSignal_NoFields(t *testing.T) {
	for _, out := range []string{"", "I cannot help with that.", `{"foo":"bar"}`, "{broken json"} {
		_, err := parseSignal(out)
		assert.Error(t, err, out)
	}
}

func TestParseSignal_InvalidEscapes(t *testing.T) {
	sig, err := parseSignal(`{"instrument":"GBPJPY","direction":"SELL","rationale":"drop below 190\% level"}`)
	require.NoError(t, err)
	assert.Equal(t, "GBPJPY", sig.Instrument)
	assert.Contains(t, sig.Narrative, "190% level")
}

func TestFindJSONBounds(t *testing.T) {
	s := `prefix {"a":"}{","b":{"c":1}} suffix`
	start, end := findJSONBounds(s)
	require.GreaterOrEqual(t, start, 0)
	assert.Equal(t, `{"a":"}{","b":{"c":1}}`, s[start:end])

	start, end = findJSONBounds("no json")
	assert.Equal(t, -1, start)
	assert.Equal(t, -1, end)
}

func TestParseSignal_TimeframeBounded(t *testing.T) {
	sig, err := parseSignal(`{"instrument":"EURUSD","timeframe":"the 4 hour chart, H4, with daily confluence and a weekly bias"}`)
	require.NoError(t, err)
	assert.Equal(t, "H4", sig.Timeframe)

	sig, err = parseSignal(`{"instrument":"EURUSD","timeframe":"Daily"}`)
	require.NoError(t, err)
	assert.Equal(t, "DAILY", sig.Timeframe)

	sig, err = parseSignal(`{"instrument":"EURUSD","timeframe":"whatever the chart in the screenshot happens to show"}`)
	require.NoError(t, err)
	assert.Empty(t, sig.Timeframe)
}

func TestSanitizeJSONEscapes_EscapedBackslashBeforeQuote(t *testing.T) {
	in := `{"rationale":"path C:\\","note":"190\% level"}`
	assert.Equal(t, `{"rationale":"path C:\\","note":"190% level"}`, sanitizeJSONEscapes(in))

	sig, err := parseSignal(`{"instrument":"GBPJPY","direction":"SELL","timeframe":"H1\\","rationale":"break of 190\% level"}`)
	require.NoError(t, err)
	assert.Equal(t, "H1", sig.Timeframe)
	assert.Contains(t, sig.Narrative, "190% level")
}
