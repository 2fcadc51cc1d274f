package extract

import (
	"fmt"
	"strings"
	"time"

	"signalpush/internal/domain"
)

const schemaInstructions = `Respond with a single JSON object and nothing else:
{
  "instrument": "symbol such as XAUUSD or EURUSD, or UNKNOWN",
  "direction": "BUY, SELL or UNKNOWN",
  "entry": number or null,
  "stop_loss": number or null,
  "take_profit": number or null,
  "risk_reward": number or null,
  "timeframe": "e.g. M15, H1, H4, or null",
  "rationale": "one or two short sentences"
}
Use null for any value that is not stated. Never invent prices.`

// chartAnalysisPrompt is stage one of the image path. Its fixed-field output
// is also accepted by parseSignal if stage two fails to produce JSON.
const chartAnalysisPrompt = `You are analysing a trading chart screenshot.

Step 1: Read the instrument symbol from the chart title or watermark.
Step 2: Find the risk/reward drawing tool: two stacked coloured boxes, one BLUE (or green) and one RED.
Step 3: The line where the two boxes meet is the ENTRY price.
Step 4: The far edge of the RED box is the STOP LOSS. The far edge of the BLUE box is the TAKE PROFIT.
        If the BLUE box is above the entry the trade is BUY; if it is below, the trade is SELL.
Step 5: Read the timeframe label (M5, M15, H1, H4, D1...) and the risk/reward ratio if it is printed.

Answer using exactly these lines, writing UNKNOWN for anything you cannot read:
**INSTRUMENT**:
**TRADE DIRECTION**:
**ENTRY PRICE**:
**STOP LOSS**:
**TAKE PROFIT**:
**TIMEFRAME**:
**RISK/REWARD**:
**NOTES**: `

// VerifyPrompt and VerifyReply form the connectivity self-check.
const (
	VerifyPrompt = "Reply with exactly: FOREX READY"
	VerifyReply  = "FOREX READY"
)

func messageContext(msg domain.NormalizedMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s", msg.Source)
	if msg.ChatTitle != "" {
		fmt.Fprintf(&b, " (%s)", msg.ChatTitle)
	}
	b.WriteString("\n")
	if msg.SenderName != "" {
		fmt.Fprintf(&b, "Sender: %s\n", msg.SenderName)
	}
	if !msg.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Posted: %s\n", msg.Timestamp.UTC().Format(time.RFC3339))
	}
	return b.String()
}

func textPrompt(msg domain.NormalizedMessage) string {
	return "Extract the trading signal from this chat message.\n\n" +
		messageContext(msg) +
		"Message:\n\"\"\"\n" + msg.Text + "\n\"\"\"\n\n" +
		schemaInstructions
}

func structurePrompt(analysis string, msg domain.NormalizedMessage) string {
	var b strings.Builder
	b.WriteString("Convert this chart analysis into the trading signal schema.\n\n")
	b.WriteString(messageContext(msg))
	if strings.TrimSpace(msg.Text) != "" {
		b.WriteString("Caption:\n\"\"\"\n" + msg.Text + "\n\"\"\"\n")
	}
	b.WriteString("Chart analysis:\n\"\"\"\n" + analysis + "\n\"\"\"\n\n")
	b.WriteString(schemaInstructions)
	return b.String()
}
