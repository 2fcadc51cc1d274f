// Package format renders trading signals into bounded push-notification text.
package format

import (
	"fmt"
	"strings"
	"time"

	"signalpush/internal/domain"
)

const (
	EntryPlaceholder = "Manual Review Required"
	LevelPlaceholder = "Check Chart"

	maxTitleRunes       = 50
	attributionNameCap  = 32
	truncationEllipsis  = "…"
	defaultBodyMaxRunes = 400
)

type Config struct {
	TitleMaxRunes     int
	BodyMaxRunes      int
	NarrativeMaxRunes int
	Location          *time.Location
}

// Formatter is pure: the same signal and message always render the same alert.
type Formatter struct {
	titleMax     int
	bodyMax      int
	narrativeMax int
	loc          *time.Location
}

func New(cfg Config) *Formatter {
	if cfg.TitleMaxRunes <= 0 || cfg.TitleMaxRunes > maxTitleRunes {
		cfg.TitleMaxRunes = maxTitleRunes
	}
	if cfg.BodyMaxRunes <= 0 {
		cfg.BodyMaxRunes = defaultBodyMaxRunes
	}
	if cfg.NarrativeMaxRunes <= 0 {
		cfg.NarrativeMaxRunes = domain.MaxNarrativeRunes
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Formatter{
		titleMax:     cfg.TitleMaxRunes,
		bodyMax:      cfg.BodyMaxRunes,
		narrativeMax: cfg.NarrativeMaxRunes,
		loc:          cfg.Location,
	}
}

func (f *Formatter) BodyMax() int { return f.bodyMax }

// Render builds the alert. The narrative is shortened first when the body
// would exceed the cap; attribution names are shortened next. Price lines
// are never dropped.
func (f *Formatter) Render(sig domain.TradingSignal, msg domain.NormalizedMessage) domain.FormattedAlert {
	sig = sig.Normalize()

	head := fmt.Sprintf("🚨 **%s %s**", sig.Instrument, sig.Direction)
	fixed := []string{
		head,
		"Entry: " + priceOr(sig.Entry, EntryPlaceholder),
		"Stop Loss: " + priceOr(sig.StopLoss, LevelPlaceholder),
		"Take Profit: " + priceOr(sig.TakeProfit, LevelPlaceholder),
	}
	if sig.RiskReward.IsSet() {
		fixed = append(fixed, "Risk/Reward: 1:"+sig.RiskReward.String())
	}
	if sig.Timeframe != "" {
		fixed = append(fixed, "Timeframe: "+sig.Timeframe)
	}

	attribution := f.attribution(msg, 0)
	narrative := domain.TruncateRunes(sig.Narrative, f.narrativeMax)

	body := assemble(fixed, narrative, attribution)
	if runeLen(body) > f.bodyMax {
		budget := f.bodyMax - runeLen(assemble(fixed, "", attribution)) - 1
		narrative = shorten(narrative, budget)
		body = assemble(fixed, narrative, attribution)
	}
	if runeLen(body) > f.bodyMax {
		attribution = f.attribution(msg, attributionNameCap/2)
		body = assemble(fixed, narrative, attribution)
	}
	if runeLen(body) > f.bodyMax {
		body = domain.TruncateRunes(body, f.bodyMax)
	}

	return domain.FormattedAlert{
		Title:         f.title(body),
		Body:          body,
		Severity:      domain.SeverityNormal,
		SourceMessage: msg.ID,
	}
}

// SystemAlert renders an operator-initiated urgent alert (not derived from a signal).
func (f *Formatter) SystemAlert(title, message string) domain.FormattedAlert {
	body := domain.TruncateRunes(strings.TrimSpace(message), f.bodyMax)
	if title == "" {
		title = body
	}
	return domain.FormattedAlert{
		Title:    f.title(title),
		Body:     body,
		Severity: domain.SeverityUrgent,
	}
}

// Urgent derives the follow-up variant of an alert. seq counts from 1.
// Over bodyMax, the lines above the attribution are shortened from the end,
// so the narrative goes first.
func Urgent(a domain.FormattedAlert, seq, total, bodyMax int) domain.FormattedAlert {
	if bodyMax <= 0 {
		bodyMax = defaultBodyMaxRunes
	}
	prefix := fmt.Sprintf("🚨 URGENT (%d/%d) ", seq, total)
	a.Body = fitWithLastLine(prefix+a.Body, bodyMax)
	a.Title = domain.TruncateRunes("URGENT: "+a.Title, maxTitleRunes)
	a.Severity = domain.SeverityUrgent
	return a
}

func fitWithLastLine(body string, n int) string {
	if runeLen(body) <= n {
		return body
	}
	i := strings.LastIndexByte(body, '\n')
	if i < 0 {
		return domain.TruncateRunes(body, n)
	}
	rest, last := body[:i], body[i+1:]
	budget := n - runeLen(last) - 1
	if budget <= 0 {
		return domain.TruncateRunes(body, n)
	}
	return shorten(strings.TrimRight(rest, "\n"), budget) + "\n" + last
}

func (f *Formatter) title(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return domain.TruncateRunes(strings.TrimSpace(stripMarkup(line)), f.titleMax)
}

func (f *Formatter) attribution(msg domain.NormalizedMessage, nameCap int) string {
	sender, chat := msg.SenderName, msg.ChatTitle
	if sender == "" {
		sender = "unknown sender"
	}
	if chat == "" {
		chat = msg.Source
	}
	if nameCap > 0 {
		sender = shorten(sender, nameCap)
		chat = shorten(chat, nameCap)
	}
	line := "From " + sender + " in " + chat
	if !msg.Timestamp.IsZero() {
		line += " at " + msg.Timestamp.In(f.loc).Format("2006-01-02 15:04 MST")
	}
	return line
}

func assemble(fixed []string, narrative, attribution string) string {
	lines := make([]string, 0, len(fixed)+2)
	lines = append(lines, fixed...)
	if narrative != "" {
		lines = append(lines, narrative)
	}
	lines = append(lines, attribution)
	return strings.Join(lines, "\n")
}

func priceOr(p domain.Price, placeholder string) string {
	if p.IsSet() {
		return p.String()
	}
	return placeholder
}

var markup = strings.NewReplacer("**", "", "__", "", "*", "", "_", "", "`", "", "~", "", "#", "")

func stripMarkup(s string) string { return markup.Replace(s) }

func shorten(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if runeLen(s) <= n {
		return s
	}
	if n == 1 {
		return truncationEllipsis
	}
	return strings.TrimSpace(domain.TruncateRunes(s, n-1)) + truncationEllipsis
}

func runeLen(s string) int { return len([]rune(s)) }
