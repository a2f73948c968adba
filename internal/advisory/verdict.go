package advisory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"futures-signal-bot-go/internal/trade"
)

var (
	// ErrVetoed means the reasoning service refused the trade.
	ErrVetoed = errors.New("advisory veto")
	// ErrMalformedVerdict means an approval came without a usable proposal. It is handled like a veto.
	ErrMalformedVerdict = errors.New("malformed advisory verdict")
)

var requiredFields = []string{"symbol", "side", "entry", "stop_loss", "take_profit", "confidence"}

// ParseVerdict reads the service's reply. The refusal marker anywhere in the
// text vetoes; otherwise the reply must carry a JSON proposal, optionally in a
// ```json fence, with every required field present.
func ParseVerdict(text, refusalMarker string) (trade.Proposal, error) {
	if refusalMarker != "" && strings.Contains(strings.ToUpper(text), strings.ToUpper(refusalMarker)) {
		return trade.Proposal{}, ErrVetoed
	}

	raw, ok := extractJSON(text)
	if !ok {
		return trade.Proposal{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedVerdict)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return trade.Proposal{}, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	for _, f := range requiredFields {
		if v, ok := fields[f]; !ok || string(v) == "null" {
			return trade.Proposal{}, fmt.Errorf("%w: missing %s", ErrMalformedVerdict, f)
		}
	}

	var p trade.Proposal
	var err error
	if p.Symbol, err = str(fields["symbol"]); err != nil {
		return trade.Proposal{}, fmt.Errorf("%w: symbol: %v", ErrMalformedVerdict, err)
	}
	side, err := str(fields["side"])
	if err != nil {
		return trade.Proposal{}, fmt.Errorf("%w: side: %v", ErrMalformedVerdict, err)
	}
	if p.Side, err = trade.ParseSide(side); err != nil {
		return trade.Proposal{}, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	for name, dst := range map[string]*float64{
		"entry":       &p.Entry,
		"stop_loss":   &p.StopLoss,
		"take_profit": &p.TakeProfit,
		"confidence":  &p.Confidence,
	} {
		if *dst, err = number(fields[name]); err != nil {
			return trade.Proposal{}, fmt.Errorf("%w: %s: %v", ErrMalformedVerdict, name, err)
		}
	}
	if v, ok := fields["leverage"]; ok {
		if lev, err := number(v); err == nil && lev > 0 {
			p.Leverage = int(lev)
		}
	}
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	return p, nil
}

// extractJSON returns the fenced ```json block if there is one, else the span from the first '{' to the last '}'.
func extractJSON(text string) (string, bool) {
	if start := strings.Index(text, "```json"); start >= 0 {
		body := text[start+len("```json"):]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body), true
	}
	open := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if open < 0 || end <= open {
		return "", false
	}
	return text[open : end+1], true
}

// str accepts a JSON string, or a bare number such as a side of -1.
func str(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("not a string: %s", raw)
	}
	return n.String(), nil
}

// number accepts a JSON number or a numeric string.
func number(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
}
