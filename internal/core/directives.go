package core

import "regexp"

// Directive is a structured market tag users embed in their text (e.g.
// "@SPOT") to steer query generation. The core only passes names through;
// icon resolution is presentation-layer.
type Directive struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

var defaultDirectives = []Directive{
	{ID: 1, Name: "SPOT", Description: "Spot market trading data", Icon: "CircleDollarSign"},
	{ID: 2, Name: "STIRT", Description: "Short-term interest rate trading data", Icon: "TrendingUp"},
	{ID: 3, Name: "TITAN", Description: "Titan trading platform data", Icon: "BarChart"},
	{ID: 4, Name: "FX", Description: "Foreign exchange market data", Icon: "Repeat"},
	{ID: 5, Name: "BONDS", Description: "Bond market trading data", Icon: "Landmark"},
}

// DefaultDirectives returns the built-in directive registry.
func DefaultDirectives() []Directive {
	out := make([]Directive, len(defaultDirectives))
	copy(out, defaultDirectives)
	return out
}

var directivePattern = regexp.MustCompile(`@([A-Z]+)`)

// ParseDirectives extracts directive names from user text, in order of
// appearance, without the leading "@".
func ParseDirectives(text string) []string {
	matches := directivePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}
