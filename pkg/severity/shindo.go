package severity

import (
	"strings"
)

// Shindo is one bucket of the JMA seismic intensity scale.
type Shindo int

const (
	Shindo0 Shindo = iota
	Shindo1
	Shindo2
	Shindo3
	Shindo4
	Shindo5Lower
	Shindo5Upper
	Shindo6Lower
	Shindo6Upper
	Shindo7
)

// upper bounds (exclusive) of every bucket but the last, in scale order.
var shindoThresholds = [...]float64{0.5, 1.5, 2.5, 3.5, 4.5, 5.0, 5.5, 6.0, 6.5}

var shindoNames = [...]string{"0", "1", "2", "3", "4", "5-", "5+", "6-", "6+", "7"}

var shindoLabels = [...]string{"震度０", "震度１", "震度２", "震度３", "震度４", "震度５弱", "震度５強", "震度６弱", "震度６強", "震度７"}

// ShindoFromIntensity maps an instrumental intensity to its bucket. Boundary
// values belong to the upper bucket.
func ShindoFromIntensity(intensity float64) Shindo {
	for i, threshold := range shindoThresholds {
		if intensity < threshold {
			return Shindo(i)
		}
	}

	return Shindo7
}

// Valid reports whether s is one of the ten scale buckets.
func (s Shindo) Valid() bool {
	return s >= Shindo0 && s <= Shindo7
}

// String returns the short scale name ("0".."4", "5-", "5+", "6-", "6+", "7").
func (s Shindo) String() string {
	if !s.Valid() {
		return "?"
	}

	return shindoNames[s]
}

// Label returns the Japanese display label, for example "震度５弱".
func (s Shindo) Label() string {
	if !s.Valid() {
		return "震度不明"
	}

	return shindoLabels[s]
}

// LowerBound returns the smallest intensity that maps to s.
func (s Shindo) LowerBound() float64 {
	if s <= Shindo0 {
		return 0
	}
	if s > Shindo7 {
		s = Shindo7
	}

	return shindoThresholds[s-1]
}

// ParseShindo accepts a short scale name ("3", "5-", "6+"), a Japanese label
// ("震度３", "震度５弱") or free text containing such a label.
func ParseShindo(text string) (Shindo, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, false
	}

	for i, name := range shindoNames {
		if trimmed == name {
			return Shindo(i), true
		}
	}

	normalized := strings.NewReplacer(
		"5弱", "５弱", "5強", "５強", "6弱", "６弱", "6強", "６強",
		"震度0", "震度０", "震度1", "震度１", "震度2", "震度２", "震度3", "震度３", "震度4", "震度４", "震度7", "震度７",
	).Replace(trimmed)

	// Longest labels first so "震度５弱" is not mistaken for a shorter match.
	for i := len(shindoLabels) - 1; i >= 0; i-- {
		if strings.Contains(normalized, shindoLabels[i]) {
			return Shindo(i), true
		}
	}

	return 0, false
}
