package ledger

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	reThousands = regexp.MustCompile(`\.(\d{3})(\D|$)`)
	reSpaces    = regexp.MustCompile(`\s+`)
	reQtyXUnit  = regexp.MustCompile(`(?i)^(.+?)\s+(\d+(?:\.\d+)?)\s*[x×]\s*(\d+(?:\.\d+)?)\s+(\d+(?:\.\d+)?)$`)
	reQtyTotal  = regexp.MustCompile(`^(.+?)\s+(\d+(?:\.\d+)?)\s+(\d+(?:\.\d+)?)`)
	reXQtyTotal = regexp.MustCompile(`(?i)^(.+?)\s+[x×]\s*(\d+(?:\.\d+)?)\s+(\d+(?:\.\d+)?)`)
	reNamePrice = regexp.MustCompile(`^(.+?)\s+(\d+(?:\.\d+)?)`)
)

func normalizeLine(line string) string {
	s := strings.ReplaceAll(line, "€", "")
	s = reThousands.ReplaceAllString(s, "$1$2")
	s = strings.ReplaceAll(s, ",", ".")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func num(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// ParseLine reads one line of receipt text into an item priced in the
// transaction's display currency. Supported shapes:
//
//	Milch 2 x 1.50 3.00
//	Milch x 2 3.00
//	Milch 2 3.00
//	Milch 1.50
func ParseLine(line string, rate float64) (LineItem, bool) {
	s := normalizeLine(line)
	if s == "" {
		return LineItem{}, false
	}

	var name string
	var qty, total float64
	if m := reQtyXUnit.FindStringSubmatch(s); m != nil {
		name, qty, total = m[1], num(m[2]), num(m[4])
	} else if m := reXQtyTotal.FindStringSubmatch(s); m != nil {
		name, qty, total = m[1], num(m[2]), num(m[3])
	} else if m := reQtyTotal.FindStringSubmatch(s); m != nil {
		name, qty, total = m[1], num(m[2]), num(m[3])
	} else if m := reNamePrice.FindStringSubmatch(s); m != nil {
		name, qty, total = m[1], 1, num(m[2])
	} else {
		return LineItem{}, false
	}

	q := int(math.Round(qty))
	if q <= 0 {
		return LineItem{}, false
	}
	item := LineItem{Name: strings.TrimSpace(name), Quantity: q, Extras: map[string]string{}}
	item.SetTotal(total, rate)
	return item, true
}

// ParseLines parses every recognisable line of a text block.
func ParseLines(text string, rate float64) []LineItem {
	var out []LineItem
	for _, line := range strings.Split(text, "\n") {
		if item, ok := ParseLine(line, rate); ok {
			out = append(out, item)
		}
	}
	return out
}
