package settlement

import (
	"fmt"
	"strings"

	"github.com/susu3304/receiptsplit/internal/currency"
)

// Summary renders the settlement as plain text for chat and API clients.
func Summary(res *Result, transfers []Transfer, code string) string {
	var b strings.Builder
	b.WriteString("Totals per person:\n")
	for ai, name := range res.Names {
		fmt.Fprintf(&b, "%s: %s\n", name, currency.Format(res.Consumption[ai], code))
	}

	if len(transfers) == 0 {
		b.WriteString("\nNo transfers needed")
	} else {
		b.WriteString("\nTransfers:\n")
		for _, t := range transfers {
			fmt.Fprintf(&b, "%s → %s: %s\n", res.Names[t.From], res.Names[t.To], currency.Format(t.Amount, code))
		}
	}

	var rows []string
	for i := range res.Debts {
		for j, v := range res.Debts[i] {
			if i == j || currency.Round2(v) == 0 {
				continue
			}
			rows = append(rows, fmt.Sprintf("%s owes %s %s", res.Names[i], res.Names[j], currency.Format(v, code)))
		}
	}
	if len(rows) > 0 {
		b.WriteString("\n\nDirect debts:\n")
		b.WriteString(strings.Join(rows, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}
