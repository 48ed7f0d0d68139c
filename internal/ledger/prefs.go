package ledger

import (
	"regexp"
	"strings"
)

var (
	reNotVegan = regexp.MustCompile(`käse|cheese|milch|milk|fleisch|wurst|meat|egg`)
	reAlcohol  = regexp.MustCompile(`bier|beer|wine|wein|vodka|whisky|gin`)
	reOlives   = regexp.MustCompile(`olive|oliven`)
	reNuts     = regexp.MustCompile(`nuss|nuts|almond|mandel`)
)

// DietaryConflict reports whether an item name clashes with the preferences.
func DietaryConflict(itemName string, prefs DietaryPrefs) bool {
	name := strings.ToLower(itemName)
	switch {
	case prefs.Vegan && reNotVegan.MatchString(name):
		return true
	case prefs.NoAlcohol && reAlcohol.MatchString(name):
		return true
	case prefs.NoOlives && reOlives.MatchString(name):
		return true
	case prefs.NoNuts && reNuts.MatchString(name):
		return true
	}
	return false
}

type Warning struct {
	ItemIndex        int    `json:"itemIndex"`
	ParticipantIndex int    `json:"participantIndex"`
	Item             string `json:"item"`
	Participant      string `json:"participant"`
}

// Warnings lists active assignments of a transaction that clash with the
// assignee's dietary preferences.
func (g *Group) Warnings(tx *Transaction) []Warning {
	var out []Warning
	for i := range tx.Items {
		for _, p := range ActiveAssignees(&tx.Items[i], g.Participants) {
			if DietaryConflict(tx.Items[i].Name, g.Participants[p].Prefs) {
				out = append(out, Warning{
					ItemIndex:        i,
					ParticipantIndex: p,
					Item:             tx.Items[i].Name,
					Participant:      g.Participants[p].Name,
				})
			}
		}
	}
	return out
}
