package ledger

// SetAssignment marks whether a participant consumes the item. Repeated calls with
// the same value leave the item unchanged.
func SetAssignment(item *LineItem, participant int, value bool, participantCount int) error {
	if participant < 0 || participant >= participantCount {
		return ErrParticipantOutOfRange
	}
	if item.Assigned == nil {
		item.Assigned = make(map[int]bool)
	}
	item.Assigned[participant] = value
	return nil
}

// IsAssigned reports the stored assignment of a participant.
func IsAssigned(item *LineItem, participant int) bool {
	return item.Assigned != nil && item.Assigned[participant]
}

// ActiveAssignees returns, in ascending order, the assigned participants that are
// not excluded.
func ActiveAssignees(item *LineItem, participants []Participant) []int {
	var out []int
	for idx := range participants {
		if participants[idx].Excluded {
			continue
		}
		if IsAssigned(item, idx) {
			out = append(out, idx)
		}
	}
	return out
}

// PerPersonShare splits the item base value evenly across active assignees.
// It is 0 when nobody active consumes the item or the value is undefined.
func PerPersonShare(item *LineItem, participants []Participant, rate float64) float64 {
	n := len(ActiveAssignees(item, participants))
	if n == 0 {
		return 0
	}
	base, ok := item.BaseValue(rate)
	if !ok {
		return 0
	}
	return base / float64(n)
}
