package ledger

import "math"

func ptr(v float64) *float64 { return &v }

func defined(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0)
}

// BaseValue returns the item value in base currency. It prefers TotalBase, then
// Total converted with rate, then Total verbatim.
func (it *LineItem) BaseValue(rate float64) (float64, bool) {
	switch {
	case defined(it.TotalBase):
		return *it.TotalBase, true
	case defined(it.Total) && ValidRate(rate):
		return *it.Total / rate, true
	case defined(it.Total):
		return *it.Total, true
	}
	return 0, false
}

// SetQuantity updates the quantity and rederives Total and TotalBase from the unit price.
func (it *LineItem) SetQuantity(qty int, rate float64) {
	if qty < 0 {
		qty = 0
	}
	it.Quantity = qty
	it.deriveFromUnitPrice(rate)
}

// SetUnitPrice updates the display unit price; nil clears every value.
func (it *LineItem) SetUnitPrice(price *float64, rate float64) {
	if price == nil || !defined(price) {
		it.UnitPrice, it.Total, it.TotalBase = nil, nil, nil
		return
	}
	it.UnitPrice = ptr(*price)
	it.deriveFromUnitPrice(rate)
}

// SetTotal updates the display total directly.
func (it *LineItem) SetTotal(total float64, rate float64) {
	it.Total = ptr(total)
	if it.Quantity > 0 {
		it.UnitPrice = ptr(total / float64(it.Quantity))
	}
	if ValidRate(rate) {
		it.TotalBase = ptr(total / rate)
	}
}

func (it *LineItem) deriveFromUnitPrice(rate float64) {
	if !defined(it.UnitPrice) {
		it.Total, it.TotalBase = nil, nil
		return
	}
	total := *it.UnitPrice * float64(it.Quantity)
	it.Total = ptr(total)
	if ValidRate(rate) {
		it.TotalBase = ptr(total / rate)
	} else {
		it.TotalBase = nil
	}
}

// Rescale recomputes display values from TotalBase at newRate. When TotalBase is
// missing it is first derived at oldRate so no value is lost.
func (it *LineItem) Rescale(oldRate, newRate float64) {
	if !defined(it.TotalBase) {
		if !ValidRate(oldRate) {
			return
		}
		switch {
		case defined(it.UnitPrice):
			it.TotalBase = ptr(*it.UnitPrice * float64(it.Quantity) / oldRate)
		case defined(it.Total):
			it.TotalBase = ptr(*it.Total / oldRate)
		default:
			return
		}
	}
	total := *it.TotalBase * newRate
	it.Total = ptr(total)
	switch {
	case it.Quantity > 0:
		it.UnitPrice = ptr(total / float64(it.Quantity))
	case defined(it.UnitPrice) && ValidRate(oldRate):
		// Zero quantity: the unit price cannot come from the total.
		it.UnitPrice = ptr(*it.UnitPrice / oldRate * newRate)
	default:
		it.UnitPrice = nil
	}
}
