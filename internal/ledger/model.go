package ledger

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DietaryPrefs struct {
	Vegan     bool `json:"vegan"`
	NoAlcohol bool `json:"noAlcohol"`
	NoOlives  bool `json:"noOlives"`
	NoNuts    bool `json:"noNuts"`
}

// Participant is identified by its position in Group.Participants.
type Participant struct {
	Name     string       `json:"name"`
	Excluded bool         `json:"excluded,omitempty"`
	Prefs    DietaryPrefs `json:"prefs"`
}

type Column struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LineItem struct {
	Name      string            `json:"name"`
	Quantity  int               `json:"qty"`
	UnitPrice *float64          `json:"unitPrice,omitempty"`
	Total     *float64          `json:"total,omitempty"`
	TotalBase *float64          `json:"totalBase,omitempty"`
	Extras    map[string]string `json:"extras,omitempty"`
	Assigned  map[int]bool      `json:"assigned,omitempty"`
}

type Transaction struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Payer          *int       `json:"payer,omitempty"`
	Currency       string     `json:"currency"`
	Rate           float64    `json:"rate"`
	RateTimestamp  time.Time  `json:"rateDate"`
	ManualOverride bool       `json:"rateManual,omitempty"`
	ManualReason   *string    `json:"manualReason,omitempty"`
	Hidden         bool       `json:"hidden,omitempty"`
	Items          []LineItem `json:"items"`
	ExtraColumns   []Column   `json:"extraColumns,omitempty"`
}

// NewTransaction returns an empty transaction with a fresh id.
func NewTransaction(name, currency string, rate float64) (*Transaction, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(currency) != 3 {
		return nil, &ValidationError{Field: "currency", Reason: fmt.Sprintf("invalid currency code %q", currency)}
	}
	if !ValidRate(rate) {
		return nil, &ValidationError{Field: "rate", Reason: "must be a positive number"}
	}
	return &Transaction{
		ID:            uuid.NewString(),
		Name:          name,
		Currency:      strings.ToUpper(currency),
		Rate:          rate,
		RateTimestamp: time.Now(),
		Items:         []LineItem{},
	}, nil
}

// ValidRate reports whether r can be used as an exchange rate.
func ValidRate(r float64) bool {
	return r > 0 && !math.IsNaN(r) && !math.IsInf(r, 0)
}

// PayerIndex returns the payer index when one is set.
func (t *Transaction) PayerIndex() (int, bool) {
	if t.Payer == nil {
		return 0, false
	}
	return *t.Payer, true
}

func (t *Transaction) SetPayer(idx int) {
	t.Payer = &idx
}

func (t *Transaction) ClearPayer() {
	t.Payer = nil
}

// AddColumn appends an extra column and initialises it on every item.
func (t *Transaction) AddColumn(name string) Column {
	col := Column{ID: uuid.NewString(), Name: name}
	t.ExtraColumns = append(t.ExtraColumns, col)
	for i := range t.Items {
		if t.Items[i].Extras == nil {
			t.Items[i].Extras = make(map[string]string)
		}
		t.Items[i].Extras[col.ID] = ""
	}
	return col
}

// Item returns a pointer to the item at idx, or nil when it no longer exists.
func (t *Transaction) Item(idx int) *LineItem {
	if idx < 0 || idx >= len(t.Items) {
		return nil
	}
	return &t.Items[idx]
}

type Group struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Participants []Participant  `json:"people"`
	Transactions []*Transaction `json:"receipts"`
	SharedWith   []string       `json:"sharedWith,omitempty"`
	Order        int            `json:"order"`
}

func (g *Group) Transaction(id string) *Transaction {
	for _, tx := range g.Transactions {
		if tx.ID == id {
			return tx
		}
	}
	return nil
}

// ActiveIndices lists the indices of non-excluded participants in order.
func (g *Group) ActiveIndices() []int {
	out := make([]int, 0, len(g.Participants))
	for i, p := range g.Participants {
		if !p.Excluded {
			out = append(out, i)
		}
	}
	return out
}

// Book is the whole persisted state of one owner.
type Book struct {
	Owner        string            `json:"owner"`
	BaseCurrency string            `json:"baseCurrency"`
	Groups       map[string]*Group `json:"folders"`
}

func NewBook(owner, baseCurrency string) *Book {
	return &Book{Owner: owner, BaseCurrency: baseCurrency, Groups: make(map[string]*Group)}
}

func (b *Book) Group(id string) *Group {
	if b == nil || b.Groups == nil {
		return nil
	}
	return b.Groups[id]
}

// FindTransaction looks up a transaction across all groups.
func (b *Book) FindTransaction(id string) (*Group, *Transaction) {
	if b == nil {
		return nil, nil
	}
	for _, g := range b.Groups {
		if tx := g.Transaction(id); tx != nil {
			return g, tx
		}
	}
	return nil, nil
}

type DeltaEntry struct {
	ItemIndex        int  `json:"itemIndex"`
	ParticipantIndex int  `json:"personIndex"`
	Assigned         bool `json:"assigned"`
}

// PendingDelta is a staged set of assignment proposals for one transaction.
type PendingDelta struct {
	OwnerID       string       `json:"owner"`
	TransactionID string       `json:"receiptId"`
	Entries       []DeltaEntry `json:"entries"`
	SubmittedAt   time.Time    `json:"submittedAt"`
}
