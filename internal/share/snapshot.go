package share

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/susu3304/receiptsplit/internal/ledger"
)

const (
	envelopeVersion = 2

	TypeReceipt = "receipt"
	TypeFolder  = "folder"

	// legacyFolderID is the transaction id old links used for a folder share.
	legacyFolderID = "folder"
)

var ErrInvalidToken = errors.New("invalid share token")

type Person struct {
	Name  string              `json:"name"`
	Prefs ledger.DietaryPrefs `json:"prefs"`
}

type Item struct {
	Name      string            `json:"name"`
	Quantity  int               `json:"qty"`
	UnitPrice *float64          `json:"unitPrice,omitempty"`
	Total     *float64          `json:"total,omitempty"`
	Extras    map[string]string `json:"extras,omitempty"`
	Assigned  map[int]bool      `json:"assigned,omitempty"`
}

type Transaction struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Payer         *int            `json:"payer,omitempty"`
	Currency      string          `json:"currency"`
	Rate          float64         `json:"rate"`
	RateTimestamp time.Time       `json:"rateDate"`
	ExtraColumns  []ledger.Column `json:"extraColumns,omitempty"`
	Items         []Item          `json:"items"`
}

// UnmarshalJSON also accepts links written by the browser app, which stored
// qty as any number and assigned as an array indexed by participant.
func (it *Item) UnmarshalJSON(data []byte) error {
	type plain Item
	aux := struct {
		*plain
		Quantity *float64        `json:"qty"`
		Assigned json.RawMessage `json:"assigned"`
	}{plain: (*plain)(it)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Quantity != nil {
		it.Quantity = int(math.Round(*aux.Quantity))
	}
	assigned, err := decodeAssigned(aux.Assigned)
	if err != nil {
		return err
	}
	it.Assigned = assigned
	return nil
}

func decodeAssigned(raw json.RawMessage) (map[int]bool, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []*bool
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		out := make(map[int]bool)
		for i, v := range list {
			if v != nil && *v {
				out[i] = true
			}
		}
		return out, nil
	}
	var m map[int]bool
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// UnmarshalJSON accepts rateDate as RFC 3339 or as epoch milliseconds, and a
// negative payer as "no payer".
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type plain Transaction
	aux := struct {
		*plain
		RateTimestamp json.RawMessage `json:"rateDate"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := decodeRateDate(aux.RateTimestamp)
	if err != nil {
		return err
	}
	t.RateTimestamp = ts
	if t.Payer != nil && *t.Payer < 0 {
		t.Payer = nil
	}
	return nil
}

func decodeRateDate(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}
	if s[0] == '"' {
		var ts time.Time
		err := json.Unmarshal(raw, &ts)
		return ts, err
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("rateDate: %w", err)
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

// Snapshot is a point-in-time copy of a transaction or a whole group. A
// legacy snapshot carries only its identifiers; see Service.Resolve.
type Snapshot struct {
	Version       int           `json:"v"`
	Type          string        `json:"type"`
	Owner         string        `json:"owner"`
	GroupID       string        `json:"folderId"`
	GroupName     string        `json:"folderName,omitempty"`
	TransactionID string        `json:"receiptId,omitempty"`
	People        []Person      `json:"people"`
	Receipt       *Transaction  `json:"receipt,omitempty"`
	Receipts      []Transaction `json:"receipts,omitempty"`

	Legacy bool `json:"-"`
}

// Transactions returns the transactions carried by the snapshot.
func (s *Snapshot) Transactions() []Transaction {
	if s.Type == TypeReceipt {
		if s.Receipt == nil {
			return nil
		}
		return []Transaction{*s.Receipt}
	}
	return s.Receipts
}

// Transaction returns the carried transaction with id, or nil.
func (s *Snapshot) Transaction(id string) *Transaction {
	if s.Receipt != nil && s.Receipt.ID == id {
		return s.Receipt
	}
	for i := range s.Receipts {
		if s.Receipts[i].ID == id {
			return &s.Receipts[i]
		}
	}
	return nil
}

func snapshotPeople(g *ledger.Group) []Person {
	out := make([]Person, len(g.Participants))
	for i, p := range g.Participants {
		out[i] = Person{Name: p.Name, Prefs: p.Prefs}
	}
	return out
}

func snapshotTransaction(tx *ledger.Transaction) Transaction {
	st := Transaction{
		ID:            tx.ID,
		Name:          tx.Name,
		Currency:      tx.Currency,
		Rate:          tx.Rate,
		RateTimestamp: tx.RateTimestamp,
		Items:         make([]Item, len(tx.Items)),
	}
	if tx.Payer != nil {
		p := *tx.Payer
		st.Payer = &p
	}
	if len(tx.ExtraColumns) > 0 {
		st.ExtraColumns = append([]ledger.Column(nil), tx.ExtraColumns...)
	}
	for i, it := range tx.Items {
		si := Item{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: copyFloat(it.UnitPrice),
			Total:     copyFloat(it.Total),
		}
		if len(it.Extras) > 0 {
			si.Extras = make(map[string]string, len(it.Extras))
			for k, v := range it.Extras {
				si.Extras[k] = v
			}
		}
		if len(it.Assigned) > 0 {
			si.Assigned = make(map[int]bool, len(it.Assigned))
			for k, v := range it.Assigned {
				si.Assigned[k] = v
			}
		}
		st.Items[i] = si
	}
	return st
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// NewReceiptSnapshot copies one transaction of the group.
func NewReceiptSnapshot(owner string, g *ledger.Group, tx *ledger.Transaction) *Snapshot {
	st := snapshotTransaction(tx)
	return &Snapshot{
		Version:       envelopeVersion,
		Type:          TypeReceipt,
		Owner:         owner,
		GroupID:       g.ID,
		GroupName:     g.Name,
		TransactionID: tx.ID,
		People:        snapshotPeople(g),
		Receipt:       &st,
	}
}

// NewFolderSnapshot copies every transaction of the group.
func NewFolderSnapshot(owner string, g *ledger.Group) *Snapshot {
	s := &Snapshot{
		Version:   envelopeVersion,
		Type:      TypeFolder,
		Owner:     owner,
		GroupID:   g.ID,
		GroupName: g.Name,
		People:    snapshotPeople(g),
		Receipts:  make([]Transaction, 0, len(g.Transactions)),
	}
	for _, tx := range g.Transactions {
		s.Receipts = append(s.Receipts, snapshotTransaction(tx))
	}
	return s
}

// Encode serialises the snapshot into a URL-safe token.
func (s *Snapshot) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func EncodeReceipt(owner string, g *ledger.Group, tx *ledger.Transaction) (string, error) {
	return NewReceiptSnapshot(owner, g, tx).Encode()
}

func EncodeFolder(owner string, g *ledger.Group) (string, error) {
	return NewFolderSnapshot(owner, g).Encode()
}

// DecodeSnapshot parses a share token. Structured envelopes are tried first,
// then the legacy "owner|groupId|transactionId" form. Anything else yields
// ErrInvalidToken.
func DecodeSnapshot(token string) (*Snapshot, error) {
	raw, ok := decodeBase64(strings.TrimSpace(token))
	if !ok {
		return nil, ErrInvalidToken
	}
	if s, ok := decodeEnvelope(raw); ok {
		return s, nil
	}
	if s, ok := decodeLegacy(string(raw)); ok {
		return s, nil
	}
	return nil, ErrInvalidToken
}

func decodeBase64(token string) ([]byte, bool) {
	if token == "" {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if raw, err := enc.DecodeString(token); err == nil {
			return raw, true
		}
	}
	return nil, false
}

func decodeEnvelope(raw []byte) (*Snapshot, bool) {
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	// Unversioned envelopes predate the version field and share its layout.
	if s.Version != 0 && s.Version != envelopeVersion {
		return nil, false
	}
	if s.Owner == "" || s.GroupID == "" {
		return nil, false
	}
	switch s.Type {
	case TypeReceipt:
		if s.Receipt == nil {
			return nil, false
		}
		if s.TransactionID == "" {
			s.TransactionID = s.Receipt.ID
		}
	case TypeFolder:
	default:
		return nil, false
	}
	s.Version = envelopeVersion
	return &s, true
}

func decodeLegacy(raw string) (*Snapshot, bool) {
	parts := strings.Split(raw, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, false
	}
	s := &Snapshot{
		Type:          TypeReceipt,
		Owner:         parts[0],
		GroupID:       parts[1],
		TransactionID: parts[2],
		Legacy:        true,
	}
	if parts[2] == legacyFolderID {
		s.Type = TypeFolder
		s.TransactionID = ""
	}
	return s, true
}
