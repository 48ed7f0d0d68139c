package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/susu3304/receiptsplit/internal/currency"
	"github.com/susu3304/receiptsplit/internal/ledger"
	"github.com/susu3304/receiptsplit/internal/settlement"
	"github.com/susu3304/receiptsplit/internal/store"
)

type participantRequest struct {
	Name     string              `json:"name" validate:"required,max=100"`
	Excluded bool                `json:"excluded"`
	Prefs    ledger.DietaryPrefs `json:"prefs"`
}

type itemRequest struct {
	Name      string            `json:"name" validate:"required,max=200"`
	Quantity  int               `json:"qty" validate:"gte=0"`
	UnitPrice *float64          `json:"unitPrice"`
	Total     *float64          `json:"total"`
	Extras    map[string]string `json:"extras"`
	Assigned  map[int]bool      `json:"assigned"`
}

type transactionRequest struct {
	ID           string          `json:"id" validate:"omitempty,max=64"`
	Name         string          `json:"name" validate:"required,max=200"`
	Payer        *int            `json:"payer" validate:"omitempty,gte=0"`
	Currency     string          `json:"currency" validate:"required,len=3,alpha"`
	Rate         float64         `json:"rate" validate:"gte=0"`
	Hidden       bool            `json:"hidden"`
	Items        []itemRequest   `json:"items" validate:"dive"`
	ExtraColumns []ledger.Column `json:"extraColumns"`
}

type groupRequest struct {
	Name         string               `json:"name" validate:"required,max=100"`
	Participants []participantRequest `json:"people" validate:"required,min=1,dive"`
	Transactions []transactionRequest `json:"receipts" validate:"dive"`
	SharedWith   []string             `json:"sharedWith"`
	Order        int                  `json:"order"`
}

func (a *API) handleListGroups(w http.ResponseWriter, r *http.Request) {
	book, err := store.LoadBook(r.Context(), a.store, ownerFrom(r), a.rates.Base())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	groups := make([]*ledger.Group, 0, len(book.Groups))
	for _, g := range book.Groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Order != groups[j].Order {
			return groups[i].Order < groups[j].Order
		}
		return groups[i].Name < groups[j].Name
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"baseCurrency": book.BaseCurrency,
		"folders":      groups,
	})
}

// handlePutGroup creates or replaces a whole group. Transactions without an id
// get a new one and ids must be unique within the group; a zero rate is looked up for the transaction currency.
func (a *API) handlePutGroup(w http.ResponseWriter, r *http.Request) {
	gid := mux.Vars(r)["gid"]
	var req groupRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	group := &ledger.Group{
		ID:           gid,
		Name:         strings.TrimSpace(req.Name),
		Participants: make([]ledger.Participant, len(req.Participants)),
		SharedWith:   req.SharedWith,
		Order:        req.Order,
	}
	for i, p := range req.Participants {
		group.Participants[i] = ledger.Participant{Name: strings.TrimSpace(p.Name), Excluded: p.Excluded, Prefs: p.Prefs}
	}
	seen := make(map[string]bool, len(req.Transactions))
	for i, tr := range req.Transactions {
		tx, err := a.buildTransaction(r, tr, len(group.Participants))
		if err == nil && seen[tx.ID] {
			err = &ledger.ValidationError{Field: "id", Reason: "duplicate transaction id " + strconv.Quote(tx.ID)}
		}
		if err != nil {
			var ve *ledger.ValidationError
			if errors.As(err, &ve) {
				ve.Field = "receipts[" + strconv.Itoa(i) + "]." + ve.Field
			}
			a.writeError(w, r, err)
			return
		}
		seen[tx.ID] = true
		group.Transactions = append(group.Transactions, tx)
	}

	_, err := a.updateBook(r.Context(), ownerFrom(r), func(b *ledger.Book) error {
		b.Groups[gid] = group
		return nil
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) buildTransaction(r *http.Request, req transactionRequest, participants int) (*ledger.Transaction, error) {
	code := strings.ToUpper(req.Currency)
	rate := req.Rate
	if rate == 0 {
		rate = a.rates.RateFor(r.Context(), code)
	}
	tx, err := ledger.NewTransaction(req.Name, code, rate)
	if err != nil {
		return nil, err
	}
	if req.ID != "" {
		tx.ID = req.ID
	}
	if req.Payer != nil {
		if *req.Payer >= participants {
			return nil, &ledger.ValidationError{Field: "payer", Reason: "unknown participant"}
		}
		tx.SetPayer(*req.Payer)
	}
	tx.Hidden = req.Hidden
	tx.ExtraColumns = req.ExtraColumns

	for _, ir := range req.Items {
		item := ledger.LineItem{Name: strings.TrimSpace(ir.Name), Extras: ir.Extras}
		item.SetQuantity(ir.Quantity, rate)
		switch {
		case ir.UnitPrice != nil:
			item.SetUnitPrice(ir.UnitPrice, rate)
		case ir.Total != nil:
			item.SetTotal(*ir.Total, rate)
		}
		for p, v := range ir.Assigned {
			if err := ledger.SetAssignment(&item, p, v, participants); err != nil {
				return nil, &ledger.ValidationError{Field: "assigned", Reason: err.Error()}
			}
		}
		tx.Items = append(tx.Items, item)
	}
	return tx, nil
}

func (a *API) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	gid := mux.Vars(r)["gid"]
	_, err := a.updateBook(r.Context(), ownerFrom(r), func(b *ledger.Book) error {
		if b.Group(gid) == nil {
			return store.ErrNotFound
		}
		delete(b.Groups, gid)
		return nil
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeMessage(w, "group deleted")
}

func (a *API) handleSettlement(w http.ResponseWriter, r *http.Request) {
	book, err := store.LoadBook(r.Context(), a.store, ownerFrom(r), a.rates.Base())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	group := book.Group(mux.Vars(r)["gid"])
	if group == nil {
		a.writeError(w, r, store.ErrNotFound)
		return
	}
	res, err := settlement.Compute(group)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	transfers := settlement.Settle(res.Net)
	writeJSON(w, http.StatusOK, map[string]any{
		"currency":   book.BaseCurrency,
		"result":     res,
		"transfers":  transfers,
		"unassigned": currency.Round2(settlement.Unassigned(group)),
		"unsourced":  currency.Round2(settlement.Unsourced(group)),
		"summary":    settlement.Summary(res, transfers, book.BaseCurrency),
	})
}

func (a *API) handleRetarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency string `json:"currency" validate:"required,len=3,alpha"`
		Rescale  bool   `json:"rescale"`
	}
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	// Warm the rate cache so the lookup does not run under the book lock.
	a.rates.RateFor(r.Context(), req.Currency)
	vars := mux.Vars(r)
	tx, err := a.updateTransaction(r.Context(), ownerFrom(r), vars["gid"], vars["tid"], func(_ *ledger.Group, tx *ledger.Transaction) error {
		a.rates.Retarget(r.Context(), tx, req.Currency, req.Rescale)
		return nil
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleManualRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate   float64 `json:"rate" validate:"gt=0"`
		Reason string  `json:"reason" validate:"max=500"`
	}
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	tx, err := a.updateTransaction(r.Context(), ownerFrom(r), vars["gid"], vars["tid"], func(_ *ledger.Group, tx *ledger.Transaction) error {
		return a.rates.ApplyManualOverride(tx, req.Rate, req.Reason)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleSetAssignment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	itemIdx, err1 := strconv.Atoi(vars["item"])
	participant, err2 := strconv.Atoi(vars["participant"])
	if err1 != nil || err2 != nil {
		a.writeError(w, r, &ledger.ValidationError{Field: "path", Reason: "item and participant must be integers"})
		return
	}
	var req struct {
		Assigned bool `json:"assigned"`
	}
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	var warning bool
	_, err := a.updateTransaction(r.Context(), ownerFrom(r), vars["gid"], vars["tid"], func(g *ledger.Group, tx *ledger.Transaction) error {
		item := tx.Item(itemIdx)
		if item == nil {
			return store.ErrNotFound
		}
		if err := ledger.SetAssignment(item, participant, req.Assigned, len(g.Participants)); err != nil {
			return err
		}
		warning = req.Assigned && ledger.DietaryConflict(item.Name, g.Participants[participant].Prefs)
		return nil
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assigned": req.Assigned, "dietaryWarning": warning})
}

func (a *API) handleImportLines(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text" validate:"required,max=20000"`
	}
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	var added []ledger.LineItem
	_, err := a.updateTransaction(r.Context(), ownerFrom(r), vars["gid"], vars["tid"], func(_ *ledger.Group, tx *ledger.Transaction) error {
		added = ledger.ParseLines(req.Text, tx.Rate)
		if len(added) == 0 {
			return &ledger.ValidationError{Field: "text", Reason: "no receipt lines recognised"}
		}
		for i := range added {
			if len(tx.ExtraColumns) > 0 {
				added[i].Extras = make(map[string]string, len(tx.ExtraColumns))
				for _, c := range tx.ExtraColumns {
					added[i].Extras[c.ID] = ""
				}
			}
		}
		tx.Items = append(tx.Items, added...)
		return nil
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func (a *API) handleWarnings(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	book, err := store.LoadBook(r.Context(), a.store, ownerFrom(r), a.rates.Base())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	g := book.Group(vars["gid"])
	if g == nil || g.Transaction(vars["tid"]) == nil {
		a.writeError(w, r, store.ErrNotFound)
		return
	}
	warnings := g.Warnings(g.Transaction(vars["tid"]))
	if warnings == nil {
		warnings = []ledger.Warning{}
	}
	writeJSON(w, http.StatusOK, warnings)
}
