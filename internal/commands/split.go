package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/receiptsplit/internal/currency"
	"github.com/susu3304/receiptsplit/internal/ledger"
	"github.com/susu3304/receiptsplit/internal/settlement"
	"github.com/susu3304/receiptsplit/internal/share"
	"github.com/susu3304/receiptsplit/internal/store"
)

var errGroupNotFound = errors.New("folder not found")

// Split answers the /split command. A user's Discord id is their book owner.
type Split struct {
	store   store.Store
	base    string
	webBase string
	log     *zap.Logger
}

func NewSplit(st store.Store, baseCurrency, webUIBaseURL string, log *zap.Logger) *Split {
	return &Split{store: st, base: baseCurrency, webBase: strings.TrimRight(webUIBaseURL, "/"), log: log}
}

func (h *Split) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		respondText(s, i, "Usage: /split groups | settle | share | pending")
		return
	}
	sub := data.Options[0]
	owner := getUserID(i)
	if owner == "" {
		respondText(s, i, "Could not identify you.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		msg string
		err error
	)
	switch sub.Name {
	case "groups":
		msg, err = h.GroupsText(ctx, owner)
	case "settle":
		msg, err = h.SettleText(ctx, owner, getStringOption(sub.Options, "group"))
	case "share":
		msg, err = h.ShareText(ctx, owner, getStringOption(sub.Options, "group"), getStringOption(sub.Options, "receipt"))
	case "pending":
		msg, err = h.PendingText(ctx, owner)
	default:
		msg = "Unknown subcommand."
	}
	if err != nil {
		msg = h.errorText(err, sub.Name)
	}
	respondText(s, i, msg)
}

func (h *Split) errorText(err error, sub string) string {
	var ve *ledger.ValidationError
	switch {
	case errors.Is(err, errGroupNotFound), errors.Is(err, store.ErrNotFound):
		return "Not found. Check the folder or receipt name with /split groups."
	case errors.As(err, &ve):
		return ve.Error()
	default:
		h.log.Error("split command failed", zap.String("subcommand", sub), zap.Error(err))
		return "Something went wrong, please try again later."
	}
}

func (h *Split) book(ctx context.Context, owner string) (*ledger.Book, error) {
	return store.LoadBook(ctx, h.store, owner, h.base)
}

// findGroup matches an id exactly, then a name case-insensitively.
func findGroup(book *ledger.Book, key string) *ledger.Group {
	key = strings.TrimSpace(key)
	if g := book.Group(key); g != nil {
		return g
	}
	for _, g := range sortedGroups(book) {
		if strings.EqualFold(g.Name, key) {
			return g
		}
	}
	return nil
}

func findTransaction(g *ledger.Group, key string) *ledger.Transaction {
	key = strings.TrimSpace(key)
	if tx := g.Transaction(key); tx != nil {
		return tx
	}
	for _, tx := range g.Transactions {
		if strings.EqualFold(tx.Name, key) {
			return tx
		}
	}
	return nil
}

func sortedGroups(book *ledger.Book) []*ledger.Group {
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
	return groups
}

func (h *Split) GroupsText(ctx context.Context, owner string) (string, error) {
	book, err := h.book(ctx, owner)
	if err != nil {
		return "", err
	}
	groups := sortedGroups(book)
	if len(groups) == 0 {
		return "You have no folders yet.", nil
	}
	var b strings.Builder
	b.WriteString("Your folders:\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "- %s (%d people, %d receipts)\n", g.Name, len(g.Participants), len(g.Transactions))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Split) SettleText(ctx context.Context, owner, groupKey string) (string, error) {
	book, err := h.book(ctx, owner)
	if err != nil {
		return "", err
	}
	g := findGroup(book, groupKey)
	if g == nil {
		return "", errGroupNotFound
	}
	res, err := settlement.Compute(g)
	if err != nil {
		return "", err
	}
	text := fmt.Sprintf("**%s**\n%s", g.Name, settlement.Summary(res, settlement.Settle(res.Net), book.BaseCurrency))
	if u := settlement.Unassigned(g); u >= settlement.Epsilon {
		text += "\n\nNot assigned to anyone: " + currency.Format(u, book.BaseCurrency)
	}
	if u := settlement.Unsourced(g); u >= settlement.Epsilon {
		text += "\nReceipts without an active payer: " + currency.Format(u, book.BaseCurrency)
	}
	return text, nil
}

func (h *Split) ShareText(ctx context.Context, owner, groupKey, txKey string) (string, error) {
	book, err := h.book(ctx, owner)
	if err != nil {
		return "", err
	}
	g := findGroup(book, groupKey)
	if g == nil {
		return "", errGroupNotFound
	}

	var token, label string
	if strings.TrimSpace(txKey) == "" {
		token, err = share.EncodeFolder(owner, g)
		label = g.Name
	} else {
		tx := findTransaction(g, txKey)
		if tx == nil {
			return "", store.ErrNotFound
		}
		token, err = share.EncodeReceipt(owner, g, tx)
		label = g.Name + " / " + tx.Name
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Share link for %s:\n%s/share/%s", label, h.webBase, token), nil
}

func (h *Split) PendingText(ctx context.Context, owner string) (string, error) {
	deltas, err := h.store.PendingDeltas(ctx, owner)
	if err != nil {
		return "", err
	}
	if len(deltas) == 0 {
		return "No proposals are waiting for you.", nil
	}
	book, err := h.book(ctx, owner)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Proposals waiting for your approval:\n")
	for _, d := range deltas {
		name := d.TransactionID
		if g, tx := book.FindTransaction(d.TransactionID); tx != nil {
			name = g.Name + " / " + tx.Name
		}
		fmt.Fprintf(&b, "- %s: %d change(s), submitted %s\n", name, len(d.Entries), d.SubmittedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	if h.webBase != "" {
		fmt.Fprintf(&b, "Review them at %s", h.webBase)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
