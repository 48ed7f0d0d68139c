package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/susu3304/receiptsplit/internal/share"
	"github.com/susu3304/receiptsplit/internal/store"
)

func (a *API) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transactionId" validate:"omitempty,max=64"`
	}
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	owner := ownerFrom(r)
	book, err := store.LoadBook(r.Context(), a.store, owner, a.rates.Base())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	group := book.Group(mux.Vars(r)["gid"])
	if group == nil {
		a.writeError(w, r, store.ErrNotFound)
		return
	}

	var token string
	if req.TransactionID == "" {
		token, err = share.EncodeFolder(owner, group)
	} else {
		tx := group.Transaction(req.TransactionID)
		if tx == nil {
			a.writeError(w, r, store.ErrNotFound)
			return
		}
		token, err = share.EncodeReceipt(owner, group, tx)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"url":   a.config.WebUIBaseURL + "/share/" + token,
	})
}

func (a *API) resolveToken(r *http.Request) (*share.Snapshot, error) {
	snap, err := share.DecodeSnapshot(mux.Vars(r)["token"])
	if err != nil {
		return nil, err
	}
	return a.shares.Resolve(r.Context(), snap)
}

func (a *API) handleGetShare(w http.ResponseWriter, r *http.Request) {
	snap, err := a.resolveToken(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleSubmitChanges(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity int                     `json:"identity" validate:"gte=0"`
		Checked  map[string]map[int]bool `json:"checked" validate:"required"`
	}
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	snap, err := a.resolveToken(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	n, err := a.shares.SubmitSnapshot(r.Context(), snap, req.Identity, req.Checked)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"staged": n})
}

func (a *API) handleGetPending(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner := ownerFrom(r)
	delta, err := a.shares.Pending(r.Context(), owner, vars["tid"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if delta == nil {
		writeJSON(w, http.StatusOK, map[string]any{"pending": nil, "cells": []share.Cell{}})
		return
	}
	cells, err := a.shares.PendingCells(r.Context(), owner, vars["gid"], vars["tid"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if cells == nil {
		cells = []share.Cell{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": delta, "cells": cells})
}

func (a *API) handleApplyPending(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner := ownerFrom(r)

	a.bookMu.Lock()
	applied, err := a.shares.Apply(r.Context(), owner, vars["gid"], vars["tid"])
	a.bookMu.Unlock()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.log.Debug("pending changes applied", zap.String("owner", owner), zap.Int("applied", applied))
	writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

func (a *API) handleDiscardPending(w http.ResponseWriter, r *http.Request) {
	if err := a.shares.Discard(r.Context(), ownerFrom(r), mux.Vars(r)["tid"]); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeMessage(w, "pending changes discarded")
}
