package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/susu3304/receiptsplit/internal/config"
	"github.com/susu3304/receiptsplit/internal/currency"
	"github.com/susu3304/receiptsplit/internal/ledger"
	"github.com/susu3304/receiptsplit/internal/share"
	"github.com/susu3304/receiptsplit/internal/store"
)

type API struct {
	router      *mux.Router
	store       store.Store
	shares      *share.Service
	rates       *currency.Normalizer
	config      *config.Config
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	validate    *validator.Validate
	log         *zap.Logger

	// Book writes are read-modify-write of a whole document.
	bookMu sync.Mutex
}

func New(cfg *config.Config, st store.Store, shares *share.Service, rates *currency.Normalizer, log *zap.Logger) *API {
	api := &API{
		router:    mux.NewRouter(),
		store:     st,
		shares:    shares,
		rates:     rates,
		config:    cfg,
		jwtSecret: []byte(cfg.JWTSecret),
		validate:  newValidator(),
		log:       log,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/api/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		},
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	// Collaborator endpoints, the token is the credential
	a.router.HandleFunc("/api/share/{token}", a.handleGetShare).Methods("GET")
	a.router.HandleFunc("/api/share/{token}/changes", a.handleSubmitChanges).Methods("POST")

	// Protected endpoints
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/groups", a.handleListGroups).Methods("GET")
	protected.HandleFunc("/groups/{gid}", a.handlePutGroup).Methods("PUT")
	protected.HandleFunc("/groups/{gid}", a.handleDeleteGroup).Methods("DELETE")
	protected.HandleFunc("/groups/{gid}/settlement", a.handleSettlement).Methods("GET")
	protected.HandleFunc("/groups/{gid}/share", a.handleCreateShare).Methods("POST")

	tx := protected.PathPrefix("/groups/{gid}/transactions/{tid}").Subrouter()
	tx.HandleFunc("/currency", a.handleRetarget).Methods("POST")
	tx.HandleFunc("/rate", a.handleManualRate).Methods("POST")
	tx.HandleFunc("/items/{item}/assigned/{participant}", a.handleSetAssignment).Methods("PUT")
	tx.HandleFunc("/lines", a.handleImportLines).Methods("POST")
	tx.HandleFunc("/warnings", a.handleWarnings).Methods("GET")
	tx.HandleFunc("/pending", a.handleGetPending).Methods("GET")
	tx.HandleFunc("/pending/apply", a.handleApplyPending).Methods("POST")
	tx.HandleFunc("/pending", a.handleDiscardPending).Methods("DELETE")
}

// Handler returns the router wrapped with CORS handling.
func (a *API) Handler() http.Handler {
	// When AllowedOrigins is "*", AllowCredentials must be false
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

func (a *API) Start() error {
	a.log.Info("API server listening", zap.String("addr", "http://"+a.config.WebBind))
	return http.ListenAndServe(a.config.WebBind, a.Handler())
}

// updateBook loads the owner's book, runs fn on it and saves the result when
// fn succeeds.
func (a *API) updateBook(ctx context.Context, owner string, fn func(*ledger.Book) error) (*ledger.Book, error) {
	a.bookMu.Lock()
	defer a.bookMu.Unlock()

	book, err := store.LoadBook(ctx, a.store, owner, a.rates.Base())
	if err != nil {
		return nil, err
	}
	if err := fn(book); err != nil {
		return nil, err
	}
	if err := a.store.SaveBook(ctx, book); err != nil {
		return nil, err
	}
	return book, nil
}

// updateTransaction is updateBook narrowed to one transaction of a group.
func (a *API) updateTransaction(ctx context.Context, owner, groupID, txID string, fn func(*ledger.Group, *ledger.Transaction) error) (*ledger.Transaction, error) {
	var out *ledger.Transaction
	_, err := a.updateBook(ctx, owner, func(b *ledger.Book) error {
		g := b.Group(groupID)
		if g == nil {
			return store.ErrNotFound
		}
		tx := g.Transaction(txID)
		if tx == nil {
			return store.ErrNotFound
		}
		out = tx
		return fn(g, tx)
	})
	return out, err
}
