package app

import (
	"fmt"
	"time"

	"serpassist/pkg/ai"
	"serpassist/pkg/cache"
	"serpassist/pkg/storage"
	"serpassist/pkg/store"
)

const (
	defaultGenerationModel = "gemini-2.0-flash"
	defaultTemperature     = 0.7
	defaultMaxTokens       = 2048
	defaultHistoryLimit    = 20
	defaultCatalogCacheTTL = 5 * time.Minute
)

// Identity is the caller resolved by the platform gateway.
type Identity struct {
	UserID      int64
	TenantID    int64
	Permissions []string
}

// HasPermission reports whether the identity carries a permission code.
func (id Identity) HasPermission(code string) bool {
	if code == "" {
		return true
	}
	for _, p := range id.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// AccessDecision is the outcome of a module access check. Reason is only set
// when access is denied.
type AccessDecision struct {
	Allowed bool
	Reason  string
}

// ModuleAccessChecker decides whether an identity may use a module. It is the
// hook for plan/licensing restrictions; the default allows every enabled
// module.
type ModuleAccessChecker interface {
	CheckAccess(identity Identity, moduleCode string) AccessDecision
}

type allowAllAccess struct{}

func (allowAllAccess) CheckAccess(Identity, string) AccessDecision {
	return AccessDecision{Allowed: true}
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store           store.Store
	Provider        ai.Client
	Cache           cache.Cache
	Objects         storage.ObjectStore
	Access          ModuleAccessChecker
	GenerationModel string
	HistoryLimit    int
	CatalogCacheTTL time.Duration
}

// App wires storage, the LLM provider and the module catalog together.
type App struct {
	store           store.Store
	provider        ai.Client
	cache           cache.Cache
	objects         storage.ObjectStore
	access          ModuleAccessChecker
	generationModel string
	historyLimit    int
	catalogTTL      time.Duration
}

// New constructs the application service.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("ai provider required")
	}
	access := cfg.Access
	if access == nil {
		access = allowAllAccess{}
	}
	generationModel := cfg.GenerationModel
	if generationModel == "" {
		generationModel = defaultGenerationModel
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	catalogTTL := cfg.CatalogCacheTTL
	if catalogTTL <= 0 {
		catalogTTL = defaultCatalogCacheTTL
	}
	return &App{
		store:           cfg.Store,
		provider:        cfg.Provider,
		cache:           cfg.Cache,
		objects:         cfg.Objects,
		access:          access,
		generationModel: generationModel,
		historyLimit:    historyLimit,
		catalogTTL:      catalogTTL,
	}, nil
}
