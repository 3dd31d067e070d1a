package app

import (
	"context"
	"fmt"
	"strings"

	"serpassist/pkg/domain"
)

// ResolveModule returns an enabled module by code. Unknown and disabled
// modules produce the same error so callers learn nothing about the catalog.
func (a *App) ResolveModule(ctx context.Context, code string) (domain.Module, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Module{}, fmt.Errorf("%w: module code required", ErrInvalidInput)
	}
	if module, ok := a.cachedModule(ctx, code); ok {
		if !module.Enabled {
			return domain.Module{}, ErrModuleNotAvailable
		}
		return module, nil
	}
	module, found, err := a.store.GetModuleByCode(ctx, code)
	if err != nil {
		return domain.Module{}, fmt.Errorf("load module: %w", err)
	}
	if !found || !module.Enabled {
		return domain.Module{}, ErrModuleNotAvailable
	}
	a.cacheModule(ctx, module)
	return module, nil
}

// ListModules returns all enabled modules for discovery.
func (a *App) ListModules(ctx context.Context) ([]domain.Module, error) {
	modules, err := a.store.ListModules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return modules, nil
}

// CheckModuleAccess resolves the module and consults the access checker.
func (a *App) CheckModuleAccess(ctx context.Context, identity Identity, moduleCode string) (AccessDecision, error) {
	if _, err := a.ResolveModule(ctx, moduleCode); err != nil {
		return AccessDecision{}, err
	}
	return a.access.CheckAccess(identity, moduleCode), nil
}

// SaveModule upserts a module and drops its cache entry.
func (a *App) SaveModule(ctx context.Context, module domain.Module) error {
	module.Code = strings.TrimSpace(module.Code)
	if module.Code == "" {
		return fmt.Errorf("%w: module code required", ErrInvalidInput)
	}
	if module.Name == "" {
		return fmt.Errorf("%w: module name required", ErrInvalidInput)
	}
	if err := a.store.SaveModule(ctx, module); err != nil {
		return fmt.Errorf("save module: %w", err)
	}
	if a.cache != nil {
		_ = a.cache.Delete(ctx, moduleCacheKey(module.Code))
	}
	return nil
}

func moduleCacheKey(code string) string {
	return "module:" + code
}

func (a *App) cachedModule(ctx context.Context, code string) (domain.Module, bool) {
	if a.cache == nil {
		return domain.Module{}, false
	}
	var module domain.Module
	found, err := a.cache.Get(ctx, moduleCacheKey(code), &module)
	if err != nil || !found {
		return domain.Module{}, false
	}
	return module, true
}

func (a *App) cacheModule(ctx context.Context, module domain.Module) {
	if a.cache == nil {
		return
	}
	_ = a.cache.Set(ctx, moduleCacheKey(module.Code), module, a.catalogTTL)
}
