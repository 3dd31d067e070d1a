package app

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"serpassist/pkg/domain"
)

// ResolveCapability returns an enabled capability of a module. An empty code
// selects the module's default chat capability.
func (a *App) ResolveCapability(ctx context.Context, moduleCode, code string) (domain.Capability, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return a.defaultChatCapability(ctx, moduleCode)
	}
	if capability, ok := a.cachedCapability(ctx, moduleCode, code); ok {
		if !capability.Enabled {
			return domain.Capability{}, ErrCapabilityNotFound
		}
		return capability, nil
	}
	capability, found, err := a.store.GetCapability(ctx, moduleCode, code)
	if err != nil {
		return domain.Capability{}, fmt.Errorf("load capability: %w", err)
	}
	if !found || !capability.Enabled {
		return domain.Capability{}, ErrCapabilityNotFound
	}
	a.cacheCapability(ctx, capability)
	return capability, nil
}

// defaultChatCapability prefers the capability literally coded "chat"; when
// that one is absent or disabled it falls back to the oldest enabled
// chat-kind capability, so the fallback stays stable as new ones are added.
func (a *App) defaultChatCapability(ctx context.Context, moduleCode string) (domain.Capability, error) {
	capability, found, err := a.store.GetCapability(ctx, moduleCode, "chat")
	if err != nil {
		return domain.Capability{}, fmt.Errorf("load capability: %w", err)
	}
	if found && capability.Enabled {
		return capability, nil
	}
	capabilities, err := a.store.ListCapabilitiesByModule(ctx, moduleCode, true)
	if err != nil {
		return domain.Capability{}, fmt.Errorf("list capabilities: %w", err)
	}
	for _, capability := range capabilities {
		if capability.Kind == domain.CapabilityChat {
			return capability, nil
		}
	}
	return domain.Capability{}, ErrNoChatCapability
}

// ListCapabilities returns a module's enabled capabilities.
func (a *App) ListCapabilities(ctx context.Context, identity Identity, moduleCode string) ([]domain.Capability, error) {
	if _, err := a.ResolveModule(ctx, moduleCode); err != nil {
		return nil, err
	}
	capabilities, err := a.store.ListCapabilitiesByModule(ctx, moduleCode, true)
	if err != nil {
		return nil, fmt.Errorf("list capabilities: %w", err)
	}
	visible := make([]domain.Capability, 0, len(capabilities))
	for _, capability := range capabilities {
		if identity.HasPermission(capability.RequiredPermission) {
			visible = append(visible, capability)
		}
	}
	return visible, nil
}

// SaveCapability upserts a capability and drops its cache entry.
func (a *App) SaveCapability(ctx context.Context, capability domain.Capability) error {
	capability.ModuleCode = strings.TrimSpace(capability.ModuleCode)
	capability.Code = strings.TrimSpace(capability.Code)
	if capability.ModuleCode == "" || capability.Code == "" {
		return fmt.Errorf("%w: module code and capability code required", ErrInvalidInput)
	}
	switch capability.Kind {
	case domain.CapabilityChat, domain.CapabilityInlineAssist, domain.CapabilityAutoAction:
	default:
		return fmt.Errorf("%w: unknown capability kind %q", ErrInvalidInput, capability.Kind)
	}
	if capability.DefaultModel == "" {
		capability.DefaultModel = a.generationModel
	}
	if capability.DefaultTemperature == 0 {
		capability.DefaultTemperature = defaultTemperature
	}
	if capability.DefaultMaxTokens == 0 {
		capability.DefaultMaxTokens = defaultMaxTokens
	}
	if err := a.store.SaveCapability(ctx, capability); err != nil {
		return fmt.Errorf("save capability: %w", err)
	}
	if a.cache != nil {
		_ = a.cache.Delete(ctx, capabilityCacheKey(capability.ModuleCode, capability.Code))
	}
	return nil
}

// BuildSystemMessage renders the capability's system prompt. The prompt
// template takes {name} placeholders filled from vars; when any placeholder
// has no value the whole template is dropped and only the static prompt is
// sent, so literal braces never reach the provider. The returned skip flag
// is true when the capability defines no usable prompt at all, so the chat
// flow omits the system turn entirely.
func BuildSystemMessage(capability domain.Capability, vars map[string]string) (string, bool) {
	base := strings.TrimSpace(capability.SystemPrompt)
	rendered := ""
	if tpl := strings.TrimSpace(capability.PromptTemplate); tpl != "" {
		out, missing := renderTemplate(tpl, vars)
		if len(missing) > 0 {
			slog.Warn("prompt template skipped, missing variables",
				"module", capability.ModuleCode,
				"capability", capability.Code,
				"missing", strings.Join(missing, ","))
		} else {
			rendered = strings.TrimSpace(out)
		}
	}
	switch {
	case base == "" && rendered == "":
		return "", true
	case base == "":
		return rendered, false
	case rendered == "":
		return base, false
	default:
		return base + "\n\n" + rendered, false
	}
}

var templateVarPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// renderTemplate fills {name} placeholders from vars and reports the names
// it could not resolve.
func renderTemplate(tpl string, vars map[string]string) (string, []string) {
	var missing []string
	out := templateVarPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	return out, missing
}

// ModelConfig is the resolved generation configuration for one request.
type ModelConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ResolveModelConfig applies per-request overrides onto the capability's
// defaults. Temperature must stay within [0,2] and maxTokens positive.
func ResolveModelConfig(capability domain.Capability, temperature *float64, maxTokens int) (ModelConfig, error) {
	cfg := ModelConfig{
		Model:       capability.DefaultModel,
		Temperature: capability.DefaultTemperature,
		MaxTokens:   capability.DefaultMaxTokens,
	}
	if cfg.Model == "" {
		cfg.Model = defaultGenerationModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if temperature != nil {
		if *temperature < 0 || *temperature > 2 {
			return ModelConfig{}, fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidInput)
		}
		cfg.Temperature = *temperature
	}
	if maxTokens != 0 {
		if maxTokens < 0 {
			return ModelConfig{}, fmt.Errorf("%w: maxTokens must be positive", ErrInvalidInput)
		}
		cfg.MaxTokens = maxTokens
	}
	return cfg, nil
}

func capabilityCacheKey(moduleCode, code string) string {
	return "capability:" + moduleCode + ":" + code
}

func (a *App) cachedCapability(ctx context.Context, moduleCode, code string) (domain.Capability, bool) {
	if a.cache == nil {
		return domain.Capability{}, false
	}
	var capability domain.Capability
	found, err := a.cache.Get(ctx, capabilityCacheKey(moduleCode, code), &capability)
	if err != nil || !found {
		return domain.Capability{}, false
	}
	return capability, true
}

func (a *App) cacheCapability(ctx context.Context, capability domain.Capability) {
	if a.cache == nil {
		return
	}
	_ = a.cache.Set(ctx, capabilityCacheKey(capability.ModuleCode, capability.Code), capability, a.catalogTTL)
}
