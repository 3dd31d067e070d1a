package app

import (
	"context"
	"errors"
	"testing"

	"serpassist/pkg/domain"
)

func TestResolveCapabilityDefaultsToChat(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	_ = st.SaveCapability(ctx, domain.Capability{
		ID: "c2", ModuleCode: "crm", Code: "second_chat", Kind: domain.CapabilityChat,
		Name: "Second", Enabled: true, DefaultModel: "gemini-2.0-flash",
	})

	capability, err := a.ResolveCapability(ctx, "crm", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if capability.Code != "chat" {
		t.Fatalf("expected default chat capability, got %q", capability.Code)
	}
}

func TestResolveCapabilitySkipsNonChatForDefault(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	_ = st.SaveModule(ctx, domain.Module{ID: "m3", Code: "ptm", Name: "Tasks", Enabled: true})
	_ = st.SaveCapability(ctx, domain.Capability{
		ID: "c5", ModuleCode: "ptm", Code: "draft", Kind: domain.CapabilityInlineAssist,
		Name: "Draft", Enabled: true, DefaultModel: "gemini-2.0-flash",
	})

	_, err := a.ResolveCapability(ctx, "ptm", "")
	if !errors.Is(err, ErrNoChatCapability) {
		t.Fatalf("expected ErrNoChatCapability, got %v", err)
	}
}

func TestResolveCapabilityDisabledNotFound(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	_ = st.SaveCapability(ctx, domain.Capability{
		ID: "c6", ModuleCode: "crm", Code: "off", Kind: domain.CapabilityChat,
		Name: "Off", Enabled: false, DefaultModel: "gemini-2.0-flash",
	})
	_, err := a.ResolveCapability(ctx, "crm", "off")
	if !errors.Is(err, ErrCapabilityNotFound) {
		t.Fatalf("expected ErrCapabilityNotFound, got %v", err)
	}
}

func TestBuildSystemMessage(t *testing.T) {
	capability := domain.Capability{
		SystemPrompt:   "Base prompt.",
		PromptTemplate: "Viewing {kind} #{id}.",
	}
	prompt, skip := BuildSystemMessage(capability, map[string]string{"kind": "customer", "id": "42"})
	if skip {
		t.Fatal("unexpected skip")
	}
	if prompt != "Base prompt.\n\nViewing customer #42." {
		t.Fatalf("prompt: %q", prompt)
	}

	// a missing placeholder drops the whole template, never literal braces
	prompt, skip = BuildSystemMessage(capability, map[string]string{"kind": "customer"})
	if skip {
		t.Fatal("static prompt should still be sent")
	}
	if prompt != "Base prompt." {
		t.Fatalf("prompt with missing var: %q", prompt)
	}

	// template-only capability with missing vars has nothing left to send
	_, skip = BuildSystemMessage(domain.Capability{PromptTemplate: "Viewing {kind}."}, nil)
	if !skip {
		t.Fatal("unrenderable template should skip system message")
	}

	// no prompt at all skips the system turn
	_, skip = BuildSystemMessage(domain.Capability{}, nil)
	if !skip {
		t.Fatal("empty capability should skip system message")
	}
}

func TestResolveCapabilityPrefersChatCode(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	_ = st.SaveModule(ctx, domain.Module{ID: "m4", Code: "ops", Name: "Operations", Enabled: true})
	_ = st.SaveCapability(ctx, domain.Capability{
		ID: "c10", ModuleCode: "ops", Code: "briefing", Kind: domain.CapabilityChat,
		Name: "Briefing", Enabled: true, DefaultModel: "gemini-2.0-flash",
	})
	_ = st.SaveCapability(ctx, domain.Capability{
		ID: "c11", ModuleCode: "ops", Code: "chat", Kind: domain.CapabilityChat,
		Name: "Ops Chat", Enabled: true, DefaultModel: "gemini-2.0-flash",
	})

	capability, err := a.ResolveCapability(ctx, "ops", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if capability.Code != "chat" {
		t.Fatalf("expected the chat-coded capability over the older one, got %q", capability.Code)
	}
}

func TestResolveCapabilityFallsBackWhenChatDisabled(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	_ = st.SaveModule(ctx, domain.Module{ID: "m5", Code: "docs", Name: "Documents", Enabled: true})
	_ = st.SaveCapability(ctx, domain.Capability{
		ID: "c12", ModuleCode: "docs", Code: "chat", Kind: domain.CapabilityChat,
		Name: "Docs Chat", Enabled: false, DefaultModel: "gemini-2.0-flash",
	})
	_ = st.SaveCapability(ctx, domain.Capability{
		ID: "c13", ModuleCode: "docs", Code: "qa", Kind: domain.CapabilityChat,
		Name: "Docs QA", Enabled: true, DefaultModel: "gemini-2.0-flash",
	})

	capability, err := a.ResolveCapability(ctx, "docs", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if capability.Code != "qa" {
		t.Fatalf("expected enabled fallback capability, got %q", capability.Code)
	}
}

func TestResolveModelConfig(t *testing.T) {
	capability := domain.Capability{
		DefaultModel:       "gemini-2.0-flash",
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   1024,
	}

	cfg, err := ResolveModelConfig(capability, nil, 0)
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if cfg.Temperature != 0.7 || cfg.MaxTokens != 1024 || cfg.Model != "gemini-2.0-flash" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	temp := 0.0
	cfg, err = ResolveModelConfig(capability, &temp, 2048)
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	if cfg.Temperature != 0 || cfg.MaxTokens != 2048 {
		t.Fatalf("overrides lost: %+v", cfg)
	}

	neg := -0.1
	if _, err := ResolveModelConfig(capability, &neg, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative temperature accepted: %v", err)
	}
	if _, err := ResolveModelConfig(capability, nil, -5); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative maxTokens accepted: %v", err)
	}
}

func TestListCapabilitiesFiltersByPermission(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	_ = st.SaveCapability(ctx, domain.Capability{
		ID: "c7", ModuleCode: "crm", Code: "restricted", Kind: domain.CapabilityChat,
		Name: "Restricted", Enabled: true, RequiredPermission: "crm.admin",
		DefaultModel: "gemini-2.0-flash",
	})

	plain, err := a.ListCapabilities(ctx, testIdentity(), "crm")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, capability := range plain {
		if capability.Code == "restricted" {
			t.Fatal("restricted capability visible without permission")
		}
	}

	admin := Identity{UserID: 7, TenantID: 1, Permissions: []string{"crm.admin"}}
	elevated, err := a.ListCapabilities(ctx, admin, "crm")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, capability := range elevated {
		if capability.Code == "restricted" {
			found = true
		}
	}
	if !found {
		t.Fatal("restricted capability hidden from permitted caller")
	}
}
