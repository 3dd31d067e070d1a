package app

import "errors"

var (
	// ErrModuleNotAvailable covers both unknown and disabled modules, so
	// callers cannot probe which modules exist.
	ErrModuleNotAvailable = errors.New("module not available")
	ErrCapabilityNotFound = errors.New("capability not found")
	// ErrNoChatCapability indicates a module has no enabled chat capability
	// to fall back to.
	ErrNoChatCapability      = errors.New("no chat capability available")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationForbidden = errors.New("conversation forbidden")
	ErrMessageNotFound       = errors.New("message not found")
	ErrAccessDenied          = errors.New("access denied")
	ErrInvalidInput          = errors.New("invalid input")
	// ErrProviderFailure wraps LLM provider errors after the user message
	// was already persisted.
	ErrProviderFailure = errors.New("provider failure")
)
