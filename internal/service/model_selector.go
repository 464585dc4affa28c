package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Strob0t/ForgeBot/internal/domain"
)

// ModelCatalog reports which of the given models the provider cannot serve.
type ModelCatalog interface {
	MissingModels(ctx context.Context, want []string) ([]string, error)
}

// ModelSelector holds the default model used by requests that do not name
// one. The switch_model action changes it for subsequent requests; a request
// already in flight keeps its model.
type ModelSelector struct {
	mu      sync.RWMutex
	current string
	catalog ModelCatalog
}

// NewModelSelector creates a selector. catalog may be nil, in which case any
// non-empty name is accepted.
func NewModelSelector(defaultModel string, catalog ModelCatalog) *ModelSelector {
	return &ModelSelector{current: defaultModel, catalog: catalog}
}

// Current returns the default model.
func (s *ModelSelector) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SwitchModel makes name the default model after checking the catalog.
func (s *ModelSelector) SwitchModel(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("switch model: empty name: %w", domain.ErrInvalidInput)
	}
	if s.catalog != nil {
		missing, err := s.catalog.MissingModels(ctx, []string{name})
		if err != nil {
			return fmt.Errorf("switch model: %w", err)
		}
		if len(missing) > 0 {
			return fmt.Errorf("switch model: %q is not served: %w", name, domain.ErrNotFound)
		}
	}

	s.mu.Lock()
	prev := s.current
	s.current = name
	s.mu.Unlock()

	slog.InfoContext(ctx, "default model switched", "from", prev, "to", name)
	return nil
}
