// Package settings persists the user's per-category notification toggles.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/joao-fontenele/fleetorders/internal/domain"
	"github.com/joao-fontenele/fleetorders/internal/kv"
)

const configKey = "notification_config"

var ErrUnknownCategory = errors.New("unknown notification category")

type Service struct {
	kv     kv.Store
	logger *slog.Logger

	mu sync.Mutex
}

func NewService(store kv.Store, logger *slog.Logger) *Service {
	return &Service{kv: store, logger: logger}
}

func (s *Service) Get(ctx context.Context) domain.NotificationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadLocked(ctx)
	if err != nil {
		s.logger.Error("failed to load notification config, using defaults", "error", err)
		return domain.DefaultNotificationConfig()
	}
	return cfg
}

func (s *Service) Enabled(ctx context.Context, category string) bool {
	return s.Get(ctx).Enabled(category)
}

// Update rejects unknown categories without writing.
func (s *Service) Update(ctx context.Context, patch map[string]bool) (domain.NotificationConfig, error) {
	if unknown := unknownCategories(patch); len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCategory, unknown)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadLocked(ctx)
	if err != nil {
		s.logger.Warn("failed to load notification config, patching defaults", "error", err)
		cfg = domain.DefaultNotificationConfig()
	}
	for k, v := range patch {
		cfg[k] = v
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode notification config: %w", err)
	}
	if err := s.kv.Put(ctx, configKey, data); err != nil {
		return nil, fmt.Errorf("persist notification config: %w", err)
	}

	s.logger.Info("notification config updated", "changed", len(patch))
	return cfg, nil
}

func (s *Service) loadLocked(ctx context.Context) (domain.NotificationConfig, error) {
	cfg := domain.DefaultNotificationConfig()

	raw, err := s.kv.Get(ctx, configKey)
	if errors.Is(err, kv.ErrNotFound) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	var stored map[string]bool
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode %s: %w", configKey, err)
	}
	for k, v := range stored {
		if _, known := cfg[k]; known {
			cfg[k] = v
		}
	}
	return cfg, nil
}

func unknownCategories(patch map[string]bool) []string {
	known := domain.DefaultNotificationConfig()
	var unknown []string
	for k := range patch {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}
