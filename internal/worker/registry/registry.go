// Package registry tracks the image configurations a worker can launch for
// the container-agentic execution mode. Grounded on the teacher's
// agent-type registry, trimmed to what spec's Execution Provider needs:
// an image, its resource envelope, and the task categories it serves.
package registry

import (
	"fmt"
	"sync"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/model"
	"go.uber.org/zap"
)

// MountTemplate is a mount whose Source may contain {workspace}/{task_id}
// placeholders, expanded by the worker when building a container config.
type MountTemplate struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

// ImageConfig describes one launchable container image.
type ImageConfig struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Image          string                `json:"image"`
	Tag            string                `json:"tag"`
	Cmd            []string              `json:"cmd,omitempty"`
	WorkingDir     string                `json:"working_dir"`
	Env            map[string]string     `json:"env,omitempty"`
	RequiredEnv    []string              `json:"required_env,omitempty"`
	Mounts         []MountTemplate       `json:"mounts,omitempty"`
	ResourceLimits model.ResourceLimits  `json:"resource_limits"`
	Categories     []model.TaskCategory  `json:"categories"`
	Enabled        bool                  `json:"enabled"`
}

// Registry holds the set of image configurations this worker can launch.
type Registry struct {
	images map[string]*ImageConfig
	mu     sync.RWMutex
	logger *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		images: make(map[string]*ImageConfig),
		logger: log.WithFields(zap.String("component", "registry")),
	}
}

// LoadDefaults populates the registry with DefaultImages().
func (r *Registry) LoadDefaults() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cfg := range DefaultImages() {
		r.images[cfg.ID] = cfg
		r.logger.Info("loaded default image config", zap.String("id", cfg.ID))
	}
}

// Register adds a new image configuration.
func (r *Registry) Register(cfg *ImageConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.images[cfg.ID]; exists {
		return fmt.Errorf("image config %q already registered", cfg.ID)
	}
	r.images[cfg.ID] = cfg
	r.logger.Info("registered image config", zap.String("id", cfg.ID))
	return nil
}

// Unregister removes an image configuration.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.images[id]; !exists {
		return fmt.Errorf("image config %q not found", id)
	}
	delete(r.images, id)
	return nil
}

// Get returns one image configuration by id.
func (r *Registry) Get(id string) (*ImageConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, exists := r.images[id]
	if !exists {
		return nil, fmt.Errorf("image config %q not found", id)
	}
	return cfg, nil
}

// GetForCategory returns the first enabled image configuration that
// declares support for category. session.Manager.Create does not call it;
// it takes any enabled configuration regardless of category.
func (r *Registry) GetForCategory(category model.TaskCategory) (*ImageConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cfg := range r.images {
		if !cfg.Enabled {
			continue
		}
		for _, c := range cfg.Categories {
			if c == category {
				return cfg, nil
			}
		}
	}
	return nil, fmt.Errorf("no enabled image config supports category %q", category)
}

// List returns every registered image configuration.
func (r *Registry) List() []*ImageConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ImageConfig, 0, len(r.images))
	for _, cfg := range r.images {
		result = append(result, cfg)
	}
	return result
}

// ValidateConfig checks the invariants an ImageConfig must satisfy before
// it can be registered.
func ValidateConfig(cfg *ImageConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("image config id is required")
	}
	if cfg.Image == "" {
		return fmt.Errorf("image config image is required")
	}
	if cfg.Tag == "" {
		cfg.Tag = "latest"
	}
	if cfg.ResourceLimits.MemoryMB <= 0 {
		return fmt.Errorf("memory limit must be positive")
	}
	if cfg.ResourceLimits.CPUCores <= 0 {
		return fmt.Errorf("cpu cores must be positive")
	}
	return nil
}
