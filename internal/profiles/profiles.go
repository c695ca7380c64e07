// Package profiles loads Archon persona and LLM-binding records from a
// YAML roster file, following the YAML-tagged configuration struct
// convention used throughout this codebase's ancestry.
package profiles

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/conclave-engine/conclave/internal/ports"
)

// Roster is the on-disk shape of archons.yaml.
type Roster struct {
	Archons []RosterEntry `yaml:"archons"`
}

// RosterEntry is a single Archon's persona and LLM binding.
type RosterEntry struct {
	ArchonID     string     `yaml:"archon_id"`
	Name         string     `yaml:"name"`
	Branch       string     `yaml:"branch"`
	Rank         int        `yaml:"rank"`
	SystemPrompt string     `yaml:"system_prompt"`
	Backstory    string     `yaml:"backstory,omitempty"`
	LLM          LLMBinding `yaml:"llm_config"`
}

// LLMBinding mirrors ports.LLMBinding with YAML tags.
type LLMBinding struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	NumCtx      int     `yaml:"num_ctx,omitempty"`
}

// Validate rejects a roster entry missing required binding fields.
func (e RosterEntry) Validate() error {
	if e.ArchonID == "" {
		return fmt.Errorf("archon entry missing archon_id")
	}
	if e.LLM.Provider == "" || e.LLM.Model == "" {
		return fmt.Errorf("archon %s missing provider/model binding", e.ArchonID)
	}
	return nil
}

// Repository is a YAML-file-backed ArchonProfileRepository, loaded once
// and held immutable for the process lifetime.
type Repository struct {
	mu       sync.RWMutex
	byID     map[string]ports.ArchonProfile
	ordered  []ports.ArchonProfile
}

var _ ports.ArchonProfileRepository = (*Repository)(nil)
var _ ports.ArchonCountProvider = (*Repository)(nil)

// LoadFromFile reads and validates a roster YAML file.
func LoadFromFile(path string) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses roster YAML already read into memory.
func LoadFromBytes(data []byte) (*Repository, error) {
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parse roster yaml: %w", err)
	}

	repo := &Repository{
		byID: make(map[string]ports.ArchonProfile, len(roster.Archons)),
	}
	for _, entry := range roster.Archons {
		if err := entry.Validate(); err != nil {
			return nil, err
		}
		profile := ports.ArchonProfile{
			ArchonID:     entry.ArchonID,
			Name:         entry.Name,
			Branch:       entry.Branch,
			Rank:         entry.Rank,
			SystemPrompt: entry.SystemPrompt,
			Backstory:    entry.Backstory,
			LLM: ports.LLMBinding{
				Provider:    entry.LLM.Provider,
				Model:       entry.LLM.Model,
				BaseURL:     entry.LLM.BaseURL,
				Temperature: entry.LLM.Temperature,
				MaxTokens:   entry.LLM.MaxTokens,
				NumCtx:      entry.LLM.NumCtx,
			},
		}
		if _, exists := repo.byID[profile.ArchonID]; exists {
			return nil, fmt.Errorf("duplicate archon_id %s in roster", profile.ArchonID)
		}
		repo.byID[profile.ArchonID] = profile
		repo.ordered = append(repo.ordered, profile)
	}
	return repo, nil
}

func (r *Repository) GetAll(ctx context.Context) ([]ports.ArchonProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.ArchonProfile, len(r.ordered))
	copy(out, r.ordered)
	return out, nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered), nil
}

func (r *Repository) Get(ctx context.Context, archonID string) (ports.ArchonProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.byID[archonID]
	if !ok {
		return ports.ArchonProfile{}, fmt.Errorf("archon %s not found in roster", archonID)
	}
	return profile, nil
}

// Total implements ports.ArchonCountProvider.
func (r *Repository) Total(ctx context.Context) (int, error) {
	return r.Count(ctx)
}
