package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SymbolShard defines a set of symbols served by one feed connection. The
// engine hashes symbols onto its own workers independently of this grouping.
type SymbolShard struct {
	Name    string   `yaml:"name"`
	Symbols []string `yaml:"symbols"`
}

// SymbolShards represents the full shard configuration.
type SymbolShards struct {
	Shards []SymbolShard `yaml:"shards"`
}

// LoadSymbolShards loads shard configuration from the given path.
func LoadSymbolShards(path string) (*SymbolShards, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shards file: %w", err)
	}
	var cfg SymbolShards
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse shards file: %w", err)
	}
	if len(cfg.Shards) == 0 {
		return nil, fmt.Errorf("shards file contains no shards")
	}
	return &cfg, nil
}

// AllSymbols returns the deduplicated union of every shard's symbols.
func (s *SymbolShards) AllSymbols() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 64)
	for _, shard := range s.Shards {
		for _, sym := range shard.Symbols {
			if _, ok := seen[sym]; ok {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}
