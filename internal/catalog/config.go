package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/jaico1231/paola-sub001/internal/core/registry"
)

//go:embed entities.yaml
var defaultConfig []byte

// LoadConfig reads the entity enumeration at path, or the embedded default
// when path is empty.
func LoadConfig(path string) (registry.Config, error) {
	if path == "" {
		return registry.LoadConfig(bytes.NewReader(defaultConfig))
	}
	f, err := os.Open(path)
	if err != nil {
		return registry.Config{}, fmt.Errorf("open entities config: %w", err)
	}
	defer f.Close()
	return registry.LoadConfig(f)
}

// NewRegistry registers the entities cfg enumerates, in its order, over the
// catalog's base descriptors.
func NewRegistry(cfg registry.Config) (*registry.Registry, error) {
	return registry.Build(Descriptors(), cfg)
}
