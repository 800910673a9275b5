package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gh-myio/gcdr-sync/faults"
)

// CatalogPath resolves the contexts file location: the env override when set,
// otherwise the default under the user's home directory.
func CatalogPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv(ContextFileEnvVar)); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", faults.NewTypedError(faults.InternalError, "cannot resolve home directory for contexts file", err)
	}
	return filepath.Join(home, strings.TrimPrefix(DefaultContextCatalogPath, "~/")), nil
}

// Load reads and validates the context catalog at path.
func Load(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, faults.NewTypedError(faults.ValidationError, fmt.Sprintf("cannot read contexts file %q", path), err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return Catalog{}, faults.NewTypedError(faults.ValidationError, fmt.Sprintf("contexts file %q is not valid YAML", path), err)
	}

	catalog.applyDefaults()
	if err := catalog.validate(); err != nil {
		return Catalog{}, err
	}

	return catalog, nil
}

// Save writes the catalog back to path, creating the parent directory when
// missing. The file may hold credentials, so it is written user-only.
func Save(path string, catalog Catalog) error {
	if err := catalog.validate(); err != nil {
		return err
	}

	encoded, err := yaml.Marshal(catalog)
	if err != nil {
		return faults.NewTypedError(faults.InternalError, "failed to encode contexts file", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return faults.NewTypedError(faults.InternalError, fmt.Sprintf("cannot create directory for contexts file %q", path), err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return faults.NewTypedError(faults.InternalError, fmt.Sprintf("cannot write contexts file %q", path), err)
	}
	return nil
}

// Resolve returns the named context, or the catalog's current context when
// name is empty.
func (c Catalog) Resolve(name string) (Context, error) {
	target := strings.TrimSpace(name)
	if target == "" {
		target = strings.TrimSpace(c.CurrentCtx)
	}
	if target == "" {
		return Context{}, faults.NewTypedError(faults.ValidationError, "no context selected: pass --context or set current-ctx", nil)
	}

	for _, candidate := range c.Contexts {
		if candidate.Name == target {
			return candidate, nil
		}
	}
	return Context{}, faults.NewTypedError(faults.ValidationError, fmt.Sprintf("context %q is not defined", target), nil)
}

func (c *Catalog) applyDefaults() {
	for idx := range c.Contexts {
		sync := &c.Contexts[idx].Sync
		if sync.FetchConcurrency <= 0 {
			sync.FetchConcurrency = DefaultFetchConcurrency
		}
	}
}

func (c Catalog) validate() error {
	seen := make(map[string]struct{}, len(c.Contexts))
	for _, ctx := range c.Contexts {
		name := strings.TrimSpace(ctx.Name)
		if name == "" {
			return faults.NewTypedError(faults.ValidationError, "every context requires a name", nil)
		}
		if _, duplicate := seen[name]; duplicate {
			return faults.NewTypedError(faults.ValidationError, fmt.Sprintf("context %q is defined more than once", name), nil)
		}
		seen[name] = struct{}{}

		if err := ctx.validate(); err != nil {
			return err
		}
	}

	if current := strings.TrimSpace(c.CurrentCtx); current != "" {
		if _, ok := seen[current]; !ok {
			return faults.NewTypedError(faults.ValidationError, fmt.Sprintf("current-ctx %q is not defined", current), nil)
		}
	}

	return nil
}

func (ctx Context) validate() error {
	if strings.TrimSpace(ctx.Source.BaseURL) == "" {
		return contextError(ctx.Name, "source.base-url is required")
	}
	if strings.TrimSpace(ctx.Source.Username) == "" || strings.TrimSpace(ctx.Source.Password) == "" {
		return contextError(ctx.Name, "source.username and source.password are required")
	}
	if strings.TrimSpace(ctx.GCDR.BaseURL) == "" {
		return contextError(ctx.Name, "gcdr.base-url is required")
	}
	if strings.TrimSpace(ctx.GCDR.APIKey) == "" {
		return contextError(ctx.Name, "gcdr.api-key is required")
	}
	if strings.TrimSpace(ctx.GCDR.TenantID) == "" {
		return contextError(ctx.Name, "gcdr.tenant-id is required")
	}
	if ctx.Sync.RequestsPerSecond < 0 {
		return contextError(ctx.Name, "sync.requests-per-second must not be negative")
	}
	return nil
}

func contextError(name string, message string) error {
	return faults.NewTypedError(faults.ValidationError, fmt.Sprintf("context %q: %s", name, message), nil)
}
