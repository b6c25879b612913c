package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// ClassConfig describes one investable asset class.
type ClassConfig struct {
	Key      string `yaml:"key"`
	Name     string `yaml:"name"`
	Asset    string `yaml:"asset"`
	PriceUsd string `yaml:"price_usd"`
}

// ModelConfig maps a model key to target percentages by class key.
type ModelConfig struct {
	Key     string            `yaml:"key"`
	Name    string            `yaml:"name"`
	Targets map[string]string `yaml:"targets"`
}

type registryFile struct {
	StableClass string        `yaml:"stable_class"`
	Classes     []ClassConfig `yaml:"classes"`
	Models      []ModelConfig `yaml:"models"`
}

// Registry is the validated, immutable view of the asset-class universe:
// which classes exist, which one is the stable entry class, what each class
// trades as, and the model allocations users can pick.
type Registry struct {
	stableClass string
	classes     []ClassConfig
	classByKey  map[string]ClassConfig
	models      map[string]map[string]decimal.Decimal
	prices      map[string]decimal.Decimal
}

// Load reads and validates a registry YAML file.
func Load(registryPath string) (*Registry, error) {
	var path string
	if filepath.IsAbs(registryPath) {
		path = registryPath
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, registryPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", registryPath, err)
	}

	return Parse(data)
}

// Parse validates registry YAML from memory.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse registry: %w", err)
	}

	if file.StableClass == "" {
		return nil, fmt.Errorf("registry missing stable_class")
	}
	if len(file.Classes) == 0 {
		return nil, fmt.Errorf("registry has no classes")
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("registry has no models")
	}

	classByKey := make(map[string]ClassConfig, len(file.Classes))
	prices := make(map[string]decimal.Decimal, len(file.Classes))
	for i, class := range file.Classes {
		if class.Key == "" {
			return nil, fmt.Errorf("class at index %d missing key", i)
		}
		if class.Name == "" {
			return nil, fmt.Errorf("class %s missing name", class.Key)
		}
		if class.Asset == "" {
			return nil, fmt.Errorf("class %s missing asset", class.Key)
		}
		if _, exists := classByKey[class.Key]; exists {
			return nil, fmt.Errorf("duplicate class key %s", class.Key)
		}
		if _, exists := prices[class.Asset]; exists {
			return nil, fmt.Errorf("duplicate asset symbol %s", class.Asset)
		}

		price, err := decimal.NewFromString(class.PriceUsd)
		if err != nil {
			return nil, fmt.Errorf("class %s has invalid price_usd %q: %w", class.Key, class.PriceUsd, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("class %s price_usd must be positive, got %s", class.Key, price.String())
		}

		classByKey[class.Key] = class
		prices[class.Asset] = price
	}

	if _, ok := classByKey[file.StableClass]; !ok {
		return nil, fmt.Errorf("stable_class %s is not a declared class", file.StableClass)
	}

	hundred := decimal.NewFromInt(100)
	models := make(map[string]map[string]decimal.Decimal, len(file.Models))
	for _, model := range file.Models {
		if model.Key == "" {
			return nil, fmt.Errorf("model missing key")
		}
		if _, exists := models[model.Key]; exists {
			return nil, fmt.Errorf("duplicate model key %s", model.Key)
		}
		if len(model.Targets) == 0 {
			return nil, fmt.Errorf("model %s has no targets", model.Key)
		}

		targets := make(map[string]decimal.Decimal, len(model.Targets))
		sum := decimal.Zero
		for classKey, pctStr := range model.Targets {
			if _, ok := classByKey[classKey]; !ok {
				return nil, fmt.Errorf("model %s targets unknown class %s", model.Key, classKey)
			}
			pct, err := decimal.NewFromString(pctStr)
			if err != nil {
				return nil, fmt.Errorf("model %s has invalid target for %s: %w", model.Key, classKey, err)
			}
			if pct.IsNegative() {
				return nil, fmt.Errorf("model %s target for %s cannot be negative", model.Key, classKey)
			}
			targets[classKey] = pct
			sum = sum.Add(pct)
		}
		if !sum.Equal(hundred) {
			return nil, fmt.Errorf("model %s targets sum to %s, want 100", model.Key, sum.String())
		}

		models[model.Key] = targets
	}

	return &Registry{
		stableClass: file.StableClass,
		classes:     file.Classes,
		classByKey:  classByKey,
		models:      models,
		prices:      prices,
	}, nil
}

// StableClass returns the class key deposits land in.
func (r *Registry) StableClass() string {
	return r.stableClass
}

// StableAsset returns the asset symbol of the stable class.
func (r *Registry) StableAsset() string {
	return r.classByKey[r.stableClass].Asset
}

// Classes returns all classes in file order.
func (r *Registry) Classes() []ClassConfig {
	out := make([]ClassConfig, len(r.classes))
	copy(out, r.classes)
	return out
}

func (r *Registry) Class(key string) (ClassConfig, error) {
	class, ok := r.classByKey[key]
	if !ok {
		return ClassConfig{}, fmt.Errorf("unknown class %q", key)
	}
	return class, nil
}

// AssetFor returns the tradable asset symbol for a class key.
func (r *Registry) AssetFor(classKey string) (string, error) {
	class, err := r.Class(classKey)
	if err != nil {
		return "", err
	}
	return class.Asset, nil
}

// Model returns a copy of the model's target percentages by class key.
func (r *Registry) Model(key string) (map[string]decimal.Decimal, error) {
	targets, ok := r.models[key]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", key)
	}
	out := make(map[string]decimal.Decimal, len(targets))
	for classKey, pct := range targets {
		out[classKey] = pct
	}
	return out, nil
}

// ModelKeys returns the declared model keys, sorted.
func (r *Registry) ModelKeys() []string {
	keys := make([]string, 0, len(r.models))
	for key := range r.models {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Prices returns a copy of the seed price per asset symbol.
func (r *Registry) Prices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(r.prices))
	for asset, price := range r.prices {
		out[asset] = price
	}
	return out
}
