package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mahirjain10/image-variants/internal/types"
)

// Variants maps a variant name (thumbnail, full, preview) to its config.
type Variants map[string]types.VariantConfig

// DefaultVariants is used when no VARIANTS_FILE is configured.
func DefaultVariants() Variants {
	return Variants{
		"thumbnail": {Format: types.WEBP, Quality: 80, MaxWidth: 200, MaxHeight: 200},
		"preview":   {Format: types.WEBP, Quality: 70, MaxWidth: 600, MaxHeight: 600},
		"full":      {Format: types.WEBP, Quality: 85, MaxWidth: 1920, MaxHeight: 1920},
	}
}

type variantsFile struct {
	Variants Variants `yaml:"variants"`
}

// LoadVariants reads presets from a YAML file of the form
//
//	variants:
//	  thumbnail: {format: webp, quality: 80, maxWidth: 200, maxHeight: 200}
func LoadVariants(path string) (Variants, error) {
	if path == "" {
		return DefaultVariants(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read variants file: %w", err)
	}
	var file variantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse variants file %s: %w", path, err)
	}
	if len(file.Variants) == 0 {
		return nil, fmt.Errorf("variants file %s defines no variants", path)
	}
	for name, v := range file.Variants {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("variant %s: %w", name, err)
		}
		// Validate accepted the format, so parsing only normalises aliases
		v.Format, _ = types.ParseFormat(string(v.Format))
		file.Variants[name] = v
	}
	return file.Variants, nil
}

// Select returns the named subset; an empty list selects every preset.
func (v Variants) Select(names []string) (Variants, error) {
	if len(names) == 0 {
		return v, nil
	}
	out := make(Variants, len(names))
	for _, name := range names {
		cfg, ok := v[name]
		if !ok {
			return nil, &types.ValidationError{Field: "variants", Message: fmt.Sprintf("unknown variant %q", name)}
		}
		out[name] = cfg
	}
	return out, nil
}

func (v Variants) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clamp caps every variant at the configured resolution ceiling.
func (v Variants) Clamp(maxWidth, maxHeight int) Variants {
	out := make(Variants, len(v))
	for name, cfg := range v {
		if maxWidth > 0 && (cfg.MaxWidth == 0 || cfg.MaxWidth > maxWidth) {
			cfg.MaxWidth = maxWidth
		}
		if maxHeight > 0 && (cfg.MaxHeight == 0 || cfg.MaxHeight > maxHeight) {
			cfg.MaxHeight = maxHeight
		}
		out[name] = cfg
	}
	return out
}
