package configutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Decode checks a provider settings map against the keys out accepts and
// the required ones, then decodes it. Errors carry the section path so the
// operator can find the offending block in the config file.
func Decode(section string, input map[string]any, required []string, out any) error {
	if err := Validate(input, required, Keys(out)); err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	if len(input) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		MatchName:        sameKey,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("%s: %w", section, err)
	}
	return nil
}

// Field names a config value by its dotted path.
type Field struct {
	Path  string
	Value string
}

// Require reports every blank field at once.
func Require(fields ...Field) error {
	var errs []error
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.Path))
		}
	}
	return errors.Join(errs...)
}

func sameKey(a, b string) bool { return normalizeKey(a) == normalizeKey(b) }

// normalizeKey folds case and drops '_' and '-' so api_key, API-Key and
// APIKey compare equal.
func normalizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-':
			return -1
		}
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
