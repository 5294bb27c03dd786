package costfn

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/autotune/internal/artifact"
)

// OptionKind selects how an option string is parsed.
type OptionKind string

const (
	KindBounds OptionKind = "bounds"
	KindFloat  OptionKind = "float"
	KindFloats OptionKind = "floats"
	KindEnum   OptionKind = "enum"
)

// OptionSpec declares one option a cost function accepts.
type OptionSpec struct {
	Name        string     `json:"name"`
	Kind        OptionKind `json:"kind"`
	Default     string     `json:"default,omitempty"`
	Choices     []string   `json:"choices,omitempty"`
	Description string     `json:"description,omitempty"`
}

func (o OptionSpec) parse(s string) (any, error) {
	s = strings.TrimSpace(s)
	switch o.Kind {
	case KindBounds:
		b, err := artifact.ParseBounds(s)
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindFloat:
		if s == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		return v, nil
	case KindFloats:
		if s == "" {
			return []float64(nil), nil
		}
		fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
		out := make([]float64, 0, len(fields))
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", f)
			}
			out = append(out, v)
		}
		return out, nil
	case KindEnum:
		for _, c := range o.Choices {
			if s == c {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(o.Choices, "|"))
	default:
		return nil, fmt.Errorf("unknown option kind %q", o.Kind)
	}
}

// Options holds parsed option values keyed by option name.
type Options map[string]any

// Bounds returns a bounds option; unset means the whole axis.
func (o Options) Bounds(name string) artifact.Bounds {
	b, _ := o[name].(artifact.Bounds)
	return b
}

// Float returns a float option and whether it was set.
func (o Options) Float(name string) (float64, bool) {
	v, ok := o[name].(float64)
	return v, ok
}

// Floats returns a list option.
func (o Options) Floats(name string) []float64 {
	v, _ := o[name].([]float64)
	return v
}

// String returns an enum option.
func (o Options) String(name string) string {
	v, _ := o[name].(string)
	return v
}

func resolveOptions(d *Descriptor, raw map[string]string) (Options, error) {
	declared := make(map[string]OptionSpec, len(d.Options))
	for _, spec := range d.Options {
		declared[spec.Name] = spec
	}
	var unknown []string
	for k := range raw {
		if _, ok := declared[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s does not accept %s", ErrInvalidOption, d.Name, strings.Join(unknown, ", "))
	}

	opts := make(Options, len(d.Options))
	for _, spec := range d.Options {
		s, ok := raw[spec.Name]
		if !ok {
			s = spec.Default
		}
		v, err := spec.parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidOption, d.Name, spec.Name, err)
		}
		if v != nil {
			opts[spec.Name] = v
		}
	}
	return opts, nil
}
