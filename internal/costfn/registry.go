// Package costfn holds the registry of cost functions that turn a
// measurement artifact into a scalar. Lower is better; callers negate when
// maximising.
package costfn

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/banshee-data/autotune/internal/artifact"
)

var (
	ErrUnknownCostFunction = errors.New("unknown cost function")
	ErrShapeMismatch       = errors.New("artifact shape mismatch")
	ErrNonFinite           = errors.New("cost is not finite")
	ErrInvalidOption       = errors.New("invalid cost function option")
	ErrDuplicate           = errors.New("cost function already registered")
)

// ScoreFunc computes the cost for one artifact. opts has every declared
// option filled in and parsed.
type ScoreFunc func(a *artifact.Artifact, opts Options) (float64, error)

// Descriptor describes a registered cost function.
type Descriptor struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Shape       artifact.Shape `json:"shape"`
	Options     []OptionSpec   `json:"options,omitempty"`
	Score       ScoreFunc      `json:"-"`
}

// Info is a summary of a registered cost function.
type Info struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Shape       artifact.Shape `json:"shape"`
	Options     []OptionSpec   `json:"options,omitempty"`
}

// Registry holds cost function descriptors. It is populated at start-up and
// read concurrently afterwards.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]*Descriptor
}

var folder = cases.Fold()

func key(name string) string {
	return folder.String(strings.TrimSpace(name))
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]*Descriptor)}
}

// Register adds d. Names are case-insensitive and must be unique.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return errors.New("register: nil descriptor")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("register: cost function has no name")
	}
	if d.Score == nil {
		return fmt.Errorf("register %s: nil score function", d.Name)
	}
	if !d.Shape.Valid() {
		return fmt.Errorf("register %s: unknown shape %q", d.Name, d.Shape)
	}
	seen := make(map[string]bool, len(d.Options))
	for _, o := range d.Options {
		if o.Name == "" || seen[o.Name] {
			return fmt.Errorf("register %s: option name %q empty or repeated", d.Name, o.Name)
		}
		seen[o.Name] = true
		if _, err := o.parse(o.Default); err != nil {
			return fmt.Errorf("register %s: option %s default: %w", d.Name, o.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(d.Name)
	if _, exists := r.fns[k]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, d.Name)
	}
	r.fns[k] = d
	return nil
}

// MustRegister is Register for built-in tables.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get looks a cost function up by name. An unknown name yields an error
// listing the closest registered names.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.fns[key(name)]; ok {
		return d, nil
	}
	if s := r.suggest(name); len(s) > 0 {
		return nil, fmt.Errorf("%w %q (did you mean %s?)", ErrUnknownCostFunction, name, strings.Join(s, ", "))
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownCostFunction, name)
}

// suggest returns up to three names within edit distance 3. Caller holds mu.
func (r *Registry) suggest(name string) []string {
	type candidate struct {
		name string
		dist int
	}
	k := key(name)
	var cands []candidate
	for fk, d := range r.fns {
		dist := levenshtein.ComputeDistance(k, fk)
		if dist <= 3 || strings.Contains(fk, k) {
			cands = append(cands, candidate{d.Name, dist})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].name < cands[j].name
	})
	out := make([]string, 0, 3)
	for i := 0; i < len(cands) && i < 3; i++ {
		out = append(out, cands[i].name)
	}
	return out
}

// List returns every registered cost function sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.fns))
	for _, d := range r.fns {
		infos = append(infos, Info{
			Name:        d.Name,
			Version:     d.Version,
			Description: d.Description,
			Shape:       d.Shape,
			Options:     d.Options,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Check is the configuration-time gate: it fails when name is unknown, when
// an acquisition producing shape cannot feed it, or when raw options do not
// parse.
func (r *Registry) Check(name string, shape artifact.Shape, raw map[string]string) error {
	d, err := r.Get(name)
	if err != nil {
		return err
	}
	if !shape.Provides(d.Shape) {
		return fmt.Errorf("%w: %s needs %s data but the acquisition produces %s",
			ErrShapeMismatch, d.Name, d.Shape, shape)
	}
	_, err = resolveOptions(d, raw)
	return err
}

// Evaluate scores a against the named cost function.
func (r *Registry) Evaluate(name string, a *artifact.Artifact, raw map[string]string) (float64, error) {
	d, err := r.Get(name)
	if err != nil {
		return math.NaN(), err
	}
	opts, err := resolveOptions(d, raw)
	if err != nil {
		return math.NaN(), err
	}
	if err := a.Validate(); err != nil {
		return math.NaN(), fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if !a.Shape.Provides(d.Shape) {
		return math.NaN(), fmt.Errorf("%w: %s needs %s data, got %s", ErrShapeMismatch, d.Name, d.Shape, a.Shape)
	}
	cost, err := d.Score(a, opts)
	if err != nil {
		return math.NaN(), fmt.Errorf("%s: %w", d.Name, err)
	}
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return cost, fmt.Errorf("%w: %s returned %v", ErrNonFinite, d.Name, cost)
	}
	return cost, nil
}
