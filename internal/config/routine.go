package config

import (
	"fmt"
	"maps"

	"github.com/banshee-data/autotune/internal/artifact"
	"github.com/banshee-data/autotune/internal/bridge"
	"github.com/banshee-data/autotune/internal/costfn"
	"github.com/banshee-data/autotune/internal/driver"
	"github.com/banshee-data/autotune/internal/optimizer"
	"github.com/banshee-data/autotune/internal/params"
)

// Defaults applied to fields a routine leaves out.
const (
	DefaultAlgorithm = "nm"
	DefaultTolerance = 0.01
	// DefaultEvaluationsPerParam sets max_evaluations to this many times
	// the number of parameters when the routine does not.
	DefaultEvaluationsPerParam = 500
)

// Param is one optimised parameter as written in a routine file.
type Param struct {
	Name      string  `json:"name" yaml:"name" validate:"required"`
	Lower     float64 `json:"lb" yaml:"lb"`
	Upper     float64 `json:"ub" yaml:"ub" validate:"gtfield=Lower"`
	Initial   float64 `json:"init" yaml:"init"`
	Tolerance float64 `json:"tol,omitempty" yaml:"tol,omitempty" validate:"gte=0"`
	Unit      string  `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Bridge says how to reach the acquisition host.
type Bridge struct {
	// Target is a transport URL: serial:///dev/ttyUSB0?baud=115200,
	// tcp://host:port or exec:command args.
	Target         string   `json:"target" yaml:"target" validate:"required"`
	CommandTimeout Duration `json:"command_timeout,omitempty" yaml:"command_timeout,omitempty"`
	AcquireTimeout Duration `json:"acquire_timeout,omitempty" yaml:"acquire_timeout,omitempty"`
}

// Routine is one optimisation problem.
type Routine struct {
	Name           string            `json:"name" yaml:"name" validate:"required"`
	Parameters     []Param           `json:"parameters" yaml:"parameters" validate:"required,min=1,dive"`
	CostFunction   string            `json:"cost_function" yaml:"cost_function" validate:"required"`
	CostOptions    map[string]string `json:"cost_options,omitempty" yaml:"cost_options,omitempty"`
	Algorithm      string            `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	Tolerance      float64           `json:"tolerance,omitempty" yaml:"tolerance,omitempty" validate:"gte=0,lt=1"`
	MaxEvaluations int               `json:"max_evaluations,omitempty" yaml:"max_evaluations,omitempty" validate:"gte=0"`
	Maximize       bool              `json:"maximize,omitempty" yaml:"maximize,omitempty"`
	RetryBudget    int               `json:"retry_budget,omitempty" yaml:"retry_budget,omitempty" validate:"gte=0,lte=100"`
	Shape          string            `json:"shape,omitempty" yaml:"shape,omitempty" validate:"omitempty,oneof=1d-real 1d-complex 2d"`
	Bridge         *Bridge           `json:"bridge,omitempty" yaml:"bridge,omitempty"`
}

// LoadRoutine reads, defaults and validates a routine file.
func LoadRoutine(path string, reg *costfn.Registry) (*Routine, error) {
	data, ext, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var r Routine
	if err := decode(data, ext, &r); err != nil {
		return nil, err
	}
	r.ApplyDefaults()
	if err := r.Validate(reg); err != nil {
		return nil, fmt.Errorf("routine %s: %w", path, err)
	}
	return &r, nil
}

// ApplyDefaults fills the optional fields.
func (r *Routine) ApplyDefaults() {
	if r.Algorithm == "" {
		r.Algorithm = DefaultAlgorithm
	}
	if r.Tolerance == 0 {
		r.Tolerance = DefaultTolerance
	}
	if r.MaxEvaluations == 0 {
		r.MaxEvaluations = DefaultEvaluationsPerParam * max(1, len(r.Parameters))
	}
	if r.RetryBudget == 0 {
		r.RetryBudget = driver.DefaultRetryBudget
	}
	if r.Shape == "" {
		r.Shape = string(artifact.Real1D)
	}
}

// Validate checks struct constraints, then the parameter space, algorithm
// and cost function against reg. A nil reg uses the built-in registry.
func (r *Routine) Validate(reg *costfn.Registry) error {
	if err := checkStruct(r); err != nil {
		return err
	}
	if reg == nil {
		reg = costfn.Default()
	}
	if err := r.Space().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := optimizer.Validate(r.Algorithm); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := reg.Check(r.CostFunction, artifact.Shape(r.Shape), r.CostOptions); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Space converts the parameters into a search space.
func (r *Routine) Space() params.Space {
	space := make(params.Space, len(r.Parameters))
	for i, p := range r.Parameters {
		space[i] = params.Spec{
			Name:      p.Name,
			Lower:     p.Lower,
			Upper:     p.Upper,
			Initial:   p.Initial,
			Unit:      p.Unit,
			Tolerance: p.Tolerance,
		}
	}
	return space
}

// DriverConfig returns the search settings of r. The caller supplies the
// bridge, log and the other shared fields.
func (r *Routine) DriverConfig() driver.Config {
	return driver.Config{
		Routine:        r.Name,
		Space:          r.Space(),
		CostFunction:   r.CostFunction,
		CostOptions:    maps.Clone(r.CostOptions),
		Algorithm:      r.Algorithm,
		Tolerance:      r.Tolerance,
		MaxEvaluations: r.MaxEvaluations,
		Maximize:       r.Maximize,
		RetryBudget:    r.RetryBudget,
		Shape:          artifact.Shape(r.Shape),
	}
}

// BridgeOptions returns the client options for the routine's bridge
// section; zero timeouts fall back to the client defaults.
func (r *Routine) BridgeOptions() bridge.Options {
	opts := bridge.Options{Shape: artifact.Shape(r.Shape)}
	if r.Bridge != nil {
		opts.CommandTimeout = r.Bridge.CommandTimeout.Std()
		opts.AcquireTimeout = r.Bridge.AcquireTimeout.Std()
	}
	return opts
}
