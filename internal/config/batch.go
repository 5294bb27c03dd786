package config

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/autotune/internal/costfn"
	"github.com/banshee-data/autotune/internal/sequencer"
)

// BatchItem is one entry of a batch file. It names a routine file
// (relative to the batch file) or carries the routine inline, and may
// override a few search settings.
type BatchItem struct {
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	Routine       string   `json:"routine,omitempty" yaml:"routine,omitempty" validate:"required_without=Inline,excluded_with=Inline"`
	Inline        *Routine `json:"inline,omitempty" yaml:"inline,omitempty"`
	KeepOptimized bool     `json:"keep_optimized,omitempty" yaml:"keep_optimized,omitempty"`

	Algorithm      string  `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
	Tolerance      float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty" validate:"gte=0,lt=1"`
	MaxEvaluations int     `json:"max_evaluations,omitempty" yaml:"max_evaluations,omitempty" validate:"gte=0"`
}

// Batch is an ordered list of routines run on one instrument.
type Batch struct {
	Name   string      `json:"name,omitempty" yaml:"name,omitempty"`
	Bridge *Bridge     `json:"bridge,omitempty" yaml:"bridge,omitempty"`
	Items  []BatchItem `json:"items" yaml:"items" validate:"required,min=1,dive"`

	// Routines holds the resolved routine of every item, in order.
	Routines []*Routine `json:"-" yaml:"-"`
}

// LoadBatch reads a batch file, loads every referenced routine, applies the
// item overrides and validates the result.
func LoadBatch(path string, reg *costfn.Registry) (*Batch, error) {
	data, ext, err := readFile(path)
	if err != nil {
		return nil, err
	}
	var b Batch
	if err := decode(data, ext, &b); err != nil {
		return nil, err
	}
	if err := checkStruct(&b); err != nil {
		return nil, fmt.Errorf("batch %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	b.Routines = make([]*Routine, len(b.Items))
	for i := range b.Items {
		item := &b.Items[i]
		var r *Routine
		if item.Inline != nil {
			cp := *item.Inline
			r = &cp
		} else {
			rpath := item.Routine
			if !filepath.IsAbs(rpath) {
				rpath = filepath.Join(dir, rpath)
			}
			data, ext, err := readFile(rpath)
			if err != nil {
				return nil, fmt.Errorf("batch %s item %d: %w", path, i+1, err)
			}
			r = &Routine{}
			if err := decode(data, ext, r); err != nil {
				return nil, fmt.Errorf("batch %s item %d: %w", path, i+1, err)
			}
		}
		item.apply(r)
		r.ApplyDefaults()
		if err := r.Validate(reg); err != nil {
			return nil, fmt.Errorf("batch %s item %d (%s): %w", path, i+1, item.Name, err)
		}
		if item.Name == "" {
			item.Name = r.Name
		}
		b.Routines[i] = r
	}
	return &b, nil
}

func (it *BatchItem) apply(r *Routine) {
	if it.Algorithm != "" {
		r.Algorithm = it.Algorithm
	}
	if it.Tolerance != 0 {
		r.Tolerance = it.Tolerance
	}
	if it.MaxEvaluations != 0 {
		r.MaxEvaluations = it.MaxEvaluations
	}
}

// SequencerItems returns the items ready for sequencer.RunAll.
func (b *Batch) SequencerItems() []sequencer.Item {
	items := make([]sequencer.Item, len(b.Items))
	for i, it := range b.Items {
		items[i] = sequencer.Item{
			Name:          it.Name,
			Run:           b.Routines[i].DriverConfig(),
			KeepOptimized: it.KeepOptimized,
		}
	}
	return items
}

// BridgeSettings returns the batch bridge section, falling back to the
// first routine that has one.
func (b *Batch) BridgeSettings() *Bridge {
	if b.Bridge != nil {
		return b.Bridge
	}
	for _, r := range b.Routines {
		if r.Bridge != nil {
			return r.Bridge
		}
	}
	return nil
}
