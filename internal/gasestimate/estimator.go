// Package gasestimate supplies gas cost estimates when a caller does not
// provide one.
package gasestimate

import (
	"context"

	"github.com/org/sessionguard/pkg/models"
)

// Estimator estimates the sponsored cost of a call.
type Estimator interface {
	EstimateCost(ctx context.Context, target models.Address, method models.Selector) (uint64, error)
}

// StaticEstimator returns configured costs: a per-contract override when one
// exists, otherwise Default.
type StaticEstimator struct {
	Default   uint64
	Overrides map[models.Address]uint64
}

// NewStaticEstimator creates a StaticEstimator. The overrides map is copied.
func NewStaticEstimator(def uint64, overrides map[models.Address]uint64) *StaticEstimator {
	o := make(map[models.Address]uint64, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &StaticEstimator{Default: def, Overrides: o}
}

// EstimateCost implements Estimator.
func (e *StaticEstimator) EstimateCost(_ context.Context, target models.Address, _ models.Selector) (uint64, error) {
	if v, ok := e.Overrides[target]; ok {
		return v, nil
	}
	return e.Default, nil
}
