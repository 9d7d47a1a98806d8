// Package features turns contract records into normalized numeric vectors.
package features

import (
	"math"

	"github.com/kalambet/crmai/internal/crm"
)

// Size is the number of features per vector.
const Size = 3

// Vector is [amount, duration_days, status_is_active].
type Vector [Size]float64

// Names labels each position of a Vector.
var Names = [Size]string{"amount", "duration_days", "status_active"}

// Extract maps a contract to its raw feature vector. It never fails:
// crm.Contract already carries the documented defaults.
func Extract(c crm.Contract) Vector {
	active := 0.0
	if c.Active() {
		active = 1
	}
	return Vector{c.Amount, c.DurationDays, active}
}

// Stats holds per-feature mean and scale fitted over a training batch.
// The zero value is not usable; obtain Stats from Fit.
type Stats struct {
	Mean  Vector
	Scale Vector
}

// Fit computes the mean and population standard deviation of each feature.
// Features with zero variance get a scale of 1 so they are only centred.
// An empty batch yields a zero mean and unit scale.
func Fit(vs []Vector) Stats {
	var st Stats
	for i := range st.Scale {
		st.Scale[i] = 1
	}
	if len(vs) == 0 {
		return st
	}

	n := float64(len(vs))
	for _, v := range vs {
		for i, x := range v {
			st.Mean[i] += x
		}
	}
	for i := range st.Mean {
		st.Mean[i] /= n
	}

	var variance Vector
	for _, v := range vs {
		for i, x := range v {
			d := x - st.Mean[i]
			variance[i] += d * d
		}
	}
	for i := range variance {
		sd := math.Sqrt(variance[i] / n)
		if sd > 0 {
			st.Scale[i] = sd
		}
	}
	return st
}

// Apply rescales v with the fitted statistics.
func (s Stats) Apply(v Vector) Vector {
	var out Vector
	for i, x := range v {
		out[i] = (x - s.Mean[i]) / s.Scale[i]
	}
	return out
}

// ApplyAll rescales every vector in vs.
func (s Stats) ApplyAll(vs []Vector) []Vector {
	out := make([]Vector, len(vs))
	for i, v := range vs {
		out[i] = s.Apply(v)
	}
	return out
}
