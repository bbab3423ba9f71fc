package trainer

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/fedora-copr/rpmeta/pkg/modelstore"
	"github.com/fedora-copr/rpmeta/pkg/regressor"
)

// evaluate scores a fitted model on a held-out partition. Errors are broken
// down by direction: under-prediction (model promised a faster build than
// observed) is tracked separately from over-prediction because the two have
// asymmetric scheduling cost.
func evaluate(model regressor.Model, xs [][]float64, y []float64) modelstore.Metrics {
	if len(y) == 0 {
		return modelstore.Metrics{}
	}

	predicted := make([]float64, len(y))
	var sumAbs, sumUnder, sumOver float64
	var numUnder, numOver int
	for i, x := range xs {
		predicted[i] = model.Predict(x)
		diff := predicted[i] - y[i]
		sumAbs += math.Abs(diff)
		if diff < 0 {
			sumUnder += -diff
			numUnder++
		} else if diff > 0 {
			sumOver += diff
			numOver++
		}
	}

	m := modelstore.Metrics{
		MAE:           sumAbs / float64(len(y)),
		UnderFraction: float64(numUnder) / float64(len(y)),
		R2:            stat.RSquaredFrom(predicted, y, nil),
		Samples:       len(y),
	}
	if numUnder > 0 {
		m.MAEUnder = sumUnder / float64(numUnder)
	}
	if numOver > 0 {
		m.MAEOver = sumOver / float64(numOver)
	}
	return m
}
