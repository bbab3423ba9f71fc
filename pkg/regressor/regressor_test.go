package regressor

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticBuilds generates a learnable dataset: duration grows with the
// dependency count feature plus noise, which is roughly how real build
// times behave.
func syntheticBuilds(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	xs := make([][]float64, n)
	y := make([]float64, n)
	for i := range xs {
		deps := float64(rng.Intn(200))
		cores := float64(2 + rng.Intn(14))
		xs[i] = []float64{deps, cores, rng.Float64()}
		y[i] = 60 + deps*25/cores + rng.Float64()*30
	}
	return xs, y
}

func mae(m Model, xs [][]float64, y []float64) float64 {
	var sum float64
	for i, x := range xs {
		sum += math.Abs(m.Predict(x) - y[i])
	}
	return sum / float64(len(y))
}

func TestFitBeatsBaseline(t *testing.T) {
	trainX, trainY := syntheticBuilds(400, 1)
	valX, valY := syntheticBuilds(100, 2)

	baseline := FitMean(trainY)
	baselineMAE := mae(baseline, valX, valY)

	for _, family := range Families() {
		model, err := Fit(family, trainX, trainY, DefaultParams(), 7)
		require.NoError(t, err, family)
		assert.Equal(t, family, model.Family())
		assert.Less(t, mae(model, valX, valY), baselineMAE,
			"%s should beat the mean baseline on learnable data", family)
	}
}

func TestFitDeterministic(t *testing.T) {
	xs, y := syntheticBuilds(200, 3)

	for _, family := range Families() {
		a, err := Fit(family, xs, y, DefaultParams(), 11)
		require.NoError(t, err)
		b, err := Fit(family, xs, y, DefaultParams(), 11)
		require.NoError(t, err)

		for _, x := range xs[:20] {
			assert.Equal(t, a.Predict(x), b.Predict(x), "same seed must give the same model")
		}
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	_, err := Fit(FamilyGBExact, nil, nil, DefaultParams(), 0)
	require.Error(t, err)

	_, err = Fit("random-forest", [][]float64{{1}}, []float64{1}, DefaultParams(), 0)
	require.Error(t, err)

	_, err = Fit(FamilyGBHist, [][]float64{{1}, {2}}, []float64{1}, DefaultParams(), 0)
	require.Error(t, err)
}

func TestPredictNeverNegative(t *testing.T) {
	xs, y := syntheticBuilds(100, 4)
	for i := range y {
		y[i] = 1 // near-zero durations push raw predictions below zero
	}
	model, err := Fit(FamilyGBExact, xs, y, DefaultParams(), 5)
	require.NoError(t, err)

	for _, x := range xs {
		assert.GreaterOrEqual(t, model.Predict(x), 0.0)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	xs, y := syntheticBuilds(150, 6)

	families := append(Families(), FamilyMean)
	for _, family := range families {
		model, err := Fit(family, xs, y, DefaultParams(), 13)
		require.NoError(t, err)

		payload, err := Marshal(model)
		require.NoError(t, err)

		restored, err := Unmarshal(payload)
		require.NoError(t, err)
		assert.Equal(t, model.Family(), restored.Family())

		for _, x := range xs[:10] {
			assert.InDelta(t, model.Predict(x), restored.Predict(x), 1e-9)
		}
	}
}

func TestUnmarshalRejectsMismatchedEnvelope(t *testing.T) {
	xs, y := syntheticBuilds(50, 8)
	model, err := Fit(FamilyGBExact, xs, y, DefaultParams(), 1)
	require.NoError(t, err)

	payload, err := Marshal(model)
	require.NoError(t, err)

	// Claim a different family than the payload carries.
	var envelope struct {
		Family string          `json:"family"`
		Model  json.RawMessage `json:"model"`
	}
	require.NoError(t, json.Unmarshal(payload, &envelope))
	envelope.Family = FamilyGBHist
	tampered, err := json.Marshal(envelope)
	require.NoError(t, err)

	_, err = Unmarshal(tampered)
	require.Error(t, err)

	_, err = Unmarshal([]byte(`{"family":"svm","model":{}}`))
	require.Error(t, err)
}
