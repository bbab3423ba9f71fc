// Package regressor implements the closed set of model families the trainer
// chooses between: two independent gradient-boosted tree implementations and
// the category-mean baseline, behind one fit/predict/serialize contract.
package regressor

import (
	"encoding/json"
	"fmt"
)

// Known model family names.
const (
	FamilyGBExact = "gb-exact"
	FamilyGBHist  = "gb-hist"
	FamilyMean    = "mean"
)

// Families lists every trainable family in a stable order.
func Families() []string {
	return []string{FamilyGBExact, FamilyGBHist}
}

// Model is a fitted regressor. Implementations are immutable after fitting;
// Predict must be safe for concurrent use.
type Model interface {
	Family() string
	Predict(x []float64) float64
}

// Params are the hyperparameters of a gradient-boosting fit. The baseline
// family ignores them.
type Params struct {
	Rounds       int     `json:"rounds"`
	MaxDepth     int     `json:"max_depth"`
	LearningRate float64 `json:"learning_rate"`
	Subsample    float64 `json:"subsample"`
	MinLeaf      int     `json:"min_leaf"`
	Bins         int     `json:"bins"`
}

// DefaultParams are a safe middle of the search space.
func DefaultParams() Params {
	return Params{
		Rounds:       100,
		MaxDepth:     4,
		LearningRate: 0.1,
		Subsample:    0.8,
		MinLeaf:      3,
		Bins:         32,
	}
}

func (p Params) String() string {
	return fmt.Sprintf("rounds=%d depth=%d lr=%.3f subsample=%.2f min_leaf=%d bins=%d",
		p.Rounds, p.MaxDepth, p.LearningRate, p.Subsample, p.MinLeaf, p.Bins)
}

// Fit trains a model of the named family on the given matrix. The seed
// drives every stochastic step so that the same inputs always produce the
// same model.
func Fit(family string, xs [][]float64, y []float64, params Params, seed int64) (Model, error) {
	if len(xs) == 0 || len(xs) != len(y) {
		return nil, fmt.Errorf("invalid training matrix: %d rows, %d targets", len(xs), len(y))
	}
	switch family {
	case FamilyGBExact, FamilyGBHist:
		return fitGradientBoost(family, xs, y, params, seed)
	case FamilyMean:
		return FitMean(y), nil
	default:
		return nil, fmt.Errorf("unknown model family %q", family)
	}
}

// Marshal serializes a model together with its family tag.
func Marshal(m Model) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s model: %w", m.Family(), err)
	}
	envelope := struct {
		Family string          `json:"family"`
		Model  json.RawMessage `json:"model"`
	}{Family: m.Family(), Model: payload}
	return json.Marshal(envelope)
}

// Unmarshal restores a model from its tagged serialized form.
func Unmarshal(data []byte) (Model, error) {
	var envelope struct {
		Family string          `json:"family"`
		Model  json.RawMessage `json:"model"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode model envelope: %w", err)
	}

	switch envelope.Family {
	case FamilyGBExact, FamilyGBHist:
		var gb GradientBoost
		if err := json.Unmarshal(envelope.Model, &gb); err != nil {
			return nil, fmt.Errorf("decode %s model: %w", envelope.Family, err)
		}
		if gb.FamilyName != envelope.Family {
			return nil, fmt.Errorf("model envelope family %q does not match payload %q",
				envelope.Family, gb.FamilyName)
		}
		return &gb, nil
	case FamilyMean:
		var m MeanModel
		if err := json.Unmarshal(envelope.Model, &m); err != nil {
			return nil, fmt.Errorf("decode mean model: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown model family %q", envelope.Family)
	}
}
