// Package modelstore persists trained models and their metadata on the
// filesystem, one entry per (category, family), with atomic replacement so
// concurrent readers never observe a half-written model.
package modelstore

import (
	"time"

	"github.com/fedora-copr/rpmeta/pkg/feature"
	"github.com/fedora-copr/rpmeta/pkg/regressor"
)

// Metrics summarizes a model's validation error. Under- and over-prediction
// are reported separately: an under-predicted build blocks a scheduler
// longer than promised, which costs more than an over-prediction.
type Metrics struct {
	MAE           float64 `json:"mae_seconds"`
	MAEUnder      float64 `json:"mae_under_seconds"`
	MAEOver       float64 `json:"mae_over_seconds"`
	UnderFraction float64 `json:"under_fraction"`
	R2            float64 `json:"r2"`
	Samples       int     `json:"samples"`
}

// Metadata is the sidecar persisted with every model payload, readable
// without deserializing the model itself.
type Metadata struct {
	ID                string           `json:"id"`
	Category          feature.Category `json:"category"`
	Family            string           `json:"family"`
	SchemaLayout      string           `json:"schema_layout"`
	SchemaFingerprint string           `json:"schema_fingerprint"`
	Params            regressor.Params `json:"params"`
	Metrics           Metrics          `json:"metrics"`
	BaselineMAE       float64          `json:"baseline_mae_seconds"`
	Baseline          bool             `json:"baseline"`
	TrainedAt         time.Time        `json:"trained_at"`
}

// TrainedModel is an immutable fitted regressor plus everything needed to
// validate and attribute its predictions. A new training run always
// produces a new TrainedModel; superseding happens by replacement in the
// store, never by mutation.
type TrainedModel struct {
	Meta   Metadata
	Model  regressor.Model
	Schema *feature.Schema
}
