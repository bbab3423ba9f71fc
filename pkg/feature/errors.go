package feature

import "fmt"

// SchemaError reports an input record that is missing a field the active
// schema declares mandatory. Such records are rejected individually; they
// never abort a whole dataset build.
type SchemaError struct {
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("record is missing required field %q", e.Field)
}

// SchemaMismatchError reports an attempt to serve predictions with a model
// trained against a different schema than the live encoder. The model is
// unusable until retrained; truncating or padding vectors would silently
// produce wrong predictions.
type SchemaMismatchError struct {
	TrainedLayout string
	ActiveLayout  string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("model trained with schema layout %s, encoder uses %s",
		e.TrainedLayout, e.ActiveLayout)
}
