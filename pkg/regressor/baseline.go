package regressor

// MeanModel predicts the mean duration of its training set regardless of
// input. It is the trivial baseline every candidate has to beat, and the
// safe fallback when none does.
type MeanModel struct {
	Mean float64 `json:"mean"`
	N    int     `json:"n"`
}

// FitMean fits the baseline on raw durations in seconds.
func FitMean(y []float64) *MeanModel {
	var sum float64
	for _, v := range y {
		sum += v
	}
	m := &MeanModel{N: len(y)}
	if m.N > 0 {
		m.Mean = sum / float64(m.N)
	}
	return m
}

func (m *MeanModel) Family() string {
	return FamilyMean
}

func (m *MeanModel) Predict(_ []float64) float64 {
	return m.Mean
}
