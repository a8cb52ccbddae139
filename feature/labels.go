package feature

// Labels tracks a slice of features and their column index in a feature matrix
type Labels struct {
	idx    map[string]int
	labels []Feature
}

func NewLabels(labels []Feature) *Labels {
	idx := make(map[string]int)
	for i := 0; i < len(labels); i++ {
		idx[labels[i].String()] = i
	}
	fl := &Labels{
		labels: labels,
		idx:    idx,
	}
	return fl
}

func (f *Labels) Len() int {
	if f == nil {
		return 0
	}
	return len(f.labels)
}

func (f *Labels) Labels() []Feature {
	labels := make([]Feature, len(f.labels))
	copy(labels, f.labels)
	return labels
}

// Strings returns the string representation of every label in column order
func (f *Labels) Strings() []string {
	res := make([]string, len(f.labels))
	for i, l := range f.labels {
		res[i] = l.String()
	}
	return res
}

func (f *Labels) Index(label Feature) (int, bool) {
	if idx, exists := f.idx[label.String()]; exists {
		return idx, exists
	}
	return -1, false
}

// OfType returns the column indices of all features of the given type
func (f *Labels) OfType(t FeatureType) []int {
	var res []int
	for i, l := range f.labels {
		if l.Type() == t {
			res = append(res, i)
		}
	}
	return res
}
