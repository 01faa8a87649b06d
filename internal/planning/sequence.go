package planning

import "piplan/internal/domain"

// BuildSequence flattens features into one story list, keeping feature order
// and each feature's own story order. The returned pointers alias the
// features' story slices.
func BuildSequence(features []*domain.Feature) []*domain.Story {
	var n int
	for _, f := range features {
		n += len(f.Stories)
	}
	seq := make([]*domain.Story, 0, n)
	for _, f := range features {
		for i := range f.Stories {
			seq = append(seq, &f.Stories[i])
		}
	}
	return seq
}
