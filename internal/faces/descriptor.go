// Package faces matches face embeddings against stored campaign photo descriptors.
package faces

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	// DescriptorLength is the dimensionality produced by the capture-side face model.
	DescriptorLength = 128
	// DefaultThreshold is the minimum similarity counted as a match.
	DefaultThreshold = 0.6
	// MaxResults caps ranked result lists.
	MaxResults = 50
)

// ErrInvalidInput reports malformed descriptors or thresholds.
var ErrInvalidInput = errors.New("faces: invalid input")

// Descriptor is a face embedding. Values are never mutated after construction.
type Descriptor []float64

// NewDescriptor validates raw values and returns a private copy.
func NewDescriptor(values []float64) (Descriptor, error) {
	if len(values) != DescriptorLength {
		return nil, fmt.Errorf("%w: descriptor has %d dimensions, want %d", ErrInvalidInput, len(values), DescriptorLength)
	}
	for index, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("%w: descriptor value %d is not finite", ErrInvalidInput, index)
		}
	}
	descriptor := make(Descriptor, len(values))
	copy(descriptor, values)
	return descriptor, nil
}

// Similarity returns max(0, 1 - euclidean distance) between two descriptors of equal length.
func Similarity(a, b Descriptor) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: descriptor lengths differ (%d vs %d)", ErrInvalidInput, len(a), len(b))
	}
	var sum float64
	for index := range a {
		delta := a[index] - b[index]
		sum += delta * delta
	}
	return math.Max(0, 1-math.Sqrt(sum)), nil
}

// IsMatch reports whether the pair reaches the threshold.
func IsMatch(a, b Descriptor, threshold float64) (bool, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return false, err
	}
	similarity, err := Similarity(a, b)
	if err != nil {
		return false, err
	}
	return similarity >= threshold, nil
}

// ValidateThreshold rejects thresholds outside [0,1].
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: threshold %v outside [0,1]", ErrInvalidInput, threshold)
	}
	return nil
}

// Candidate is a stored descriptor keyed by what it belongs to.
type Candidate struct {
	ID         string
	Descriptor Descriptor
}

// Scored is a candidate identifier with its similarity to the probe.
type Scored struct {
	ID         string
	Similarity float64
}

// Rank scores every candidate against the probe, keeps matches at or above the threshold,
// and returns at most MaxResults entries ordered by descending similarity.
func Rank(probe Descriptor, candidates []Candidate, threshold float64) ([]Scored, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	matches, err := scoreMatches(probe, candidates, threshold)
	if err != nil {
		return nil, err
	}
	return sortAndCap(matches), nil
}

func scoreMatches(probe Descriptor, candidates []Candidate, threshold float64) ([]Scored, error) {
	matches := make([]Scored, 0)
	for _, candidate := range candidates {
		similarity, err := Similarity(probe, candidate.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", candidate.ID, err)
		}
		if similarity >= threshold {
			matches = append(matches, Scored{ID: candidate.ID, Similarity: similarity})
		}
	}
	return matches, nil
}

// sortAndCap orders by similarity descending, then by id so equal scores stay deterministic.
func sortAndCap(matches []Scored) []Scored {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > MaxResults {
		matches = matches[:MaxResults]
	}
	return matches
}

// bestPerID merges score lists keeping the highest similarity seen for each id.
func bestPerID(lists ...[]Scored) []Scored {
	best := make(map[string]float64)
	for _, list := range lists {
		for _, entry := range list {
			if current, ok := best[entry.ID]; !ok || entry.Similarity > current {
				best[entry.ID] = entry.Similarity
			}
		}
	}
	merged := make([]Scored, 0, len(best))
	for id, similarity := range best {
		merged = append(merged, Scored{ID: id, Similarity: similarity})
	}
	return merged
}
