// SPDX-License-Identifier: Apache-2.0

package fieldextract

import "github.com/finchley/docflow/internal/domain"

// candidate is one proposed value for a field with its provenance.
type candidate struct {
	value      any
	confidence float64
	method     domain.ExtractionMethod
}

// strategy yields an optional candidate. Strategies are ordered by
// preference; cheap pattern baselines come after AI-derived values.
type strategy func() (candidate, bool)

// pick returns the first candidate clearing the threshold. When no strategy
// clears it, the best candidate produced by any strategy is returned so a
// weak value still beats an absent one.
func pick(threshold float64, strategies ...strategy) (candidate, bool) {
	var best candidate
	found := false
	for _, s := range strategies {
		c, ok := s()
		if !ok {
			continue
		}
		if c.confidence >= threshold {
			return c, true
		}
		if !found || c.confidence > best.confidence {
			best = c
			found = true
		}
	}
	return best, found
}
