package auction

import (
	"github.com/intentmesh-hq/auctioneer/pkg/models"
)

// SelectionPolicy picks a winner from the proposals of one auction. The
// protocol does not fix a ranking; policies are pluggable and the registry
// accepts whichever proposal the caller names.
type SelectionPolicy func(proposals []models.Proposal) (models.Proposal, bool)

// BestAPY returns the policy used by default: highest expected APY among
// proposals meeting the confidence floor, earliest submission breaking ties.
func BestAPY(minConfidence float64) SelectionPolicy {
	return func(proposals []models.Proposal) (models.Proposal, bool) {
		var best models.Proposal
		found := false
		for _, p := range proposals {
			if p.Confidence < minConfidence {
				continue
			}
			if !found || p.ExpectedAPY > best.ExpectedAPY {
				best = p
				found = true
			}
		}
		return best, found
	}
}

// BestConfidence ranks purely by confidence, earliest submission breaking ties.
func BestConfidence() SelectionPolicy {
	return func(proposals []models.Proposal) (models.Proposal, bool) {
		var best models.Proposal
		found := false
		for _, p := range proposals {
			if !found || p.Confidence > best.Confidence {
				best = p
				found = true
			}
		}
		return best, found
	}
}
