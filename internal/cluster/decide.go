package cluster

// Action is the outcome of scoring one article against its candidates.
type Action string

const (
	ActionAttach Action = "attach"
	ActionCreate Action = "create"
	ActionReopen Action = "reopen"
)

// Decision is the audit record of one clustering pass.
type Decision struct {
	Action         Action
	StoryID        int64
	Breakdown      ScoreBreakdown
	CandidateCount int

	// BestStoryID and BestScore track the strongest candidate even when it
	// was not eligible, for the decision audit trail.
	BestStoryID int64
	BestScore   float64
}

// Decide scores the article against every candidate and picks the best
// eligible action. Active stories take an attach when the score clears the
// pair's attach threshold; stale stories take a reopen when the reopen
// rules pass. No eligible candidate means a new story. Ties break by
// score, then most recently updated story, then lowest story ID.
func Decide(article ArticleSignals, candidates []StoryState, cfg ScoreConfig) Decision {
	decision := Decision{
		Action:         ActionCreate,
		CandidateCount: len(candidates),
	}

	var (
		chosen          *StoryState
		chosenBreakdown ScoreBreakdown
		chosenAction    Action
	)

	for i := range candidates {
		story := &candidates[i]
		if !story.IsMatchable() {
			continue
		}

		breakdown := Score(article, *story, cfg)

		if breakdown.Total > decision.BestScore ||
			(breakdown.Total == decision.BestScore && decision.BestStoryID == 0) {
			decision.BestScore = breakdown.Total
			decision.BestStoryID = story.StoryID
		}

		var action Action
		switch story.Status {
		case StatusStale:
			if !CanReopen(breakdown, cfg) {
				continue
			}
			action = ActionReopen
		default:
			if breakdown.Total < AttachThresholdFor(article, *story, cfg) {
				continue
			}
			action = ActionAttach
		}

		if chosen == nil || betterCandidate(breakdown, *story, chosenBreakdown, *chosen) {
			chosen = story
			chosenBreakdown = breakdown
			chosenAction = action
		}
	}

	if chosen == nil {
		return decision
	}

	decision.Action = chosenAction
	decision.StoryID = chosen.StoryID
	decision.Breakdown = chosenBreakdown
	return decision
}

func betterCandidate(b ScoreBreakdown, s StoryState, currentB ScoreBreakdown, current StoryState) bool {
	if b.Total != currentB.Total {
		return b.Total > currentB.Total
	}
	if !s.LastUpdatedAt.Equal(current.LastUpdatedAt) {
		return s.LastUpdatedAt.After(current.LastUpdatedAt)
	}
	return s.StoryID < current.StoryID
}
