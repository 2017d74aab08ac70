package finish

import "livesession/src/model"

// Summary aggregates each participant's last-known exercise summary
// into a session-wide rollup, built from whatever live state peers
// last broadcast (nothing here is persisted independently).
type Summary struct {
	TotalVolume   float64                      `json:"totalVolume"`
	SetsCompleted int                          `json:"setsCompleted"`
	ByParticipant map[string]model.LiveUserState `json:"byParticipant"`
}

// BuildSummary rolls up the current live states of every participant.
func BuildSummary(states map[string]model.LiveUserState) Summary {
	out := Summary{ByParticipant: make(map[string]model.LiveUserState, len(states))}
	for userID, state := range states {
		out.TotalVolume += state.TotalVolume
		out.SetsCompleted += state.SetsCompleted
		out.ByParticipant[userID] = state
	}
	return out
}
