package model

// WorkoutStatus is a participant's current activity within a set.
type WorkoutStatus string

const (
	WorkoutLifting WorkoutStatus = "lifting"
	WorkoutResting WorkoutStatus = "resting"
	WorkoutPaused  WorkoutStatus = "paused"
)

// SetRecord is one completed or in-flight set within an exercise summary.
type SetRecord struct {
	KG        float64 `json:"kg"`
	Reps      int     `json:"reps"`
	Completed bool    `json:"completed"`
}

// ExerciseSummary is the per-exercise rollup broadcast as part of
// LiveUserState, and aggregated into the session summary on finish.
type ExerciseSummary struct {
	Name          string      `json:"name"`
	CompletedSets int         `json:"completedSets"`
	TotalSets     int         `json:"totalSets"`
	Sets          []SetRecord `json:"sets"`
}

// LiveUserState is the ephemeral, broadcast per-participant snapshot. It
// is owned by the originating client and has no durable storage; it is
// created when the local user joins and destroyed on leave/end.
type LiveUserState struct {
	Username             string            `json:"username"`
	Status                WorkoutStatus     `json:"status"`
	CurrentExercise       string            `json:"currentExercise,omitempty"`
	CurrentSetIndex       int               `json:"currentSetIndex"`
	TotalSetsInExercise   int               `json:"totalSetsInExercise"`
	CurrentSetWeight      float64           `json:"currentSetWeight"`
	CurrentSetReps        int               `json:"currentSetReps"`
	LastSetWeight         float64           `json:"lastSetWeight"`
	LastSetReps           int               `json:"lastSetReps"`
	RestTimeRemaining     *int              `json:"restTimeRemaining,omitempty"`
	TotalVolume           float64           `json:"totalVolume"`
	SetsCompleted         int               `json:"setsCompleted"`
	ExerciseCount         int               `json:"exerciseCount"`
	WorkoutDuration       int               `json:"workoutDuration"`
	ExerciseSummary       []ExerciseSummary `json:"exerciseSummary"`
}
