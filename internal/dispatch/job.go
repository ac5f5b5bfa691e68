package dispatch

// JobState is the lifecycle stage of one recognition job.
// Transitions are monotonic: Pending -> Running -> Done|Failed.
type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateRunning JobState = "running"
	JobStateDone    JobState = "done"
	JobStateFailed  JobState = "failed"
)

// Job tracks one file's recognition request. Fields other than state
// are immutable after submission; state is guarded by the dispatcher's
// lock.
type Job struct {
	ID      string
	Path    string
	Backend string
	Format  string

	state     JobState
	abandoned bool
}
