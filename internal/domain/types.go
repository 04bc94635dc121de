package domain

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	StatusCreated            RunStatus = "created"
	StatusRunning            RunStatus = "running"
	StatusSetupFailed        RunStatus = "setup_failed"
	StatusSingleQAFailed     RunStatus = "single_qa_failed"
	StatusCompleted          RunStatus = "completed"
	StatusFailed             RunStatus = "failed"
	StatusFinalizationFailed RunStatus = "finalization_failed"
)

// IsTerminal returns true if the status marks the end of a run attempt
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusSetupFailed, StatusSingleQAFailed, StatusFailed, StatusFinalizationFailed:
		return true
	}
	return false
}

// Mode selects the orchestration entry point. The caller states its intent
// explicitly instead of the engine inferring it from directory contents.
type Mode string

const (
	ModeNew          Mode = "new"
	ModeResumeReduce Mode = "resume-reduce-only"
)
