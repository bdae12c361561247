package models

// Stage states reported to clients
const (
	StageStatusPending    = "pending"
	StageStatusInProgress = "in_progress"
	StageStatusCompleted  = "completed"
)

// Pipeline steps reported to clients, in display order
const (
	StepUpload          = "upload"
	StepMediaProcessing = "media_processing"
	StepComplianceCheck = "compliance_check"
	StepCall            = "call"
	StepReport          = "report"
)

// StageProgress is one row of the status projection
type StageProgress struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// Stages projects a pipeline status onto the client-facing step list.
// Status 1 means both "compliance running" and "compliance done", so the
// compliance step is only reported completed once the pipeline moves past it.
func (s PipelineStatus) Stages() []StageProgress {
	return []StageProgress{
		{Step: StepUpload, Status: stageState(s >= PipelineStatusComplianceDone, false)},
		{Step: StepMediaProcessing, Status: stageState(s >= PipelineStatusComplianceDone, false)},
		{Step: StepComplianceCheck, Status: stageState(s >= PipelineStatusDoubts, s == PipelineStatusComplianceDone)},
		{Step: StepCall, Status: stageState(s >= PipelineStatusPostCallCompliance, s == PipelineStatusCalling)},
		{Step: StepReport, Status: stageState(s == PipelineStatusFinished, s == PipelineStatusGeneratingReport)},
	}
}

func stageState(completed, inProgress bool) string {
	switch {
	case completed:
		return StageStatusCompleted
	case inProgress:
		return StageStatusInProgress
	default:
		return StageStatusPending
	}
}
