package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/AdGuard-AI/app/services"
	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/repository"
	"gorm.io/datatypes"
)

// callSetupError marks failures that happen before a call is underway
type callSetupError struct {
	err error
}

func (e *callSetupError) Error() string { return "call setup failed: " + e.err.Error() }
func (e *callSetupError) Unwrap() error { return e.err }

func isCallSetupFailure(err error) bool {
	var cse *callSetupError
	return errors.As(err, &cse)
}

// buildCallTask renders the script handed to the voice agent
func buildCallTask(userName, title string, questions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a compliance assistant helping verify advertisement content. The advertiser %s has submitted an ad titled \"%s\" for review. Your task is to:\n", userName, title)
	b.WriteString("1. Ask clarifying questions about the advertisement content and claims\n")
	b.WriteString("2. Verify any unclear statements or promotional offers\n")
	b.WriteString("3. Understand the target audience and messaging intent\n")
	b.WriteString("4. Assess compliance with advertising standards\n")
	b.WriteString("5. Keep the conversation professional and focused\n")
	b.WriteString("6. If user asks to explain in native language, accommodate that request.\n")
	if len(questions) > 0 {
		b.WriteString("\nMake sure to cover these questions:\n")
		for i, q := range questions {
			fmt.Fprintf(&b, "- Q%d: %s\n", i+1, q)
		}
		b.WriteString("\n")
	}
	b.WriteString("Please conduct a brief compliance verification call.")
	return b.String()
}

// formatPhoneNumber prepends the dialing prefix unless the number already carries one
func formatPhoneNumber(prefix, mobile string) string {
	mobile = strings.TrimSpace(mobile)
	if strings.HasPrefix(mobile, "+") {
		return mobile
	}
	return prefix + mobile
}

// runCall schedules the clarification call and waits for it to end
func (p *CompliancePipelineImpl) runCall(ctx context.Context, st *runState) (pipelineStage, error) {
	adID := st.job.AdvertisementID

	var userName, phone string
	if st.ad.User != nil {
		userName = st.ad.User.Name
		phone = st.ad.User.PhoneNumber()
	}
	if phone == "" {
		return stageDone, &callSetupError{err: ErrPhoneNumberMissing}
	}

	active, err := p.callLogRepo.ActiveByAdvertisement(ctx, adID)
	if err != nil {
		return stageDone, err
	}
	if active != nil {
		return stageDone, &callSetupError{err: repository.ErrActiveCallExists}
	}

	call := &models.CallLog{
		UserID:           st.job.UserID,
		AdvertisementID:  adID,
		AnalysisResultID: st.analysisResultID,
		Status:           models.CallLogStatusScheduled,
		ExecutionTime:    models.MergeMarkers(nil, p.nowFn(), models.MarkerCallScheduled),
	}
	if err := p.callLogRepo.Save(ctx, call); err != nil {
		return stageDone, &callSetupError{err: err}
	}
	st.callLogID = call.ID

	if _, err := p.updateStatus(ctx, adID, models.PipelineStatusCalling, models.MarkerCallScheduled); err != nil {
		p.closeCall(ctx, call.ID, models.MarkerCallFailed)
		return stageDone, err
	}
	p.notify(ctx, st.job.UserID, models.NotificationTypeCallScheduled, callScheduledMessage)

	task := buildCallTask(userName, st.ad.Title, st.initial.Questions)
	callID, err := p.vendor.PlaceCall(ctx, formatPhoneNumber(p.cfg.PhonePrefix, phone), task)
	if err != nil {
		p.closeCall(ctx, call.ID, models.MarkerCallFailed)
		if ctx.Err() != nil {
			return stageDone, ctx.Err()
		}
		return stageDone, &callSetupError{err: err}
	}
	st.externalCallID = callID

	if err := p.callLogRepo.MarkStarted(ctx, call.ID, callID); err != nil {
		p.closeCall(ctx, call.ID, models.MarkerCallFailed)
		return stageDone, err
	}
	p.logger.Printf("pipeline: call started advertisement_id=%d call_id=%s", adID, callID)

	result, awaitErr := p.poller.Await(ctx, callID)
	pipelinePollAttempts.WithLabelValues(string(result.Outcome)).Observe(float64(result.Attempts))

	marker := models.MarkerCallCompleted
	if result.Outcome == services.PollTimeout || result.Outcome == services.PollCancelled {
		marker = models.MarkerCallTimeout
	}

	// the call slot is released even when the run is being cancelled
	closeCtx := ctx
	if awaitErr != nil {
		closeCtx = context.WithoutCancel(ctx)
	}
	if err := p.callLogRepo.MarkCompleted(closeCtx, call.ID, marker); err != nil {
		return stageDone, err
	}
	if awaitErr != nil {
		return stageDone, awaitErr
	}

	p.logger.Printf("pipeline: call ended advertisement_id=%d call_id=%s outcome=%s attempts=%d",
		adID, callID, result.Outcome, result.Attempts)

	if _, err := p.updateStatus(ctx, adID, models.PipelineStatusPostCallCompliance, marker); err != nil {
		return stageDone, err
	}
	return stageTranscript, nil
}

// closeCall frees the advertisement's call slot after a failed setup
func (p *CompliancePipelineImpl) closeCall(ctx context.Context, callLogID uint, marker string) {
	if err := p.callLogRepo.MarkCompleted(context.WithoutCancel(ctx), callLogID, marker); err != nil {
		p.logger.Printf("pipeline: failed to close call log %d: %v", callLogID, err)
	}
}

// fetchTranscript waits for the vendor to settle and stores what it returns.
// A failed fetch stores no transcript and the pipeline goes on.
func (p *CompliancePipelineImpl) fetchTranscript(ctx context.Context, st *runState) (pipelineStage, error) {
	if err := sleepContext(ctx, p.cfg.TranscriptSettle); err != nil {
		return stageDone, err
	}

	var transcript datatypes.JSON
	details, err := p.vendor.CallDetails(ctx, st.externalCallID)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return stageDone, ctx.Err()
		}
		p.logger.Printf("pipeline: transcript fetch failed advertisement_id=%d call_id=%s: %v",
			st.job.AdvertisementID, st.externalCallID, err)
	case details != nil && len(details.Raw) > 0:
		transcript = datatypes.JSON(details.Raw)
		st.transcript = json.RawMessage(details.Raw)
	}

	if err := p.callLogRepo.SetTranscript(ctx, st.callLogID, transcript); err != nil {
		return stageDone, err
	}
	if _, err := p.updateStatus(ctx, st.job.AdvertisementID, models.PipelineStatusPostCallCompliance, models.MarkerTranscriptFetched); err != nil {
		return stageDone, err
	}
	return stagePostCall, nil
}

// evaluatePostCall turns the transcript into the final verdict
func (p *CompliancePipelineImpl) evaluatePostCall(ctx context.Context, st *runState) (pipelineStage, error) {
	adID := st.job.AdvertisementID

	result, err := p.evaluator.Evaluate(ctx, adID, st.transcript)
	if err != nil {
		if ctx.Err() != nil {
			return stageDone, ctx.Err()
		}
		p.logger.Printf("pipeline: post-call evaluation failed advertisement_id=%d: %v", adID, err)
		pipelineFallbacks.WithLabelValues("post_call").Inc()
		st.cause = err
		result = &services.PostCallResult{Verdict: models.VerdictManualReview, Reason: reasonPostCallFailed}
	}
	if !result.Verdict.IsFinal() {
		result.Verdict = models.VerdictManualReview
	}
	if strings.TrimSpace(result.Reason) == "" {
		result.Reason = defaultReasons[result.Verdict]
	}
	st.postCall = result
	st.final = complianceOutcome{Verdict: result.Verdict, Reason: result.Reason}

	if err := p.analysisRepo.SetVerdict(ctx, adID, result.Verdict, result.Reason, true); err != nil {
		return stageDone, err
	}
	if _, err := p.updateStatus(ctx, adID, models.PipelineStatusGeneratingReport, models.MarkerPostCallCompleted); err != nil {
		return stageDone, err
	}
	return stageReport, nil
}
