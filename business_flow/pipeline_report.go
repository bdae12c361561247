package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/AdGuard-AI/app/services"
	"github.com/amirphl/AdGuard-AI/models"
	"gorm.io/datatypes"
)

const finalizeLockTTL = time.Minute

// generateReport assembles the report from what the run collected and finalizes the pipeline
func (p *CompliancePipelineImpl) generateReport(ctx context.Context, st *runState) (pipelineStage, error) {
	verdict, reason := st.final.Verdict, st.final.Reason
	if !verdict.IsFinal() {
		verdict, reason = models.VerdictManualReview, defaultReasons[models.VerdictManualReview]
	}
	initial := st.initial.Verdict
	if initial == "" {
		initial = verdict
	}

	var title string
	if st.ad != nil {
		title = st.ad.Title
	}

	report := models.ComplianceReport{
		AdvertisementID:        st.job.AdvertisementID,
		Title:                  title,
		InitialVerdict:         string(initial),
		FinalVerdict:           string(verdict),
		Reason:                 reason,
		ComplianceCheckDetails: complianceDetails(st.complianceRaw, st.initial, st.cause),
		PostCallDetails:        postCallDetails(st.postCall),
		GeneratedAt:            p.nowFn(),
	}

	if _, err := p.finalize(ctx, st.job.UserID, report, verdict); err != nil {
		return stageDone, err
	}
	st.final = complianceOutcome{Verdict: verdict, Reason: reason}
	return stageDone, nil
}

func postCallDetails(res *services.PostCallResult) json.RawMessage {
	if res == nil {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(res)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// finalize writes the report once. The report_ready notification goes out
// only when this call is the one that finished the pipeline.
func (p *CompliancePipelineImpl) finalize(ctx context.Context, userID uint, report models.ComplianceReport, verdict models.Verdict) (bool, error) {
	adID := report.AdvertisementID

	key := services.FinalizeLockKey(adID)
	locked, err := p.lock.Acquire(ctx, key, finalizeLockTTL)
	switch {
	case err != nil:
		p.logger.Printf("pipeline: finalize lock unavailable advertisement_id=%d: %v", adID, err)
	case !locked:
		p.logger.Printf("pipeline: finalize already in progress advertisement_id=%d", adID)
		return false, nil
	default:
		defer func() {
			if err := p.lock.Release(context.WithoutCancel(ctx), key); err != nil {
				p.logger.Printf("pipeline: failed to release finalize lock advertisement_id=%d: %v", adID, err)
			}
		}()
	}

	doc, err := json.Marshal(report)
	if err != nil {
		return false, fmt.Errorf("failed to encode report: %w", err)
	}

	applied, err := p.analysisRepo.Finalize(ctx, adID, verdict, report.Reason, datatypes.JSON(doc), report.GeneratedAt)
	if err != nil {
		return false, err
	}
	if !applied {
		p.logger.Printf("pipeline: report already finalized advertisement_id=%d", adID)
		return false, nil
	}

	pipelineRunsFinished.WithLabelValues(verdict.String()).Inc()
	p.notify(ctx, userID, models.NotificationTypeReportReady, fmt.Sprintf(reportReadyMessage, report.Title))
	return true, nil
}

// FinalizeStale finishes a pipeline left behind by a crashed or shut down
// run. It does nothing while a run still holds the advertisement.
func (p *CompliancePipelineImpl) FinalizeStale(ctx context.Context, advertisementID uint) (bool, error) {
	key := services.RunLockKey(advertisementID)
	locked, err := p.lock.Acquire(ctx, key, p.cfg.LockTTL)
	if err != nil {
		return false, err
	}
	if !locked {
		return false, nil
	}
	defer func() {
		if err := p.lock.Release(context.WithoutCancel(ctx), key); err != nil {
			p.logger.Printf("pipeline: failed to release run lock advertisement_id=%d: %v", advertisementID, err)
		}
	}()

	row, err := p.analysisRepo.ByAdvertisementID(ctx, advertisementID)
	if err != nil {
		return false, err
	}
	if row == nil || row.FinalizedAt != nil {
		return false, nil
	}

	if call, err := p.callLogRepo.ActiveByAdvertisement(ctx, advertisementID); err != nil {
		return false, err
	} else if call != nil {
		if err := p.callLogRepo.MarkCompleted(ctx, call.ID, models.MarkerCallTimeout); err != nil {
			return false, err
		}
	}

	if _, err := p.analysisRepo.UpdateStatus(ctx, advertisementID, row.Status, models.MarkerPipelineFailed); err != nil {
		p.logger.Printf("pipeline: failed to record failure marker advertisement_id=%d: %v", advertisementID, err)
	}

	var title string
	if ad, err := p.adRepo.ByID(ctx, advertisementID); err == nil && ad != nil {
		title = ad.Title
	}

	initial := row.VerdictValue()
	if initial == "" {
		initial = models.VerdictError
	}
	cause := fmt.Errorf("pipeline stalled at %s", row.Status)
	fallback := complianceOutcome{Verdict: models.VerdictError, Reason: reasonUnexpected}
	report := models.ComplianceReport{
		AdvertisementID:        advertisementID,
		Title:                  title,
		InitialVerdict:         string(initial),
		FinalVerdict:           string(models.VerdictError),
		Reason:                 reasonUnexpected,
		ComplianceCheckDetails: complianceDetails(row.ComplianceResult, fallback, cause),
		PostCallDetails:        json.RawMessage("null"),
		GeneratedAt:            p.nowFn(),
	}

	applied, err := p.finalize(ctx, row.UserID, report, models.VerdictError)
	if err != nil {
		return false, err
	}
	if applied {
		pipelineFallbacks.WithLabelValues("stale").Inc()
		p.notify(ctx, row.UserID, models.NotificationTypeComplianceError, complianceErrorMessage)
		p.logger.Printf("pipeline: finalized stale pipeline advertisement_id=%d status=%s", advertisementID, row.Status)
	}
	return applied, nil
}
