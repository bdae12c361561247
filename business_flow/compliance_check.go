package businessflow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/amirphl/AdGuard-AI/app/services"
	"github.com/amirphl/AdGuard-AI/models"
	"gorm.io/datatypes"
)

const (
	reasonInvalidFormat   = "invalid response format"
	reasonEngineError     = "Compliance service error"
	reasonCallSetupFailed = "Call setup failed - manual review required"
	reasonUnexpected      = "manual review required"
	reasonPostCallFailed  = "Post-call analysis failed - manual review required"
)

// complianceOutcome is the engine verdict after normalisation
type complianceOutcome struct {
	Verdict   models.Verdict
	Reason    string
	MakeCall  bool
	Questions []string
	Invalid   bool
}

// needsCall reports whether the call branch should run
func (o complianceOutcome) needsCall() bool {
	return o.Verdict == models.VerdictClarificationNeeded && o.MakeCall
}

var defaultReasons = map[models.Verdict]string{
	models.VerdictPass:                "Compliance check passed",
	models.VerdictFail:                "Compliance violations detected",
	models.VerdictManualReview:        "Manual review required",
	models.VerdictClarificationNeeded: "Clarification required",
}

// normalizeComplianceResult accepts the nested and the legacy flat engine
// shapes. Anything else becomes manual_review.
func normalizeComplianceResult(raw json.RawMessage) complianceOutcome {
	invalid := complianceOutcome{Verdict: models.VerdictManualReview, Reason: reasonInvalidFormat, Invalid: true}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return invalid
	}

	result := body
	if nested, ok := body["compliance_results"].(map[string]any); ok {
		result = nested
	}

	verdictRaw, _ := result["verdict"].(string)
	verdict, ok := parseVerdict(verdictRaw)
	if !ok {
		return invalid
	}

	out := complianceOutcome{Verdict: verdict}
	if reason, ok := result["reason"].(string); ok {
		out.Reason = strings.TrimSpace(reason)
	}
	out.MakeCall = truthy(result["make_call"])
	out.Questions = extractQuestions(result["queries_for_call"])

	if out.Verdict == models.VerdictClarificationNeeded && !out.MakeCall {
		out.Verdict = models.VerdictManualReview
	}
	if out.Reason == "" {
		out.Reason = defaultReasons[out.Verdict]
	}
	return out
}

func parseVerdict(raw string) (models.Verdict, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pass":
		return models.VerdictPass, true
	case "fail":
		return models.VerdictFail, true
	case "manual_review":
		return models.VerdictManualReview, true
	case "clarification_needed", "doubts":
		return models.VerdictClarificationNeeded, true
	default:
		return "", false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	case float64:
		return t != 0
	default:
		return false
	}
}

// extractQuestions reads [{question}] or a plain list of strings
func extractQuestions(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		var q string
		switch t := item.(type) {
		case string:
			q = t
		case map[string]any:
			q, _ = t["question"].(string)
		}
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// engineErrorResult is stored in place of an engine response that never arrived
func engineErrorResult(err error) datatypes.JSON {
	b, _ := json.Marshal(map[string]any{
		"error":   true,
		"verdict": models.VerdictManualReview,
		"reason":  reasonEngineError,
		"message": err.Error(),
	})
	return datatypes.JSON(b)
}

// complianceRequest builds the engine payload from the advertisement, its owner and stored media
func complianceRequest(ad *models.Advertisement, media *models.Media) services.ComplianceCheckRequest {
	req := services.ComplianceCheckRequest{AdDetails: ad}
	if ad.User != nil {
		req.UserData = services.ComplianceUserData{
			Name:   ad.User.Name,
			Email:  ad.User.Email,
			Sector: ad.User.Sector,
			Mobile: ad.User.PhoneNumber(),
		}
	}
	if media != nil {
		req.ImageLinks = media.ImageURLs
		req.VideoLinks = media.VideoURLs
	}
	return req
}

// runComplianceCheck calls the engine and persists its raw answer before branching
func (p *CompliancePipelineImpl) runComplianceCheck(ctx context.Context, st *runState) (complianceOutcome, error) {
	adID := st.job.AdvertisementID

	if _, err := p.updateStatus(ctx, adID, models.PipelineStatusComplianceDone, models.MarkerComplianceStarted); err != nil {
		return complianceOutcome{}, err
	}

	engineCtx, cancel := context.WithTimeout(ctx, p.cfg.ComplianceTimeout)
	raw, engineErr := p.engine.Check(engineCtx, complianceRequest(st.ad, st.media))
	cancel()

	if engineErr != nil {
		if ctx.Err() != nil {
			return complianceOutcome{}, ctx.Err()
		}
		p.logger.Printf("pipeline: compliance engine failed advertisement_id=%d: %v", adID, engineErr)
		st.complianceRaw = engineErrorResult(engineErr)
		if err := p.analysisRepo.SetComplianceResult(ctx, adID, st.complianceRaw); err != nil {
			return complianceOutcome{}, err
		}
		if _, err := p.updateStatus(ctx, adID, models.PipelineStatusComplianceDone, models.MarkerComplianceFailed); err != nil {
			return complianceOutcome{}, err
		}
		pipelineFallbacks.WithLabelValues("engine_error").Inc()
		p.notify(ctx, st.job.UserID, models.NotificationTypeComplianceError, complianceErrorMessage)
		return complianceOutcome{Verdict: models.VerdictManualReview, Reason: reasonEngineError}, nil
	}

	st.complianceRaw = datatypes.JSON(raw)
	if err := p.analysisRepo.SetComplianceResult(ctx, adID, st.complianceRaw); err != nil {
		return complianceOutcome{}, err
	}

	outcome := normalizeComplianceResult(raw)
	if outcome.Invalid {
		pipelineFallbacks.WithLabelValues("invalid_response").Inc()
		p.notify(ctx, st.job.UserID, models.NotificationTypeComplianceError, complianceErrorMessage)
	}

	if limit := p.cfg.MaxCallQuestions; limit > 0 && len(outcome.Questions) > limit {
		outcome.Questions = outcome.Questions[:limit]
	}

	if err := p.analysisRepo.SetVerdict(ctx, adID, outcome.Verdict, outcome.Reason, outcome.needsCall()); err != nil {
		return complianceOutcome{}, err
	}
	if _, err := p.updateStatus(ctx, adID, models.PipelineStatusComplianceDone, models.MarkerComplianceCompleted); err != nil {
		return complianceOutcome{}, err
	}

	p.logger.Printf("pipeline: compliance verdict advertisement_id=%d verdict=%s make_call=%t questions=%d",
		adID, outcome.Verdict, outcome.MakeCall, len(outcome.Questions))
	return outcome, nil
}

// complianceDetails is the report's view of the engine answer
func complianceDetails(raw datatypes.JSON, fallback complianceOutcome, cause error) json.RawMessage {
	if len(raw) > 0 {
		return json.RawMessage(raw)
	}
	doc := map[string]any{
		"verdict": fallback.Verdict,
		"reason":  fallback.Reason,
	}
	if cause != nil {
		doc["error_details"] = cause.Error()
	}
	b, _ := json.Marshal(doc)
	return b
}
