package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/amirphl/AdGuard-AI/app/services"
	"github.com/amirphl/AdGuard-AI/config"
	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/repository"
	"github.com/amirphl/AdGuard-AI/utils"
	"gorm.io/datatypes"
)

// User-facing notification texts
const (
	uploadSuccessMessage   = "Ad uploaded successfully. Compliance check will begin shortly."
	callScheduledMessage   = "Your ad requires clarification. A compliance call has been scheduled."
	complianceErrorMessage = "Compliance check failed. Your ad will be reviewed manually."
	reportReadyMessage     = "Your compliance report is ready for Ad: %s"
)

// CompliancePipeline drives one advertisement from stored files to a final report
type CompliancePipeline interface {
	// Run executes the pipeline synchronously
	Run(ctx context.Context, job PipelineJob) error
	// Launch runs the pipeline detached from the request that submitted it
	Launch(job PipelineJob)
	// FinalizeStale closes a pipeline nobody is driving any more
	FinalizeStale(ctx context.Context, advertisementID uint) (bool, error)
	// Wait blocks until launched runs return
	Wait()
}

// PipelineConfig holds the timings and limits of a run
type PipelineConfig struct {
	ComplianceTimeout   time.Duration
	Poll                services.CallPollerConfig
	TranscriptSettle    time.Duration
	StatusRetryAttempts int
	StatusRetryBackoff  time.Duration
	MaxCallQuestions    int
	PhonePrefix         string
	LockTTL             time.Duration
	UploadParallel      int
}

// NewPipelineConfig collects the pipeline settings spread over the application config
func NewPipelineConfig(cfg *config.ProductionConfig) PipelineConfig {
	return PipelineConfig{
		ComplianceTimeout: cfg.Compliance.Timeout,
		Poll: services.CallPollerConfig{
			InitialDelay: cfg.Pipeline.PollInitialDelay,
			Interval:     cfg.Pipeline.PollInterval,
			RetryDelay:   cfg.Pipeline.PollRetryDelay,
			MaxAttempts:  cfg.Pipeline.PollMaxAttempts,
		},
		TranscriptSettle:    cfg.Pipeline.TranscriptSettle,
		StatusRetryAttempts: cfg.Pipeline.StatusRetryAttempts,
		StatusRetryBackoff:  cfg.Pipeline.StatusRetryBackoff,
		MaxCallQuestions:    cfg.Pipeline.MaxCallQuestions,
		PhonePrefix:         cfg.CallVendor.PhonePrefix,
		LockTTL:             cfg.Pipeline.LockTTL,
		UploadParallel:      cfg.Storage.UploadParallel,
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.ComplianceTimeout <= 0 {
		c.ComplianceTimeout = utils.ComplianceEngineTimeout
	}
	if c.StatusRetryAttempts <= 0 {
		c.StatusRetryAttempts = 3
	}
	if c.MaxCallQuestions <= 0 {
		c.MaxCallQuestions = utils.MaxCallQuestions
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Minute
	}
	if c.UploadParallel <= 0 {
		c.UploadParallel = 4
	}
	return c
}

// MediaKind tells images and videos apart
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// StagedFile is an upload spooled to local disk until the pipeline stores it
type StagedFile struct {
	Path        string
	Filename    string
	ContentType string
	Size        int64
	Kind        MediaKind
}

// PipelineJob is the input of one pipeline run
type PipelineJob struct {
	AdvertisementID uint
	UserID          uint
	Files           []StagedFile
}

type pipelineStage int

const (
	stageStoreMedia pipelineStage = iota
	stageCompliance
	stageDoubts
	stageCall
	stageTranscript
	stagePostCall
	stageReport
	stageDone
)

func (s pipelineStage) String() string {
	switch s {
	case stageStoreMedia:
		return "store_media"
	case stageCompliance:
		return "compliance"
	case stageDoubts:
		return "doubts"
	case stageCall:
		return "call"
	case stageTranscript:
		return "transcript"
	case stagePostCall:
		return "post_call"
	case stageReport:
		return "report"
	case stageDone:
		return "done"
	default:
		return "unknown"
	}
}

// runState is what one run learns as it moves through the stages
type runState struct {
	job              PipelineJob
	ad               *models.Advertisement
	media            *models.Media
	analysisResultID uint
	complianceRaw    datatypes.JSON
	initial          complianceOutcome
	final            complianceOutcome
	callLogID        uint
	externalCallID   string
	transcript       json.RawMessage
	postCall         *services.PostCallResult
	cause            error
}

type transitionFunc func(ctx context.Context, st *runState) (pipelineStage, error)

// CompliancePipelineImpl implements CompliancePipeline
type CompliancePipelineImpl struct {
	adRepo       repository.AdvertisementRepository
	analysisRepo repository.AnalysisResultRepository
	mediaRepo    repository.MediaRepository
	callLogRepo  repository.CallLogRepository
	store        services.ArtifactStore
	engine       services.ComplianceEngine
	vendor       services.CallVendor
	poller       *services.CallPoller
	evaluator    services.PostCallEvaluator
	notifier     services.NotificationService
	lock         services.PipelineLock
	cfg          PipelineConfig
	logger       *log.Logger

	rootCtx     context.Context
	wg          sync.WaitGroup
	transitions map[pipelineStage]transitionFunc
	nowFn       func() time.Time
}

// NewCompliancePipeline creates a new pipeline. rootCtx bounds launched runs
// and is cancelled on shutdown.
func NewCompliancePipeline(
	rootCtx context.Context,
	adRepo repository.AdvertisementRepository,
	analysisRepo repository.AnalysisResultRepository,
	mediaRepo repository.MediaRepository,
	callLogRepo repository.CallLogRepository,
	store services.ArtifactStore,
	engine services.ComplianceEngine,
	vendor services.CallVendor,
	evaluator services.PostCallEvaluator,
	notifier services.NotificationService,
	lock services.PipelineLock,
	cfg PipelineConfig,
	logger *log.Logger,
) CompliancePipeline {
	if logger == nil {
		logger = log.Default()
	}
	if lock == nil {
		lock = services.NewMemoryPipelineLock()
	}
	cfg = cfg.withDefaults()

	p := &CompliancePipelineImpl{
		adRepo:       adRepo,
		analysisRepo: analysisRepo,
		mediaRepo:    mediaRepo,
		callLogRepo:  callLogRepo,
		store:        store,
		engine:       engine,
		vendor:       vendor,
		poller:       services.NewCallPoller(vendor, cfg.Poll, logger),
		evaluator:    evaluator,
		notifier:     notifier,
		lock:         lock,
		cfg:          cfg,
		logger:       logger,
		rootCtx:      rootCtx,
		nowFn:        utils.UTCNow,
	}
	p.transitions = map[pipelineStage]transitionFunc{
		stageStoreMedia: p.storeMedia,
		stageCompliance: p.checkCompliance,
		stageDoubts:     p.raiseDoubts,
		stageCall:       p.runCall,
		stageTranscript: p.fetchTranscript,
		stagePostCall:   p.evaluatePostCall,
		stageReport:     p.generateReport,
	}
	return p
}

// Launch implements CompliancePipeline
func (p *CompliancePipelineImpl) Launch(job PipelineJob) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Run(p.rootCtx, job); err != nil {
			p.logger.Printf("pipeline: run ended with error advertisement_id=%d: %v", job.AdvertisementID, err)
		}
	}()
}

// Wait implements CompliancePipeline
func (p *CompliancePipelineImpl) Wait() {
	p.wg.Wait()
}

// Run drives the stages in order. Once media is stored every exit except
// cancellation goes through the report stage, so the advertisement always
// ends finished with a final verdict.
func (p *CompliancePipelineImpl) Run(ctx context.Context, job PipelineJob) error {
	defer removeStagedFiles(job.Files, p.logger)

	adID := job.AdvertisementID
	key := services.RunLockKey(adID)
	ok, err := p.lock.Acquire(ctx, key, p.cfg.LockTTL)
	if err != nil {
		// the finalize guard in the database still holds without the lock
		p.logger.Printf("pipeline: run lock unavailable advertisement_id=%d: %v", adID, err)
	} else if !ok {
		return ErrPipelineBusy
	} else {
		defer func() {
			if err := p.lock.Release(context.WithoutCancel(ctx), key); err != nil {
				p.logger.Printf("pipeline: failed to release run lock advertisement_id=%d: %v", adID, err)
			}
		}()
	}

	pipelineRunsStarted.Inc()
	p.logger.Printf("pipeline: started advertisement_id=%d files=%d", adID, len(job.Files))

	st := &runState{job: job}
	stage := stageStoreMedia
	reportRetried := false

	for stage != stageDone {
		start := time.Now()
		next, stepErr := p.step(ctx, stage, st)
		observeStage(stage, start)

		if stepErr == nil {
			stage = next
			continue
		}
		if errors.Is(stepErr, ErrPipelineAborted) {
			return stepErr
		}
		if ctx.Err() != nil {
			p.logger.Printf("pipeline: interrupted advertisement_id=%d stage=%s: %v", adID, stage, stepErr)
			return ctx.Err()
		}
		if stage == stageReport {
			if reportRetried || st.final.Verdict == models.VerdictError {
				p.logger.Printf("pipeline: report stage failed advertisement_id=%d: %v", adID, stepErr)
				return stepErr
			}
			reportRetried = true
		}

		p.logger.Printf("pipeline: stage %s failed advertisement_id=%d: %v", stage, adID, stepErr)
		p.resolveFailure(ctx, st, stepErr)
		stage = stageReport
	}

	p.logger.Printf("pipeline: finished advertisement_id=%d verdict=%s", adID, st.final.Verdict)
	return nil
}

// step runs one transition and turns a panic into an error
func (p *CompliancePipelineImpl) step(ctx context.Context, stage pipelineStage, st *runState) (next pipelineStage, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("pipeline: panic in stage %s advertisement_id=%d: %v\n%s", stage, st.job.AdvertisementID, r, debug.Stack())
			next, err = stageDone, fmt.Errorf("panic in stage %s: %v", stage, r)
		}
	}()

	fn, ok := p.transitions[stage]
	if !ok {
		return stageDone, fmt.Errorf("no transition for stage %s", stage)
	}
	return fn(ctx, st)
}

// resolveFailure picks the fallback verdict for a failed stage
func (p *CompliancePipelineImpl) resolveFailure(ctx context.Context, st *runState, cause error) {
	st.cause = cause
	if isCallSetupFailure(cause) {
		st.final = complianceOutcome{Verdict: models.VerdictManualReview, Reason: reasonCallSetupFailed}
		pipelineFallbacks.WithLabelValues("call_setup").Inc()
	} else {
		st.final = complianceOutcome{Verdict: models.VerdictError, Reason: reasonUnexpected}
		pipelineFallbacks.WithLabelValues("unexpected").Inc()
		p.markFailed(ctx, st.job.AdvertisementID)
	}
	if st.initial.Verdict == "" {
		st.initial = st.final
	}
	p.notify(ctx, st.job.UserID, models.NotificationTypeComplianceError, complianceErrorMessage)
}

// markFailed records pipeline_failed at the current status
func (p *CompliancePipelineImpl) markFailed(ctx context.Context, advertisementID uint) {
	row, err := p.analysisRepo.ByAdvertisementID(ctx, advertisementID)
	if err != nil || row == nil || row.Status.IsTerminal() {
		return
	}
	if _, err := p.analysisRepo.UpdateStatus(ctx, advertisementID, row.Status, models.MarkerPipelineFailed); err != nil {
		p.logger.Printf("pipeline: failed to record failure marker advertisement_id=%d: %v", advertisementID, err)
	}
}

// updateStatus retries transient failures with a linear backoff. Transition
// violations and missing rows are returned at once.
func (p *CompliancePipelineImpl) updateStatus(ctx context.Context, advertisementID uint, status models.PipelineStatus, markers ...string) (*models.AnalysisResult, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.StatusRetryAttempts; attempt++ {
		row, err := p.analysisRepo.UpdateStatus(ctx, advertisementID, status, markers...)
		if err == nil {
			return row, nil
		}
		if errors.Is(err, repository.ErrInvalidStatusTransition) || errors.Is(err, repository.ErrAnalysisResultNotFound) {
			return nil, err
		}
		lastErr = err
		if attempt < p.cfg.StatusRetryAttempts {
			p.logger.Printf("pipeline: status update to %s failed advertisement_id=%d attempt=%d: %v", status, advertisementID, attempt, err)
			if err := sleepContext(ctx, time.Duration(attempt)*p.cfg.StatusRetryBackoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("status update to %s failed after %d attempts: %w", status, p.cfg.StatusRetryAttempts, lastErr)
}

// notify never fails the pipeline
func (p *CompliancePipelineImpl) notify(ctx context.Context, userID uint, notificationType models.NotificationType, message string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(context.WithoutCancel(ctx), userID, notificationType, message); err != nil {
		p.logger.Printf("pipeline: notification %s for user %d not sent: %v", notificationType, userID, err)
	}
}

func (p *CompliancePipelineImpl) checkCompliance(ctx context.Context, st *runState) (pipelineStage, error) {
	outcome, err := p.runComplianceCheck(ctx, st)
	if err != nil {
		return stageDone, err
	}
	st.initial = outcome
	st.final = outcome
	if outcome.needsCall() {
		return stageDoubts, nil
	}
	return stageReport, nil
}

func (p *CompliancePipelineImpl) raiseDoubts(ctx context.Context, st *runState) (pipelineStage, error) {
	if _, err := p.updateStatus(ctx, st.job.AdvertisementID, models.PipelineStatusDoubts, models.MarkerDoubtsRaised); err != nil {
		return stageDone, err
	}
	return stageCall, nil
}

func removeStagedFiles(files []StagedFile, logger *log.Logger) {
	for _, f := range files {
		if f.Path == "" {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Printf("pipeline: failed to remove staged file %s: %v", f.Path, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
