package businessflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/AdGuard-AI/app/services"
	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/repository"
	"gorm.io/datatypes"
)

var errTransient = errors.New("connection reset by peer")

// memDB backs every fake repository in this package's tests
type memDB struct {
	mu            sync.Mutex
	nextID        uint
	users         map[uint]*models.User
	ads           map[uint]*models.Advertisement
	results       map[uint]*models.AnalysisResult // by advertisement id
	media         map[uint]*models.Media
	calls         []*models.CallLog
	notifications []*models.Notification

	// failures to inject
	statusFailures   int
	finalizeErr      error
	deletedAds       []uint
	statusHistory    []models.PipelineStatus
	finalizeAttempts int
}

func newMemDB() *memDB {
	return &memDB{
		nextID:  100,
		users:   map[uint]*models.User{},
		ads:     map[uint]*models.Advertisement{},
		results: map[uint]*models.AnalysisResult{},
		media:   map[uint]*models.Media{},
	}
}

func (db *memDB) id() uint {
	db.nextID++
	return db.nextID
}

func (db *memDB) addUser(name, mobile string) *models.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	u := &models.User{ID: db.id(), Name: name, Email: strings.ToLower(name) + "@example.com", Sector: "retail", Role: models.UserRoleUser}
	if mobile != "" {
		u.Mobile = &mobile
	}
	db.users[u.ID] = u
	return u
}

func (db *memDB) addAd(userID uint, title string) *models.Advertisement {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := time.Now().UTC()
	ad := &models.Advertisement{ID: db.id(), UserID: userID, Title: title, Description: "desc", CreatedAt: now, UpdatedAt: now}
	db.ads[ad.ID] = ad
	db.results[ad.ID] = &models.AnalysisResult{
		ID: db.id(), AdvertisementID: ad.ID, UserID: userID,
		Status:        models.PipelineStatusUploading,
		ExecutionTime: models.MergeMarkers(nil, now, models.MarkerUploadStarted),
		CreatedAt:     now, UpdatedAt: now,
	}
	return ad
}

func (db *memDB) result(adID uint) *models.AnalysisResult {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.results[adID]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (db *memDB) callsFor(adID uint) []models.CallLog {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.CallLog
	for _, c := range db.calls {
		if c.AdvertisementID == adID {
			out = append(out, *c)
		}
	}
	return out
}

type fakeUserRepo struct {
	repository.UserRepository
	db *memDB
}

func (r *fakeUserRepo) ByID(ctx context.Context, id uint) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

type fakeAdRepo struct {
	repository.AdvertisementRepository
	db        *memDB
	createErr error
}

func (r *fakeAdRepo) CreateWithAnalysis(ctx context.Context, ad *models.Advertisement, result *models.AnalysisResult) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now().UTC()
	ad.ID = r.db.id()
	ad.CreatedAt, ad.UpdatedAt = now, now
	cp := *ad
	r.db.ads[ad.ID] = &cp

	result.ID = r.db.id()
	result.AdvertisementID = ad.ID
	result.CreatedAt, result.UpdatedAt = now, now
	rc := *result
	r.db.results[ad.ID] = &rc
	return nil
}

func (r *fakeAdRepo) ByID(ctx context.Context, id uint) (*models.Advertisement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ad, ok := r.db.ads[id]
	if !ok {
		return nil, nil
	}
	cp := *ad
	return &cp, nil
}

func (r *fakeAdRepo) ByIDWithUser(ctx context.Context, id uint) (*models.Advertisement, error) {
	ad, _ := r.ByID(ctx, id)
	if ad == nil {
		return nil, nil
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if u, ok := r.db.users[ad.UserID]; ok {
		cp := *u
		ad.User = &cp
	}
	return ad, nil
}

func (r *fakeAdRepo) Delete(ctx context.Context, id uint) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.ads, id)
	delete(r.db.results, id)
	delete(r.db.media, id)
	r.db.deletedAds = append(r.db.deletedAds, id)
	return nil
}

type fakeAnalysisRepo struct {
	repository.AnalysisResultRepository
	db *memDB
}

func (r *fakeAnalysisRepo) ByID(ctx context.Context, id uint) (*models.AnalysisResult, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, res := range r.db.results {
		if res.ID == id {
			cp := *res
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeAnalysisRepo) ByAdvertisementID(ctx context.Context, advertisementID uint) (*models.AnalysisResult, error) {
	return r.db.result(advertisementID), nil
}

func (r *fakeAnalysisRepo) EnsureForAdvertisement(ctx context.Context, advertisementID, userID uint) (*models.AnalysisResult, error) {
	r.db.mu.Lock()
	if _, ok := r.db.results[advertisementID]; !ok {
		now := time.Now().UTC()
		r.db.results[advertisementID] = &models.AnalysisResult{
			ID: r.db.id(), AdvertisementID: advertisementID, UserID: userID,
			Status: models.PipelineStatusUploading, ExecutionTime: datatypes.JSONMap{},
			CreatedAt: now, UpdatedAt: now,
		}
	}
	r.db.mu.Unlock()
	return r.db.result(advertisementID), nil
}

func (r *fakeAnalysisRepo) UpdateStatus(ctx context.Context, advertisementID uint, status models.PipelineStatus, markers ...string) (*models.AnalysisResult, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.statusFailures > 0 {
		r.db.statusFailures--
		return nil, errTransient
	}
	res, ok := r.db.results[advertisementID]
	if !ok {
		return nil, repository.ErrAnalysisResultNotFound
	}
	if !res.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", repository.ErrInvalidStatusTransition, res.Status, status)
	}
	res.Status = status
	res.ExecutionTime = models.MergeMarkers(res.ExecutionTime, time.Now(), markers...)
	res.UpdatedAt = time.Now().UTC()
	r.db.statusHistory = append(r.db.statusHistory, status)
	cp := *res
	return &cp, nil
}

func (r *fakeAnalysisRepo) update(advertisementID uint, fn func(*models.AnalysisResult)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, ok := r.db.results[advertisementID]
	if !ok {
		return repository.ErrAnalysisResultNotFound
	}
	fn(res)
	return nil
}

func (r *fakeAnalysisRepo) AttachMedia(ctx context.Context, advertisementID, mediaID uint) error {
	return r.update(advertisementID, func(res *models.AnalysisResult) { res.MediaID = &mediaID })
}

func (r *fakeAnalysisRepo) SetComplianceResult(ctx context.Context, advertisementID uint, raw datatypes.JSON) error {
	return r.update(advertisementID, func(res *models.AnalysisResult) { res.ComplianceResult = raw })
}

func (r *fakeAnalysisRepo) SetVerdict(ctx context.Context, advertisementID uint, verdict models.Verdict, reason string, callRequired bool) error {
	return r.update(advertisementID, func(res *models.AnalysisResult) {
		v := string(verdict)
		res.Verdict, res.Reason, res.CallRequired = &v, &reason, callRequired
	})
}

func (r *fakeAnalysisRepo) Finalize(ctx context.Context, advertisementID uint, verdict models.Verdict, reason string, report datatypes.JSON, at time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.finalizeAttempts++
	if r.db.finalizeErr != nil {
		return false, r.db.finalizeErr
	}
	res, ok := r.db.results[advertisementID]
	if !ok || res.FinalizedAt != nil {
		return false, nil
	}
	v := string(verdict)
	res.Status = models.PipelineStatusFinished
	res.Verdict, res.Reason = &v, &reason
	res.ReportData = report
	res.FinalizedAt = &at
	res.ExecutionTime = models.MergeMarkers(res.ExecutionTime, at, models.MarkerReportGenerated)
	r.db.statusHistory = append(r.db.statusHistory, models.PipelineStatusFinished)
	return true, nil
}

func (r *fakeAnalysisRepo) SetAdminVerdict(ctx context.Context, id uint, adminVerdict, reason string, approvedBy uint) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, res := range r.db.results {
		if res.ID == id {
			res.AdminVerdict, res.AdminReason, res.ApprovedBy = &adminVerdict, &reason, &approvedBy
			return nil
		}
	}
	return repository.ErrAnalysisResultNotFound
}

func (r *fakeAnalysisRepo) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.AnalysisResult, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.AnalysisResult
	for _, res := range r.db.results {
		if res.Status != models.PipelineStatusFinished && res.UpdatedAt.Before(updatedBefore) {
			cp := *res
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeAnalysisRepo) reportRows(filter models.ReportFilter) []*models.ReportRow {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.ReportRow
	for adID, res := range r.db.results {
		if filter.UserID != nil && res.UserID != *filter.UserID {
			continue
		}
		if filter.Verdict != nil && (res.Verdict == nil || *res.Verdict != *filter.Verdict) {
			continue
		}
		if filter.AdminVerdict != nil && (res.AdminVerdict == nil || *res.AdminVerdict != *filter.AdminVerdict) {
			continue
		}
		ad := r.db.ads[adID]
		row := &models.ReportRow{
			AnalysisResultID: res.ID, AdvertisementID: adID, UserID: res.UserID, Status: res.Status,
			Verdict: res.Verdict, Reason: res.Reason, CallRequired: res.CallRequired, ReportData: res.ReportData,
			AdminVerdict: res.AdminVerdict, AdminReason: res.AdminReason, FinalizedAt: res.FinalizedAt,
			UpdatedAt: res.UpdatedAt,
		}
		if ad != nil {
			row.Title, row.Description, row.Type, row.AdCreatedAt = ad.Title, ad.Description, ad.Type, ad.CreatedAt
		}
		if u := r.db.users[res.UserID]; u != nil {
			row.UserName, row.UserEmail, row.UserSector = u.Name, u.Email, u.Sector
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnalysisResultID > out[j].AnalysisResultID })
	return out
}

func (r *fakeAnalysisRepo) ListReports(ctx context.Context, filter models.ReportFilter, limit, offset int) ([]*models.ReportRow, error) {
	rows := r.reportRows(filter)
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *fakeAnalysisRepo) CountReports(ctx context.Context, filter models.ReportFilter) (int64, error) {
	return int64(len(r.reportRows(filter))), nil
}

type fakeMediaRepo struct {
	repository.MediaRepository
	db  *memDB
	err error
}

func (r *fakeMediaRepo) Save(ctx context.Context, m *models.Media) error {
	if r.err != nil {
		return r.err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m.ID = r.db.id()
	cp := *m
	r.db.media[m.AdvertisementID] = &cp
	return nil
}

type fakeCallLogRepo struct {
	repository.CallLogRepository
	db *memDB
}

func (r *fakeCallLogRepo) ActiveByAdvertisement(ctx context.Context, advertisementID uint) (*models.CallLog, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.calls {
		if c.AdvertisementID == advertisementID && c.Status.IsActive() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeCallLogRepo) Save(ctx context.Context, c *models.CallLog) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.calls {
		if existing.AdvertisementID == c.AdvertisementID && existing.Status.IsActive() {
			return repository.ErrActiveCallExists
		}
	}
	c.ID = r.db.id()
	cp := *c
	r.db.calls = append(r.db.calls, &cp)
	return nil
}

func (r *fakeCallLogRepo) find(id uint) *models.CallLog {
	for _, c := range r.db.calls {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (r *fakeCallLogRepo) MarkStarted(ctx context.Context, id uint, externalCallID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := r.find(id)
	if c == nil {
		return errors.New("call log not found")
	}
	c.ExternalCallID = &externalCallID
	c.Status = models.CallLogStatusInCall
	c.ExecutionTime = models.MergeMarkers(c.ExecutionTime, time.Now(), models.MarkerCallStarted)
	return nil
}

func (r *fakeCallLogRepo) MarkCompleted(ctx context.Context, id uint, marker string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := r.find(id)
	if c == nil {
		return errors.New("call log not found")
	}
	c.Status = models.CallLogStatusCompleted
	c.ExecutionTime = models.MergeMarkers(c.ExecutionTime, time.Now(), marker)
	return nil
}

func (r *fakeCallLogRepo) SetTranscript(ctx context.Context, id uint, transcript datatypes.JSON) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := r.find(id)
	if c == nil {
		return errors.New("call log not found")
	}
	c.Transcript = transcript
	return nil
}

type fakeNotificationRepo struct {
	repository.NotificationRepository
	db *memDB
}

func (r *fakeNotificationRepo) Save(ctx context.Context, n *models.Notification) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n.ID = r.db.id()
	n.CreatedAt = time.Now().UTC()
	cp := *n
	r.db.notifications = append(r.db.notifications, &cp)
	return nil
}

func (r *fakeNotificationRepo) mine(userID uint, isRead *bool) []*models.Notification {
	var out []*models.Notification
	for i := len(r.db.notifications) - 1; i >= 0; i-- {
		n := r.db.notifications[i]
		if n.UserID != userID || (isRead != nil && n.IsRead != *isRead) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (r *fakeNotificationRepo) Count(ctx context.Context, filter models.NotificationFilter) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return int64(len(r.mine(*filter.UserID, filter.IsRead))), nil
}

func (r *fakeNotificationRepo) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]*models.Notification, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rows := r.mine(userID, nil)
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *fakeNotificationRepo) MarkRead(ctx context.Context, id, userID uint) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, n := range r.db.notifications {
		if n.ID == id && n.UserID == userID && !n.IsRead {
			now := time.Now().UTC()
			n.IsRead, n.ReadAt = true, &now
			return true, nil
		}
	}
	return false, nil
}

// memStore is an ArtifactStore keeping objects in memory
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failOn  string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(ctx context.Context, objectPath, contentType string, r io.Reader, size int64) (*services.StoredObject, error) {
	if s.failOn != "" && strings.Contains(objectPath, s.failOn) {
		return nil, errors.New("storage: 500 internal error")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.objects[objectPath] = b
	s.mu.Unlock()
	return &services.StoredObject{
		Path:        objectPath,
		PublicURL:   "https://cdn.example.com/" + objectPath,
		ContentType: contentType,
		Size:        int64(len(b)),
	}, nil
}

func (s *memStore) Delete(ctx context.Context, objectPaths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range objectPaths {
		delete(s.objects, p)
		s.deleted = append(s.deleted, p)
	}
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// fakeEngine answers compliance checks with a canned body
type fakeEngine struct {
	mu      sync.Mutex
	body    string
	err     error
	panics  bool
	calls   int
	lastReq services.ComplianceCheckRequest
}

func (e *fakeEngine) Check(ctx context.Context, req services.ComplianceCheckRequest) (json.RawMessage, error) {
	e.mu.Lock()
	e.calls++
	e.lastReq = req
	e.mu.Unlock()
	if e.panics {
		panic("engine exploded")
	}
	if e.err != nil {
		return nil, e.err
	}
	return json.RawMessage(e.body), nil
}

// fakeVendor places calls that finish after a number of status requests
type fakeVendor struct {
	mu          sync.Mutex
	placeErr    error
	runningFor  int
	neverEnds   bool
	detailsErr  error
	transcript  string
	statusCalls int
	phone       string
	task        string
	placed      int
}

func (v *fakeVendor) PlaceCall(ctx context.Context, phoneNumber, task string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placed++
	v.phone, v.task = phoneNumber, task
	if v.placeErr != nil {
		return "", v.placeErr
	}
	return "call-42", nil
}

func (v *fakeVendor) CallDetails(ctx context.Context, callID string) (*services.CallDetails, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statusCalls++
	if v.detailsErr != nil {
		return nil, v.detailsErr
	}
	if v.neverEnds || v.statusCalls <= v.runningFor {
		return &services.CallDetails{Status: "in-progress"}, nil
	}
	raw := v.transcript
	if raw == "" {
		raw = `{"status":"completed","transcripts":[{"user":"assistant","text":"hello"}]}`
	}
	return &services.CallDetails{Status: "completed", Completed: true, Raw: json.RawMessage(raw)}, nil
}

type fakeEvaluator struct {
	result *services.PostCallResult
	err    error
	seen   json.RawMessage
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, advertisementID uint, transcript json.RawMessage) (*services.PostCallResult, error) {
	e.seen = transcript
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		cp := *e.result
		return &cp, nil
	}
	return &services.PostCallResult{Verdict: models.VerdictPass, Reason: "Post-call analysis completed", Confidence: 0.89}, nil
}

// pipelineHarness wires a pipeline over in-memory fakes
type pipelineHarness struct {
	db        *memDB
	adRepo    *fakeAdRepo
	analysis  *fakeAnalysisRepo
	mediaRepo *fakeMediaRepo
	callRepo  *fakeCallLogRepo
	store     *memStore
	engine    *fakeEngine
	vendor    *fakeVendor
	evaluator *fakeEvaluator
	notifier  *services.MockNotificationService
	lock      services.PipelineLock
	cfg       PipelineConfig
	logs      *bytes.Buffer
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	db := newMemDB()
	return &pipelineHarness{
		db:        db,
		adRepo:    &fakeAdRepo{db: db},
		analysis:  &fakeAnalysisRepo{db: db},
		mediaRepo: &fakeMediaRepo{db: db},
		callRepo:  &fakeCallLogRepo{db: db},
		store:     newMemStore(),
		engine:    &fakeEngine{body: `{"compliance_results":{"verdict":"pass","reason":"Looks fine"}}`},
		vendor:    &fakeVendor{runningFor: 2},
		evaluator: &fakeEvaluator{},
		notifier:  services.NewMockNotificationService(),
		lock:      services.NewMemoryPipelineLock(),
		cfg: PipelineConfig{
			ComplianceTimeout: time.Second,
			Poll: services.CallPollerConfig{
				InitialDelay: time.Millisecond,
				Interval:     20 * time.Millisecond,
				RetryDelay:   time.Millisecond,
				MaxAttempts:  5,
			},
			TranscriptSettle:    time.Millisecond,
			StatusRetryAttempts: 3,
			StatusRetryBackoff:  time.Millisecond,
			MaxCallQuestions:    5,
			PhonePrefix:         "+91",
			LockTTL:             time.Minute,
			UploadParallel:      2,
		},
		logs: &bytes.Buffer{},
	}
}

func (h *pipelineHarness) pipeline(ctx context.Context) *CompliancePipelineImpl {
	return NewCompliancePipeline(ctx, h.adRepo, h.analysis, h.mediaRepo, h.callRepo, h.store,
		h.engine, h.vendor, h.evaluator, h.notifier, h.lock, h.cfg,
		log.New(&syncWriter{w: h.logs}, "pipeline ", 0)).(*CompliancePipelineImpl)
}

// syncWriter serialises log writes from concurrent runs
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
