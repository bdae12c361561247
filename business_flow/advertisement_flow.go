package businessflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/amirphl/AdGuard-AI/app/dto"
	"github.com/amirphl/AdGuard-AI/app/services"
	"github.com/amirphl/AdGuard-AI/config"
	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/repository"
	"github.com/amirphl/AdGuard-AI/utils"
	_ "golang.org/x/image/webp"
	"gorm.io/datatypes"
)

// AdvertisementFlow handles advertisement submission and progress tracking
type AdvertisementFlow interface {
	SubmitAdvertisement(ctx context.Context, req *dto.SubmitAdvertisementRequest, metadata *ClientMetadata) (*dto.SubmitAdvertisementResponse, error)
	GetAdvertisementStatus(ctx context.Context, userID uint, rawID string) (*dto.AdvertisementStatusResponse, error)
}

// AdvertisementFlowImpl implements AdvertisementFlow
type AdvertisementFlowImpl struct {
	userRepo     repository.UserRepository
	adRepo       repository.AdvertisementRepository
	analysisRepo repository.AnalysisResultRepository
	pipeline     CompliancePipeline
	notifier     services.NotificationService
	storageCfg   config.StorageConfig
	logger       *log.Logger
}

// NewAdvertisementFlow creates a new advertisement flow instance
func NewAdvertisementFlow(
	userRepo repository.UserRepository,
	adRepo repository.AdvertisementRepository,
	analysisRepo repository.AnalysisResultRepository,
	pipeline CompliancePipeline,
	notifier services.NotificationService,
	storageCfg config.StorageConfig,
	logger *log.Logger,
) AdvertisementFlow {
	if storageCfg.MaxFiles <= 0 {
		storageCfg.MaxFiles = utils.MaxUploadFiles
	}
	if storageCfg.MaxFileSize <= 0 {
		storageCfg.MaxFileSize = utils.MaxUploadFileSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &AdvertisementFlowImpl{
		userRepo:     userRepo,
		adRepo:       adRepo,
		analysisRepo: analysisRepo,
		pipeline:     pipeline,
		notifier:     notifier,
		storageCfg:   storageCfg,
		logger:       logger,
	}
}

var allowedUploadTypes = map[string]MediaKind{
	"image/jpeg":      MediaKindImage,
	"image/jpg":       MediaKindImage,
	"image/png":       MediaKindImage,
	"image/gif":       MediaKindImage,
	"image/webp":      MediaKindImage,
	"video/mp4":       MediaKindVideo,
	"video/avi":       MediaKindVideo,
	"video/x-msvideo": MediaKindVideo,
	"video/mov":       MediaKindVideo,
	"video/quicktime": MediaKindVideo,
}

// SubmitAdvertisement validates the submission, spools its files, persists the
// advertisement and hands it to the pipeline. It returns before any file is stored.
func (f *AdvertisementFlowImpl) SubmitAdvertisement(ctx context.Context, req *dto.SubmitAdvertisementRequest, metadata *ClientMetadata) (*dto.SubmitAdvertisementResponse, error) {
	if req == nil {
		return nil, NewBusinessError("INVALID_REQUEST", "Request is required", nil)
	}

	adType, err := f.validateSubmission(req)
	if err != nil {
		return nil, NewBusinessError("ADVERTISEMENT_VALIDATION_FAILED", "Advertisement validation failed", err)
	}

	user, err := f.userRepo.ByID(ctx, req.UserID)
	if err != nil {
		return nil, NewBusinessError("USER_LOOKUP_FAILED", "Failed to lookup user", err)
	}
	if user == nil {
		return nil, NewBusinessError("USER_NOT_FOUND", "User not found", ErrUserNotFound)
	}

	staged, err := f.stageFiles(req.Files)
	if err != nil {
		return nil, NewBusinessError("UPLOAD_VALIDATION_FAILED", "Upload validation failed", err)
	}

	ad := &models.Advertisement{
		UserID:         user.ID,
		Title:          strings.TrimSpace(req.Title),
		Description:    strings.TrimSpace(req.Description),
		Type:           adType,
		TargetRegion:   optionalString(req.TargetRegion),
		Language:       optionalString(req.Language),
		LandingURL:     optionalString(req.LandingURL),
		TargetAudience: optionalString(req.TargetAudience),
	}
	if raw := strings.TrimSpace(req.TargetAgeGroup); raw != "" {
		ad.TargetAgeGroup = datatypes.JSON(raw)
	}
	result := &models.AnalysisResult{
		UserID:        user.ID,
		Status:        models.PipelineStatusUploading,
		ExecutionTime: models.MergeMarkers(nil, utils.UTCNow(), models.MarkerUploadStarted),
	}

	if err := f.adRepo.CreateWithAnalysis(ctx, ad, result); err != nil {
		removeStagedFiles(staged, f.logger)
		return nil, NewBusinessError("ADVERTISEMENT_CREATION_FAILED", "Advertisement creation failed", err)
	}

	f.logger.Printf("advertisement: submitted advertisement_id=%d user_id=%d files=%d ip=%s",
		ad.ID, user.ID, len(staged), metadata.ipAddress())

	if err := f.notifier.Notify(ctx, user.ID, models.NotificationTypeUploadSuccess, uploadSuccessMessage); err != nil {
		f.logger.Printf("advertisement: upload notification not sent advertisement_id=%d: %v", ad.ID, err)
	}

	f.pipeline.Launch(PipelineJob{
		AdvertisementID: ad.ID,
		UserID:          user.ID,
		Files:           staged,
	})

	return &dto.SubmitAdvertisementResponse{
		Success:             true,
		Status:              "processing",
		Message:             "Ad upload initiated. Compliance checks will begin shortly.",
		AdvertisementID:     ad.ID,
		ProgressTrackingURL: fmt.Sprintf("/api/v1/ads/%s/status", utils.FormatAdvertisementID(ad.ID)),
	}, nil
}

func (f *AdvertisementFlowImpl) validateSubmission(req *dto.SubmitAdvertisementRequest) (models.AdvertisementType, error) {
	if strings.TrimSpace(req.Title) == "" {
		return 0, ErrTitleRequired
	}
	if strings.TrimSpace(req.Description) == "" {
		return 0, ErrDescriptionRequired
	}

	n, err := strconv.Atoi(strings.TrimSpace(req.Type))
	if err != nil || !models.AdvertisementType(n).Valid() {
		return 0, ErrInvalidAdvertisementType
	}

	if raw := strings.TrimSpace(req.TargetAgeGroup); raw != "" && !json.Valid([]byte(raw)) {
		return 0, ErrInvalidTargetAgeGroup
	}

	if len(req.Files) == 0 {
		return 0, ErrNoFiles
	}
	if len(req.Files) > f.storageCfg.MaxFiles {
		return 0, fmt.Errorf("%w: at most %d files are allowed", ErrTooManyFiles, f.storageCfg.MaxFiles)
	}
	for _, file := range req.Files {
		if file.Size > f.storageCfg.MaxFileSize {
			return 0, fmt.Errorf("%w: %s exceeds %s", ErrFileTooLarge, file.Filename, services.FormatSize(f.storageCfg.MaxFileSize))
		}
	}
	return models.AdvertisementType(n), nil
}

// stageFiles copies every upload to the temp dir. Nothing is left behind on error.
func (f *AdvertisementFlowImpl) stageFiles(files []dto.UploadedFile) ([]StagedFile, error) {
	staged := make([]StagedFile, 0, len(files))
	for _, file := range files {
		sf, err := f.stageFile(file)
		if err != nil {
			removeStagedFiles(staged, f.logger)
			return nil, err
		}
		staged = append(staged, sf)
	}
	return staged, nil
}

func (f *AdvertisementFlowImpl) stageFile(file dto.UploadedFile) (StagedFile, error) {
	if file.Open == nil {
		return StagedFile{}, fmt.Errorf("%w: %s", ErrNoFiles, file.Filename)
	}
	src, err := file.Open()
	if err != nil {
		return StagedFile{}, fmt.Errorf("open upload %s: %w", file.Filename, err)
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return StagedFile{}, fmt.Errorf("read upload %s: %w", file.Filename, err)
	}
	head = head[:n]

	contentType, kind, ok := resolveContentType(file.ContentType, head)
	if !ok {
		return StagedFile{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFileType, file.Filename, file.ContentType)
	}

	tmp, err := os.CreateTemp(f.storageCfg.UploadTempDir, "adguard-upload-*")
	if err != nil {
		return StagedFile{}, fmt.Errorf("create staging file: %w", err)
	}
	sf := StagedFile{Path: tmp.Name(), Filename: file.Filename, ContentType: contentType, Kind: kind}

	fail := func(err error) (StagedFile, error) {
		tmp.Close()
		os.Remove(sf.Path)
		return StagedFile{}, err
	}

	limit := f.storageCfg.MaxFileSize
	written, err := io.Copy(tmp, io.LimitReader(io.MultiReader(bytes.NewReader(head), src), limit+1))
	if err != nil {
		return fail(fmt.Errorf("stage upload %s: %w", file.Filename, err))
	}
	if written > limit {
		return fail(fmt.Errorf("%w: %s exceeds %s", ErrFileTooLarge, file.Filename, services.FormatSize(limit)))
	}
	if written == 0 {
		return fail(fmt.Errorf("%w: %s is empty", ErrUnsupportedFileType, file.Filename))
	}
	sf.Size = written

	if kind == MediaKindImage {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return fail(err)
		}
		if _, _, err := image.DecodeConfig(tmp); err != nil {
			return fail(fmt.Errorf("%w: %s", ErrCorruptImage, file.Filename))
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(sf.Path)
		return StagedFile{}, fmt.Errorf("close staging file: %w", err)
	}
	return sf, nil
}

// resolveContentType prefers the declared type and falls back to sniffing
func resolveContentType(declared string, head []byte) (string, MediaKind, bool) {
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		mt = strings.ToLower(mt)
		if kind, ok := allowedUploadTypes[mt]; ok {
			return mt, kind, true
		}
	}
	sniffed := strings.ToLower(strings.TrimSpace(strings.Split(http.DetectContentType(head), ";")[0]))
	if kind, ok := allowedUploadTypes[sniffed]; ok {
		return sniffed, kind, true
	}
	return "", "", false
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// GetAdvertisementStatus projects the pipeline status of an advertisement the caller owns
func (f *AdvertisementFlowImpl) GetAdvertisementStatus(ctx context.Context, userID uint, rawID string) (*dto.AdvertisementStatusResponse, error) {
	adID, err := utils.ParseAdvertisementID(rawID)
	if err != nil {
		return nil, NewBusinessError("INVALID_ADVERTISEMENT_ID", "Invalid advertisement ID", ErrInvalidAdvertisementID)
	}

	ad, err := f.adRepo.ByID(ctx, adID)
	if err != nil {
		return nil, NewBusinessError("ADVERTISEMENT_LOOKUP_FAILED", "Failed to lookup advertisement", err)
	}
	// another user's advertisement is reported as missing
	if ad == nil || ad.UserID != userID {
		return nil, NewBusinessError("ADVERTISEMENT_NOT_FOUND", "Advertisement not found", ErrAdvertisementNotFound)
	}

	row, err := f.analysisRepo.EnsureForAdvertisement(ctx, ad.ID, ad.UserID)
	if err != nil {
		return nil, NewBusinessError("STATUS_LOOKUP_FAILED", "Failed to load advertisement status", err)
	}

	return &dto.AdvertisementStatusResponse{
		AdvertisementID: ad.ID,
		CurrentStatus:   row.Status.String(),
		Stages:          row.Status.Stages(),
		LastUpdated:     row.UpdatedAt,
	}, nil
}
