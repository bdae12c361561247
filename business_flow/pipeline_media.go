package businessflow

import (
	"context"
	"fmt"
	"os"

	"github.com/amirphl/AdGuard-AI/app/services"
	"github.com/amirphl/AdGuard-AI/models"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

// storeMedia moves the staged files into the artifact store and records their
// URLs. Any failure here removes the advertisement and whatever was stored.
func (p *CompliancePipelineImpl) storeMedia(ctx context.Context, st *runState) (pipelineStage, error) {
	adID := st.job.AdvertisementID

	ad, err := p.adRepo.ByIDWithUser(ctx, adID)
	if err != nil {
		return stageDone, fmt.Errorf("%w: load advertisement: %v", ErrPipelineAborted, err)
	}
	if ad == nil {
		return stageDone, fmt.Errorf("%w: %v", ErrPipelineAborted, ErrAdvertisementNotFound)
	}
	st.ad = ad

	analysis, err := p.analysisRepo.EnsureForAdvertisement(ctx, adID, ad.UserID)
	if err != nil {
		return stageDone, fmt.Errorf("%w: load analysis result: %v", ErrPipelineAborted, err)
	}
	if analysis.Status != models.PipelineStatusUploading {
		// another run got past upload; leave its data alone
		return stageDone, fmt.Errorf("%w: pipeline already at %s", ErrPipelineAborted, analysis.Status)
	}
	st.analysisResultID = analysis.ID

	media, stored, err := p.uploadFiles(ctx, st)
	if err == nil {
		err = p.recordMedia(ctx, st, media)
	}
	if err != nil {
		p.compensateUpload(ctx, adID, stored)
		return stageDone, fmt.Errorf("%w: media upload failed: %v", ErrPipelineAborted, err)
	}

	st.media = media
	p.logger.Printf("pipeline: media stored advertisement_id=%d images=%d videos=%d",
		adID, len(media.ImageURLs), len(media.VideoURLs))
	return stageCompliance, nil
}

// uploadFiles stores every staged file concurrently. The returned paths name
// what reached the store, also on failure.
func (p *CompliancePipelineImpl) uploadFiles(ctx context.Context, st *runState) (*models.Media, []string, error) {
	files := st.job.Files
	objects := make([]*services.StoredObject, len(files))
	at := p.nowFn()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.UploadParallel)

	seen := make(map[string]bool, len(files))
	for i, f := range files {
		name := services.SanitizeFilename(f.Filename)
		if seen[name] {
			name = fmt.Sprintf("%d_%s", i, name)
		}
		seen[name] = true
		objectPath := services.ObjectPath(st.job.UserID, st.job.AdvertisementID, name, at)

		g.Go(func() error {
			fh, err := os.Open(f.Path)
			if err != nil {
				return fmt.Errorf("open staged file %s: %w", f.Filename, err)
			}
			defer fh.Close()

			obj, err := p.store.Put(gctx, objectPath, f.ContentType, fh, f.Size)
			if err != nil {
				return fmt.Errorf("store %s: %w", f.Filename, err)
			}
			objects[i] = obj
			return nil
		})
	}
	err := g.Wait()

	var stored []string
	for _, obj := range objects {
		if obj != nil {
			stored = append(stored, obj.Path)
		}
	}
	if err != nil {
		return nil, stored, err
	}

	media := &models.Media{
		AdvertisementID:  st.job.AdvertisementID,
		UserID:           st.job.UserID,
		AnalysisResultID: &st.analysisResultID,
		ImageURLs:        pq.StringArray{},
		VideoURLs:        pq.StringArray{},
	}
	for i, obj := range objects {
		if files[i].Kind == MediaKindVideo {
			media.VideoURLs = append(media.VideoURLs, obj.PublicURL)
		} else {
			media.ImageURLs = append(media.ImageURLs, obj.PublicURL)
		}
	}
	return media, stored, nil
}

func (p *CompliancePipelineImpl) recordMedia(ctx context.Context, st *runState, media *models.Media) error {
	if err := p.mediaRepo.Save(ctx, media); err != nil {
		return err
	}
	if err := p.analysisRepo.AttachMedia(ctx, st.job.AdvertisementID, media.ID); err != nil {
		return err
	}
	_, err := p.updateStatus(ctx, st.job.AdvertisementID, models.PipelineStatusComplianceDone, models.MarkerMediaUploaded)
	return err
}

// compensateUpload deletes stored objects and the advertisement row. Both run
// even when the run's context is gone.
func (p *CompliancePipelineImpl) compensateUpload(ctx context.Context, advertisementID uint, stored []string) {
	ctx = context.WithoutCancel(ctx)
	pipelineFallbacks.WithLabelValues("upload_failed").Inc()

	if len(stored) > 0 {
		if err := p.store.Delete(ctx, stored...); err != nil {
			p.logger.Printf("pipeline: failed to delete stored objects advertisement_id=%d: %v", advertisementID, err)
		}
	}
	if err := p.adRepo.Delete(ctx, advertisementID); err != nil {
		p.logger.Printf("pipeline: failed to delete advertisement %d after upload failure: %v", advertisementID, err)
	}
}
