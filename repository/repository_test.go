package repository_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/repository"
	testingutil "github.com/amirphl/AdGuard-AI/testing"
	"github.com/amirphl/AdGuard-AI/utils"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func withDB(t *testing.T, fn func(testDB *testingutil.TestDB) error) {
	t.Helper()
	err := testingutil.TestWithDB(fn)
	if testingutil.IsDatabaseUnavailable(err) {
		t.Skipf("postgres not available: %v", err)
	}
	require.NoError(t, err)
}

func TestAdvertisementRepository(t *testing.T) {
	withDB(t, func(testDB *testingutil.TestDB) error {
		ads := repository.NewAdvertisementRepository(testDB.DB)
		results := repository.NewAnalysisResultRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		user, err := fixtures.CreateTestUser(models.UserRoleUser)
		require.NoError(t, err)

		t.Run("CreateWithAnalysis", func(t *testing.T) {
			ad := &models.Advertisement{
				UserID:      user.ID,
				Title:       "Festive offer",
				Description: "Buy one get one",
				Type:        models.AdvertisementTypeVideo,
			}
			result := &models.AnalysisResult{Status: models.PipelineStatusUploading}

			require.NoError(t, ads.CreateWithAnalysis(ctx, ad, result))
			assert.NotZero(t, ad.ID)
			assert.Equal(t, ad.ID, result.AdvertisementID)

			stored, err := results.ByAdvertisementID(ctx, ad.ID)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, models.PipelineStatusUploading, stored.Status)
			assert.True(t, stored.HasMarker(models.MarkerUploadStarted))
		})

		t.Run("ByIDWithUser", func(t *testing.T) {
			ad, err := fixtures.CreateTestAdvertisement(user.ID)
			require.NoError(t, err)

			loaded, err := ads.ByIDWithUser(ctx, ad.ID)
			require.NoError(t, err)
			require.NotNil(t, loaded.User)
			assert.Equal(t, user.Email, loaded.User.Email)

			missing, err := ads.ByIDWithUser(ctx, 999999)
			assert.NoError(t, err)
			assert.Nil(t, missing)
		})

		t.Run("DeleteCascades", func(t *testing.T) {
			ad, err := fixtures.CreateTestAdvertisement(user.ID)
			require.NoError(t, err)
			_, err = fixtures.CreateTestAnalysisResult(ad, models.PipelineStatusUploading)
			require.NoError(t, err)

			require.NoError(t, ads.Delete(ctx, ad.ID))

			stored, err := results.ByAdvertisementID(ctx, ad.ID)
			require.NoError(t, err)
			assert.Nil(t, stored)
		})

		return nil
	})
}

func TestAnalysisResultRepository(t *testing.T) {
	withDB(t, func(testDB *testingutil.TestDB) error {
		repo := repository.NewAnalysisResultRepository(testDB.DB)
		mediaRepo := repository.NewMediaRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := testingutil.CreateTestContext()

		user, err := fixtures.CreateTestUser(models.UserRoleUser)
		require.NoError(t, err)

		t.Run("EnsureForAdvertisementIsLazy", func(t *testing.T) {
			ad, err := fixtures.CreateTestAdvertisement(user.ID)
			require.NoError(t, err)

			first, err := repo.EnsureForAdvertisement(ctx, ad.ID, user.ID)
			require.NoError(t, err)
			second, err := repo.EnsureForAdvertisement(ctx, ad.ID, user.ID)
			require.NoError(t, err)

			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, models.PipelineStatusUploading, second.Status)
		})

		t.Run("UpdateStatusForwardOnly", func(t *testing.T) {
			ad, err := fixtures.CreateTestAdvertisement(user.ID)
			require.NoError(t, err)
			_, err = fixtures.CreateTestAnalysisResult(ad, models.PipelineStatusUploading)
			require.NoError(t, err)

			updated, err := repo.UpdateStatus(ctx, ad.ID, models.PipelineStatusCalling, models.MarkerCallScheduled)
			require.NoError(t, err)
			assert.Equal(t, models.PipelineStatusCalling, updated.Status)

			_, err = repo.UpdateStatus(ctx, ad.ID, models.PipelineStatusComplianceDone)
			assert.ErrorIs(t, err, repository.ErrInvalidStatusTransition)

			_, err = repo.UpdateStatus(ctx, 999999, models.PipelineStatusComplianceDone)
			assert.ErrorIs(t, err, repository.ErrAnalysisResultNotFound)
		})

		t.Run("MarkersAreAppendOnly", func(t *testing.T) {
			ad, err := fixtures.CreateTestAdvertisement(user.ID)
			require.NoError(t, err)
			_, err = fixtures.CreateTestAnalysisResult(ad, models.PipelineStatusUploading)
			require.NoError(t, err)

			first, err := repo.UpdateStatus(ctx, ad.ID, models.PipelineStatusComplianceDone, models.MarkerMediaUploaded)
			require.NoError(t, err)
			stamp := first.ExecutionTime[models.MarkerMediaUploaded]

			time.Sleep(5 * time.Millisecond)
			second, err := repo.UpdateStatus(ctx, ad.ID, models.PipelineStatusComplianceDone, models.MarkerMediaUploaded, models.MarkerComplianceStarted)
			require.NoError(t, err)
			assert.Equal(t, stamp, second.ExecutionTime[models.MarkerMediaUploaded])
			assert.True(t, second.HasMarker(models.MarkerComplianceStarted))
		})

		t.Run("FinalizeOnce", func(t *testing.T) {
			ad, err := fixtures.CreateTestAdvertisement(user.ID)
			require.NoError(t, err)
			_, err = fixtures.CreateTestAnalysisResult(ad, models.PipelineStatusComplianceDone)
			require.NoError(t, err)

			report := datatypes.JSON(`{"final_verdict":"pass"}`)
			applied, err := repo.Finalize(ctx, ad.ID, models.VerdictPass, "ok", report, utils.UTCNow())
			require.NoError(t, err)
			assert.True(t, applied)

			applied, err = repo.Finalize(ctx, ad.ID, models.VerdictError, "late", report, utils.UTCNow())
			require.NoError(t, err)
			assert.False(t, applied)

			stored, err := repo.ByAdvertisementID(ctx, ad.ID)
			require.NoError(t, err)
			assert.Equal(t, models.PipelineStatusFinished, stored.Status)
			assert.Equal(t, models.VerdictPass, stored.VerdictValue())
			assert.NotNil(t, stored.FinalizedAt)
			assert.True(t, stored.HasMarker(models.MarkerReportGenerated))
		})

		t.Run("AdminVerdictKeepsStatus", func(t *testing.T) {
			admin, err := fixtures.CreateTestUser(models.UserRoleAdmin)
			require.NoError(t, err)
			ad, err := fixtures.CreateTestAdvertisement(user.ID)
			require.NoError(t, err)
			result, err := fixtures.CreateTestAnalysisResult(ad, models.PipelineStatusCalling)
			require.NoError(t, err)

			require.NoError(t, repo.SetAdminVerdict(ctx, result.ID, models.AdminVerdictApproved, "fine", admin.ID))

			stored, err := repo.ByID(ctx, result.ID)
			require.NoError(t, err)
			assert.Equal(t, models.PipelineStatusCalling, stored.Status)
			require.NotNil(t, stored.AdminVerdict)
			assert.Equal(t, models.AdminVerdictApproved, *stored.AdminVerdict)

			assert.ErrorIs(t, repo.SetAdminVerdict(ctx, 999999, models.AdminVerdictRejected, "", admin.ID), repository.ErrAnalysisResultNotFound)
		})

		t.Run("ListReportsJoinsMedia", func(t *testing.T) {
			ad, err := fixtures.CreateTestAdvertisement(user.ID)
			require.NoError(t, err)
			result, err := fixtures.CreateTestAnalysisResult(ad, models.PipelineStatusUploading)
			require.NoError(t, err)

			media := &models.Media{
				AdvertisementID:  ad.ID,
				UserID:           user.ID,
				AnalysisResultID: &result.ID,
				ImageURLs:        pq.StringArray{"https://cdn.example.com/a.png"},
			}
			require.NoError(t, mediaRepo.Save(ctx, media))
			require.NoError(t, repo.AttachMedia(ctx, ad.ID, media.ID))

			rows, err := repo.ListReports(ctx, models.ReportFilter{UserID: &user.ID}, 50, 0)
			require.NoError(t, err)

			var found *models.ReportRow
			for _, row := range rows {
				if row.AdvertisementID == ad.ID {
					found = row
				}
			}
			require.NotNil(t, found)
			assert.Equal(t, "Summer Sale", found.Title)
			assert.Equal(t, user.Email, found.UserEmail)
			assert.Equal(t, []string{"https://cdn.example.com/a.png"}, []string(found.ImageURLs))
			assert.Empty(t, found.VideoURLs)

			count, err := repo.CountReports(ctx, models.ReportFilter{UserID: &user.ID})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, count, int64(len(rows)))
		})

		t.Run("ListStale", func(t *testing.T) {
			ad, err := fixtures.CreateTestAdvertisement(user.ID)
			require.NoError(t, err)
			_, err = fixtures.CreateTestAnalysisResult(ad, models.PipelineStatusCalling)
			require.NoError(t, err)

			stale, err := repo.ListStale(ctx, utils.UTCNow().Add(time.Minute), 100)
			require.NoError(t, err)
			var ids []uint
			for _, s := range stale {
				assert.NotEqual(t, models.PipelineStatusFinished, s.Status)
				ids = append(ids, s.AdvertisementID)
			}
			assert.Contains(t, ids, ad.ID)

			none, err := repo.ListStale(ctx, utils.UTCNow().Add(-time.Hour), 100)
			require.NoError(t, err)
			assert.Empty(t, none)
		})

		return nil
	})
}

func TestCallLogRepository(t *testing.T) {
	withDB(t, func(testDB *testingutil.TestDB) error {
		repo := repository.NewCallLogRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		user, err := fixtures.CreateTestUser(models.UserRoleUser)
		require.NoError(t, err)
		ad, err := fixtures.CreateTestAdvertisement(user.ID)
		require.NoError(t, err)
		result, err := fixtures.CreateTestAnalysisResult(ad, models.PipelineStatusDoubts)
		require.NoError(t, err)

		newCall := func() *models.CallLog {
			return &models.CallLog{
				UserID:           user.ID,
				AdvertisementID:  ad.ID,
				AnalysisResultID: result.ID,
				Status:           models.CallLogStatusScheduled,
			}
		}

		call := newCall()
		require.NoError(t, repo.Save(ctx, call))

		t.Run("AtMostOneActiveCall", func(t *testing.T) {
			err := repo.Save(ctx, newCall())
			assert.ErrorIs(t, err, repository.ErrActiveCallExists)
		})

		t.Run("Lifecycle", func(t *testing.T) {
			require.NoError(t, repo.MarkStarted(ctx, call.ID, "call-123"))

			active, err := repo.ActiveByAdvertisement(ctx, ad.ID)
			require.NoError(t, err)
			require.NotNil(t, active)
			assert.Equal(t, models.CallLogStatusInCall, active.Status)
			assert.Equal(t, "call-123", *active.ExternalCallID)

			require.NoError(t, repo.MarkCompleted(ctx, call.ID, models.MarkerCallCompleted))
			transcript, _ := json.Marshal(map[string]any{"status": "completed"})
			require.NoError(t, repo.SetTranscript(ctx, call.ID, transcript))

			active, err = repo.ActiveByAdvertisement(ctx, ad.ID)
			require.NoError(t, err)
			assert.Nil(t, active)

			stored, err := repo.ByID(ctx, call.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CallLogStatusCompleted, stored.Status)
			assert.Contains(t, stored.ExecutionTime, models.MarkerCallCompleted)
			assert.JSONEq(t, `{"status":"completed"}`, string(stored.Transcript))
		})

		t.Run("NewCallAfterCompletion", func(t *testing.T) {
			next := newCall()
			require.NoError(t, repo.Save(ctx, next))
			require.NoError(t, repo.SetTranscript(ctx, next.ID, nil))
		})

		return nil
	})
}

func TestNotificationRepository(t *testing.T) {
	withDB(t, func(testDB *testingutil.TestDB) error {
		repo := repository.NewNotificationRepository(testDB.DB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		owner, err := fixtures.CreateTestUser(models.UserRoleUser)
		require.NoError(t, err)
		other, err := fixtures.CreateTestUser(models.UserRoleUser)
		require.NoError(t, err)

		n := &models.Notification{UserID: owner.ID, Type: models.NotificationTypeReportReady, Message: "ready"}
		require.NoError(t, repo.Save(ctx, n))

		list, err := repo.ListByUser(ctx, owner.ID, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.False(t, list[0].IsRead)

		ok, err := repo.MarkRead(ctx, n.ID, other.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.MarkRead(ctx, n.ID, owner.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		unread := false
		count, err := repo.Count(ctx, models.NotificationFilter{UserID: &owner.ID, IsRead: &unread})
		require.NoError(t, err)
		assert.Zero(t, count)

		return nil
	})
}
