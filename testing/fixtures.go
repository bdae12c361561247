// Package testing provides test utilities and database setup for repository and flow tests
package testing

import (
	"fmt"
	"math/rand"

	"github.com/amirphl/AdGuard-AI/models"
	"github.com/amirphl/AdGuard-AI/utils"
	"gorm.io/datatypes"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestUser creates an advertiser with a random email and mobile
func (tf *TestFixtures) CreateTestUser(role string) (*models.User, error) {
	randomDigits := fmt.Sprintf("%09d", rand.Intn(900000000)+100000000)

	user := &models.User{
		Name:   "Jane Doe",
		Email:  fmt.Sprintf("jane.%s@example.com", randomDigits),
		Sector: "retail",
		Mobile: utils.ToPtr("9" + randomDigits),
		Role:   role,
	}

	if err := tf.DB.DB.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create test user: %w", err)
	}

	return user, nil
}

// CreateTestAdvertisement creates an advertisement for the user
func (tf *TestFixtures) CreateTestAdvertisement(userID uint) (*models.Advertisement, error) {
	ad := &models.Advertisement{
		UserID:         userID,
		Title:          "Summer Sale",
		Description:    "Up to 50% off on all items",
		Type:           models.AdvertisementTypeImage,
		TargetRegion:   utils.ToPtr("IN"),
		Language:       utils.ToPtr("en"),
		TargetAgeGroup: datatypes.JSON(`{"min":18,"max":35}`),
	}

	if err := tf.DB.DB.Create(ad).Error; err != nil {
		return nil, fmt.Errorf("failed to create test advertisement: %w", err)
	}

	return ad, nil
}

// CreateTestAnalysisResult creates the pipeline record for an advertisement
func (tf *TestFixtures) CreateTestAnalysisResult(ad *models.Advertisement, status models.PipelineStatus) (*models.AnalysisResult, error) {
	result := &models.AnalysisResult{
		AdvertisementID: ad.ID,
		UserID:          ad.UserID,
		Status:          status,
	}

	if err := tf.DB.DB.Create(result).Error; err != nil {
		return nil, fmt.Errorf("failed to create test analysis result: %w", err)
	}

	return result, nil
}
