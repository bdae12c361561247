package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Advertisement errors
	ErrAdvertisementNotFound     = errors.New("advertisement not found")
	ErrAdvertisementAccessDenied = errors.New("advertisement access denied")
	ErrInvalidAdvertisementID    = errors.New("invalid advertisement id")
	ErrInvalidAdvertisementType  = errors.New("invalid type. must be 0 (image), 1 (video), or 2 (text)")
	ErrInvalidTargetAgeGroup     = errors.New("target_age_group must be valid JSON")
	ErrTitleRequired             = errors.New("title is required")
	ErrDescriptionRequired       = errors.New("description is required")

	ErrUserNotFound = errors.New("user not found")

	// Upload errors
	ErrNoFiles             = errors.New("at least one media file is required")
	ErrTooManyFiles        = errors.New("too many files")
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrCorruptImage        = errors.New("image could not be decoded")

	// Pipeline errors
	ErrPhoneNumberMissing = errors.New("advertiser phone number missing")
	ErrPipelineBusy       = errors.New("pipeline already running for advertisement")
	ErrPipelineAborted    = errors.New("pipeline aborted")

	// Report errors
	ErrReportNotFound    = errors.New("report not found")
	ErrInvalidReviewNote = errors.New("review reason too long")

	// Notification errors
	ErrNotificationNotFound = errors.New("notification not found")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsAdvertisementNotFound(err error) bool {
	return errors.Is(err, ErrAdvertisementNotFound)
}

func IsAdvertisementAccessDenied(err error) bool {
	return errors.Is(err, ErrAdvertisementAccessDenied)
}

func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

func IsInvalidAdvertisementID(err error) bool {
	return errors.Is(err, ErrInvalidAdvertisementID)
}

func IsInvalidAdvertisementType(err error) bool {
	return errors.Is(err, ErrInvalidAdvertisementType)
}

func IsInvalidTargetAgeGroup(err error) bool {
	return errors.Is(err, ErrInvalidTargetAgeGroup)
}

func IsNoFiles(err error) bool {
	return errors.Is(err, ErrNoFiles)
}

func IsTooManyFiles(err error) bool {
	return errors.Is(err, ErrTooManyFiles)
}

func IsFileTooLarge(err error) bool {
	return errors.Is(err, ErrFileTooLarge)
}

func IsUnsupportedFileType(err error) bool {
	return errors.Is(err, ErrUnsupportedFileType)
}

func IsCorruptImage(err error) bool {
	return errors.Is(err, ErrCorruptImage)
}

func IsPhoneNumberMissing(err error) bool {
	return errors.Is(err, ErrPhoneNumberMissing)
}

func IsReportNotFound(err error) bool {
	return errors.Is(err, ErrReportNotFound)
}

func IsNotificationNotFound(err error) bool {
	return errors.Is(err, ErrNotificationNotFound)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}

func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}

// IsValidationError reports whether err should be answered with 400
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidAdvertisementID, ErrInvalidAdvertisementType, ErrInvalidTargetAgeGroup,
		ErrTitleRequired, ErrDescriptionRequired, ErrNoFiles, ErrTooManyFiles,
		ErrFileTooLarge, ErrUnsupportedFileType, ErrCorruptImage, ErrInvalidReviewNote,
		ErrInvalidPage, ErrInvalidPageSize,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
