package utils

import (
	"time"
)

// Upload constants
const (
	// MaxUploadFiles is the maximum number of files per advertisement
	MaxUploadFiles = 10

	// MaxUploadFileSize is the maximum size of one uploaded file (100MB)
	MaxUploadFileSize = 100 * 1024 * 1024

	// UploadFormField is the multipart field carrying the media files
	UploadFormField = "files"

	// AdvertisementPathPrefix prefixes advertisement ids in client-facing paths
	AdvertisementPathPrefix = "adv-"
)

// Pipeline constants
const (
	// ComplianceEngineTimeout bounds one compliance check
	ComplianceEngineTimeout = 300 * time.Second

	// MaxCallQuestions is the number of engine questions embedded in a call script
	MaxCallQuestions = 5
)
