// Package utils provides utility functions for the application.
package utils

import (
	"fmt"
	"strconv"
	"strings"
)

func ToPtr[T any](v T) *T {
	return &v
}

func IsTrue(b *bool) bool {
	return b != nil && *b
}

// ParseAdvertisementID accepts "123" or "adv-123"
func ParseAdvertisementID(raw string) (uint, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), AdvertisementPathPrefix)
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid advertisement id %q", raw)
	}
	return uint(id), nil
}

// FormatAdvertisementID renders the client-facing id used in tracking URLs
func FormatAdvertisementID(id uint) string {
	return AdvertisementPathPrefix + strconv.FormatUint(uint64(id), 10)
}
