package common

import (
	"github.com/google/uuid"
)

// NewDownloadID generates a unique download ID with the "dl_" prefix
func NewDownloadID() string {
	return "dl_" + uuid.New().String()
}

// NewInstanceID identifies one server process, reported by /api/version
func NewInstanceID() string {
	return uuid.New().String()
}
