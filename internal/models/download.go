package models

import "time"

// DownloadStatus is the lifecycle state of a video-platform download
type DownloadStatus string

const (
	DownloadStatusQueued      DownloadStatus = "queued"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusFailed      DownloadStatus = "failed"
	DownloadStatusCancelled   DownloadStatus = "cancelled"
)

// DownloadItem tracks one extractor download
type DownloadItem struct {
	ID        string         `json:"id"`
	URL       string         `json:"url"`
	Title     string         `json:"title"`
	Status    DownloadStatus `json:"status"`
	Progress  int            `json:"progress"` // 0-100
	FilePath  string         `json:"file_path,omitempty"`
	Error     string         `json:"error,omitempty"`
	Thumbnail string         `json:"thumbnail,omitempty"`
	Duration  string         `json:"duration,omitempty"` // Formatted as m:ss or h:mm:ss
	CreatedAt time.Time      `json:"created_at"`
}

// DownloadProgress is published while a download runs
type DownloadProgress struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
	Title    string `json:"title,omitempty"`
}
