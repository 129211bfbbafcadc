package models

// QueueStatus is a derived, read-only snapshot of the generation queue.
// It is recomputed from the item collection on every query.
type QueueStatus struct {
	Total      int              `json:"total"`
	Queued     int              `json:"queued"`
	Processing int              `json:"processing"`
	Completed  int              `json:"completed"`
	Failed     int              `json:"failed"`
	Cancelled  int              `json:"cancelled"`
	Items      []GenerationItem `json:"items"`
	IsPaused   bool             `json:"isPaused"`
	IsRunning  bool             `json:"isRunning"` // Drain loop active
	// Version increases with every change; a consumer can drop an update
	// older than the last one it rendered.
	Version uint64 `json:"version"`
}

// NewQueueStatus computes a snapshot from items
func NewQueueStatus(items []*GenerationItem, paused, running bool) QueueStatus {
	status := QueueStatus{
		Total:     len(items),
		Items:     make([]GenerationItem, 0, len(items)),
		IsPaused:  paused,
		IsRunning: running,
	}
	for _, item := range items {
		switch item.Status {
		case GenerationStatusQueued:
			status.Queued++
		case GenerationStatusProcessing:
			status.Processing++
		case GenerationStatusCompleted:
			status.Completed++
		case GenerationStatusFailed:
			status.Failed++
		case GenerationStatusCancelled:
			status.Cancelled++
		}
		status.Items = append(status.Items, item.Clone())
	}
	return status
}
