package worker

import (
	"context"

	"github.com/hibiken/asynq"

	"alttext/internal/platform/tasks"
)

// ScanHandler processes one queued scan task.
type ScanHandler func(ctx context.Context, task *asynq.Task) error

// NewMux builds the asynq mux with the engine's task handlers registered.
func NewMux(handleScan ScanHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TaskTypeScan, handleScan)
	return mux
}
