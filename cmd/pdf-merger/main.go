package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/scanmerge/internal/services"
)

var (
	mergerInstance *services.MergerFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// A manifest landing in the jobs bucket is routed here.
	functions.CloudEvent("MergeAndProcess", mergeAndProcess)
}

// main is required by the Go Functions Framework.
func main() {}

// mergeAndProcess is the Cloud Function entry point.
func mergeAndProcess(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		mergerInstance, initErr = services.NewMerger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Errors are logged with context inside Process; returning one marks the
	// invocation as failed.
	return mergerInstance.Process(ctx, gcsEvent)
}
