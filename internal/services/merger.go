package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/scanmerge/internal/config"
	"github.com/Lllllllleong/scanmerge/internal/errs"
	"github.com/Lllllllleong/scanmerge/internal/gcp"
	"github.com/Lllllllleong/scanmerge/internal/jobs"
	"github.com/Lllllllleong/scanmerge/internal/merge"
	"github.com/Lllllllleong/scanmerge/internal/models"
	"github.com/Lllllllleong/scanmerge/internal/ocr"
	"github.com/Lllllllleong/scanmerge/internal/orchestrator"
	"github.com/Lllllllleong/scanmerge/internal/pipeline"
)

type MergerConfig struct {
	ProjectID        string
	Region           string
	OutputBucket     string
	CollectionName   string
	ManifestPrefix   string
	WorkflowID       string
	WorkflowLocation string
	OCREngine        string
	VertexModel      string
	ProfilesPath     string
	Workers          int
}

type MergerFunction struct {
	storageClient    *storage.Client
	executionsClient *executions.Client
	clients          *gcp.Clients
	store            jobs.Store
	ocr              ocr.Engine
	profiles         *config.Profiles
	config           MergerConfig
}

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

func loadMergerConfig() (MergerConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return MergerConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	workers, err := strconv.Atoi(gcp.GetEnv("WORKERS", "0"))
	if err != nil {
		return MergerConfig{}, fmt.Errorf("invalid WORKERS: %w", err)
	}
	cfg := MergerConfig{
		ProjectID:        projectID,
		Region:           gcp.GetEnv("REGION", "us-central1"),
		OutputBucket:     gcp.GetEnv("OUTPUT_BUCKET", ""),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "merge-jobs"),
		ManifestPrefix:   gcp.GetEnv("MANIFEST_PREFIX", "jobs/"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		OCREngine:        gcp.GetEnv("OCR_ENGINE", "tesseract"),
		VertexModel:      gcp.GetEnv("VERTEX_MODEL", "gemini-1.5-pro"),
		ProfilesPath:     gcp.GetEnv("PROFILES_PATH", ""),
		Workers:          workers,
	}
	if cfg.OutputBucket == "" {
		return MergerConfig{}, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}
	switch cfg.OCREngine {
	case "tesseract", "vertex", "none":
	default:
		return MergerConfig{}, fmt.Errorf("OCR_ENGINE must be tesseract, vertex or none, got %q", cfg.OCREngine)
	}
	return cfg, nil
}

func NewMerger(ctx context.Context) (*MergerFunction, error) {
	cfg, err := loadMergerConfig()
	if err != nil {
		return nil, err
	}
	clients, err := gcp.NewClients(ctx, gcp.ClientOptions{
		ProjectID:    cfg.ProjectID,
		Region:       cfg.Region,
		VertexModel:  cfg.VertexModel,
		UseVertex:    cfg.OCREngine == "vertex",
		UseWorkflows: cfg.WorkflowID != "",
	})
	if err != nil {
		return nil, err
	}
	profiles, err := loadProfiles(cfg.ProfilesPath)
	if err != nil {
		clients.Close()
		return nil, err
	}

	f := &MergerFunction{
		storageClient:    clients.Storage,
		executionsClient: clients.Executions,
		clients:          clients,
		store:            jobs.NewFirestoreStore(clients.Firestore, cfg.CollectionName),
		profiles:         profiles,
		config:           cfg,
	}
	switch cfg.OCREngine {
	case "vertex":
		f.ocr = ocr.NewVertexEngine(clients.Vertex.OCRModel, gcp.OCRUserPrompt)
	case "tesseract":
		workers := cfg.Workers
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		f.ocr = ocr.NewTesseractEngine(workers)
	}
	slog.Info("Merger logic initialized.", "ocrEngine", cfg.OCREngine, "workflowId", cfg.WorkflowID)
	return f, nil
}

func loadProfiles(path string) (*config.Profiles, error) {
	profiles, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	return profiles, nil
}

func (f *MergerFunction) Close() error {
	if closer, ok := f.ocr.(io.Closer); ok {
		closer.Close()
	}
	return f.clients.Close()
}

// Process handles one finalized manifest object.
func (f *MergerFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !isManifest(e.Name, f.config.ManifestPrefix) {
		logCtx.Info("Object is not a job manifest. Skipping.")
		return nil
	}
	logCtx.Info("Processing new job manifest.")

	data, err := gcp.ReadObject(ctx, f.storageClient, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to read manifest", "error", err)
		return err
	}
	manifestHash, err := jobs.Hash(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to hash manifest: %w", err)
	}
	logCtx = logCtx.With("manifestHash", manifestHash)

	existing, err := f.store.FindByHash(ctx, manifestHash)
	switch {
	case err == nil:
		logCtx.Info("Duplicate manifest detected. Skipping.", "existingJobId", existing.ID)
		return nil
	case !errors.Is(err, jobs.ErrNotFound):
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}

	job := &models.Job{
		ManifestHash: manifestHash,
		Source:       gcp.URI(e.Bucket, e.Name),
		Status:       models.StatusProcessing,
	}
	jobID, err := f.store.Create(ctx, job)
	if err != nil {
		logCtx.Error("Failed to create job record", "error", err)
		return err
	}
	logCtx = logCtx.With("jobId", jobID)
	logCtx.Info("Created job record.")

	var req models.MergeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return f.handleError(ctx, logCtx, jobID, "failed to parse manifest", errs.InvalidInput(e.Name, "manifest is not valid JSON", err))
	}
	opts, mode, err := buildOptions(req, f.profiles, f.config.Workers)
	if err != nil {
		return f.handleError(ctx, logCtx, jobID, "invalid manifest", err)
	}
	logCtx = logCtx.With("mode", mode.String(), "inputCount", len(req.Inputs))

	tempDir, err := os.MkdirTemp("", "pdf-merger-*")
	if err != nil {
		return f.handleError(ctx, logCtx, jobID, "failed to create temp dir", err)
	}
	defer os.RemoveAll(tempDir)

	inputs, err := f.downloadInputs(ctx, logCtx, req.Inputs, e.Bucket, tempDir)
	if err != nil {
		return f.handleError(ctx, logCtx, jobID, "failed to download inputs", err)
	}

	p := pipeline.New(pipeline.Config{OCR: f.ocr, Logger: logCtx})
	localOut := filepath.Join(tempDir, "output.pdf")
	res, err := orchestrator.New(p, logCtx).MergeAndProcess(ctx, inputs, opts, localOut, mode)
	if err != nil {
		f.writeReport(ctx, logCtx, req.Output, models.MergeReport{JobID: jobID, Status: models.StatusFailed, Error: err.Error()})
		return f.handleError(ctx, logCtx, jobID, "merge and process failed", err)
	}

	if err := f.uploadFile(ctx, localOut, req.Output); err != nil {
		return f.handleError(ctx, logCtx, jobID, "failed to upload output", err)
	}
	outputURI := gcp.URI(f.config.OutputBucket, req.Output)

	status := finalStatus(res.Warnings)
	f.writeReport(ctx, logCtx, req.Output, models.MergeReport{
		JobID:    jobID,
		Status:   status,
		Output:   outputURI,
		Pages:    res.PageCount,
		Stages:   pipeline.EnabledStages(opts),
		Warnings: res.Warnings,
	})

	update := models.JobUpdate{Status: status, PageCount: res.PageCount, Output: outputURI, Warnings: res.Warnings}
	if f.executionsClient != nil {
		execID, err := f.triggerWorkflow(ctx, logCtx, models.WorkflowArgument{JobID: jobID, OutputURI: outputURI, PageCount: res.PageCount})
		if err != nil {
			return f.handleError(ctx, logCtx, jobID, "failed to trigger workflow execution", err)
		}
		update.WorkflowExecutionID = execID
	}
	if err := f.store.Update(ctx, jobID, update); err != nil {
		logCtx.Error("Failed to record job completion", "error", err)
		return err
	}
	logCtx.Info("Job complete.", "status", status, "pageCount", res.PageCount, "warnings", len(res.Warnings))
	return nil
}

func isManifest(name, prefix string) bool {
	return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".report.json")
}

// buildOptions layers the manifest's explicit options over its profile.
func buildOptions(req models.MergeRequest, profiles *config.Profiles, workers int) (pipeline.Options, merge.Mode, error) {
	opts := pipeline.DefaultOptions()
	if len(req.Inputs) == 0 {
		return opts, 0, errs.InvalidInput("", "manifest lists no inputs", nil)
	}
	if req.Output == "" || !strings.HasSuffix(strings.ToLower(req.Output), ".pdf") {
		return opts, 0, errs.InvalidInput("", fmt.Sprintf("manifest output %q must name a .pdf object", req.Output), nil)
	}
	mode, err := merge.ParseMode(req.Mode)
	if err != nil {
		return opts, 0, errs.InvalidInput("", err.Error(), nil)
	}
	explicit, err := config.Overlay(&opts, req.Options)
	if err != nil {
		return opts, 0, errs.ConfigConflict(err.Error())
	}
	if req.Profile != "" {
		if err := profiles.Apply(req.Profile, &opts, explicit); err != nil {
			return opts, 0, errs.ConfigConflict(err.Error())
		}
	}
	if workers > 0 && !explicit["workers"] {
		opts.Workers = workers
	}
	if err := opts.Validate(); err != nil {
		return opts, 0, err
	}
	return opts, mode, nil
}

func finalStatus(warnings []errs.Warning) string {
	if len(warnings) > 0 {
		return models.StatusSucceededWithWarnings
	}
	return models.StatusSucceeded
}

func reportName(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + ".report.json"
}

func (f *MergerFunction) downloadInputs(ctx context.Context, logCtx *slog.Logger, refs []models.InputRef, defaultBucket, dir string) ([]orchestrator.InputSpec, error) {
	logCtx.Info("Starting concurrent download of inputs.", "inputCount", len(refs))
	specs, objects, err := planDownloads(refs, defaultBucket, dir)
	if err != nil {
		return nil, err
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, obj := range objects {
		eg.Go(func() error {
			if err := gcp.DownloadObject(gctx, f.storageClient, obj.bucket, obj.name, specs[i].Path); err != nil {
				return errs.InvalidInput(refs[i].URI, "cannot download input", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	logCtx.Info("All inputs downloaded.")
	return specs, nil
}

type gcsObject struct {
	bucket, name string
}

// planDownloads resolves every input URI and its local path before any
// download starts.
func planDownloads(refs []models.InputRef, defaultBucket, dir string) ([]orchestrator.InputSpec, []gcsObject, error) {
	specs := make([]orchestrator.InputSpec, len(refs))
	objects := make([]gcsObject, len(refs))
	for i, ref := range refs {
		bucket, name, err := gcp.ParseURI(ref.URI, defaultBucket)
		if err != nil {
			return nil, nil, errs.InvalidInput(ref.URI, "bad input uri", err)
		}
		objects[i] = gcsObject{bucket: bucket, name: name}
		specs[i] = orchestrator.InputSpec{Path: filepath.Join(dir, fmt.Sprintf("input-%02d.pdf", i+1)), Reverse: ref.Reverse}
	}
	return specs, objects, nil
}

func (f *MergerFunction) writeReport(ctx context.Context, logCtx *slog.Logger, output string, report models.MergeReport) {
	if output == "" {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logCtx.Error("Failed to marshal report", "error", err)
		return
	}
	if err := gcp.SaveToGCSAtomically(ctx, f.storageClient.Bucket(f.config.OutputBucket), reportName(output), string(data)); err != nil {
		logCtx.Error("Failed to write report", "error", err)
	}
}

func (f *MergerFunction) triggerWorkflow(ctx context.Context, logCtx *slog.Logger, arg models.WorkflowArgument) (string, error) {
	logCtx.Info("Triggering workflow.")
	payloadBytes, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := f.executionsClient.CreateExecution(ctx, req)
	if err != nil {
		return "", err
	}
	return exec.GetName(), nil
}

func (f *MergerFunction) handleError(ctx context.Context, logCtx *slog.Logger, jobID, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr, "errorKind", errs.KindOf(originalErr))
	update := models.JobUpdate{
		Status:       models.StatusFailed,
		ErrorKind:    string(errs.KindOf(originalErr)),
		ErrorDetails: fmt.Sprintf("%s: %v", message, originalErr),
	}
	if err := f.store.Update(ctx, jobID, update); err != nil {
		logCtx.Error("CRITICAL: Failed to update job status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func (f *MergerFunction) uploadFile(ctx context.Context, localPath, destObject string) error {
	const maxRetries = 4
	var backoff = 1 * time.Second
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := func() error {
			localFileReader, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("could not open local file %s: %w", localPath, err)
			}
			defer localFileReader.Close()

			writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
			defer cancel()

			gcsWriter := f.storageClient.Bucket(f.config.OutputBucket).Object(destObject).NewWriter(writeCtx)
			gcsWriter.ContentType = "application/pdf"

			if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
				_ = gcsWriter.Close()
				return fmt.Errorf("io.Copy to GCS failed: %w", err)
			}
			if err := gcsWriter.Close(); err != nil {
				return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
			}
			return nil
		}()

		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", destObject,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", destObject, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", destObject, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", destObject, lastErr)
}
