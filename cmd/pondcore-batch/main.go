// Command pondcore-batch runs one maintenance pass over the snapshot store:
// regenerate stale plan snapshots, prune rows past retention, validate
// coverage, and optionally export the refreshed plans as CSV artifacts.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"pondcore/internal/adapters/exports"
	"pondcore/internal/core"
	blobcore "pondcore/internal/infra/blob/core"
	blobfs "pondcore/internal/infra/blob/fs"
	blobmem "pondcore/internal/infra/blob/memory"
	blobs3 "pondcore/internal/infra/blob/s3"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("pondcore-batch failed: %v", err)
	}
}

func run() error {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	opts := []core.ServiceOption{
		core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("pondcore_batch_metrics")),
	}
	if raw := os.Getenv("PONDCORE_TRUST_CUTOVER"); raw != "" {
		cutover, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return fmt.Errorf("parse PONDCORE_TRUST_CUTOVER: %w", err)
		}
		opts = append(opts, core.WithTrustCutover(cutover))
	}
	cfg := core.ProjectionConfig{}
	if raw := os.Getenv("PONDCORE_HORIZON_WEEKS"); raw != "" {
		weeks, err := strconv.Atoi(raw)
		if err != nil || weeks <= 0 {
			return fmt.Errorf("invalid PONDCORE_HORIZON_WEEKS %q", raw)
		}
		cfg.HorizonWeeks = weeks
		opts = append(opts, core.WithProjectionConfig(cfg))
	}
	svc := core.NewService(store, opts...)

	var regenerated []string
	if planID := os.Getenv("PONDCORE_PLAN_ID"); planID != "" {
		result, err := svc.GenerateSnapshots(ctx, core.GenerateOptions{PlanID: planID, ForceRegenerate: true})
		if err != nil {
			return fmt.Errorf("generate snapshots for plan %s: %w", planID, err)
		}
		regenerated = append(regenerated, planID)
		log.Printf("plan %s version=%s created=%d updated=%d deleted=%d batches=%d elapsed=%s",
			planID, result.VersionID, result.Created, result.Updated, result.Deleted, result.Batches, result.Elapsed)
	} else {
		results, err := svc.RegenerateStale(ctx)
		if err != nil {
			return fmt.Errorf("regenerate stale plans: %w", err)
		}
		if len(results) == 0 {
			log.Printf("no stale plans")
		}
		for planID, result := range results {
			regenerated = append(regenerated, planID)
			log.Printf("plan %s version=%s created=%d updated=%d deleted=%d batches=%d elapsed=%s",
				planID, result.VersionID, result.Created, result.Updated, result.Deleted, result.Batches, result.Elapsed)
		}
	}

	retention := 0
	if raw := os.Getenv("PONDCORE_RETENTION_DAYS"); raw != "" {
		retention, err = strconv.Atoi(raw)
		if err != nil || retention < 0 {
			return fmt.Errorf("invalid PONDCORE_RETENTION_DAYS %q", raw)
		}
	}
	deleted, err := svc.CleanupOldSnapshots(ctx, retention)
	if err != nil {
		return fmt.Errorf("cleanup snapshots: %w", err)
	}
	log.Printf("retention cleanup removed %d rows", deleted)

	for _, planID := range regenerated {
		report, err := svc.ValidateSnapshots(ctx, planID)
		if err != nil {
			return fmt.Errorf("validate plan %s: %w", planID, err)
		}
		log.Printf("plan %s valid=%v rows=%d errors=%v warnings=%v",
			planID, report.IsValid, report.SnapshotCount, report.Errors, report.Warnings)
	}

	if driver := os.Getenv("PONDCORE_BLOB_DRIVER"); driver != "" && len(regenerated) > 0 {
		blobs, err := openBlobStore(ctx, driver)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		exporter := exports.NewExporter(store, blobs)
		for _, planID := range regenerated {
			info, err := exporter.ExportPlanCSV(ctx, planID, "pondcore-batch")
			if err != nil {
				return fmt.Errorf("export plan %s: %w", planID, err)
			}
			log.Printf("plan %s exported %d bytes to %s", planID, info.Size, info.Key)
		}
	}

	return nil
}

func openBlobStore(ctx context.Context, driver string) (blobcore.Store, error) {
	switch blobcore.Driver(driver) {
	case blobcore.DriverFilesystem:
		return blobfs.New(os.Getenv("PONDCORE_BLOB_FS_ROOT"))
	case blobcore.DriverMemory:
		return blobmem.New(), nil
	case blobcore.DriverS3:
		return blobs3.OpenFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
