package artifact

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zendrive/zendrive-monitor/internal/eventlog"
)

// startCleanupScheduler starts the daily cleanup scheduler.
func (u *Uploader) startCleanupScheduler() {
	go func() {
		for {
			// Calculate duration until next 03:00
			now := time.Now()
			next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, now.Location())
			if now.After(next) {
				next = next.Add(24 * time.Hour)
			}
			duration := next.Sub(now)

			slog.Info("cleanup scheduler: next run scheduled", "at", next.Format(time.DateTime))

			select {
			case <-time.After(duration):
				u.runCleanup()
			case <-u.stopCh:
				slog.Info("cleanup scheduler stopped")
				return
			}
		}
	}()
}

// runCleanup removes expired local recordings and S3 objects.
func (u *Uploader) runCleanup() {
	snap := u.cfg.Snapshot()
	if snap.ArtifactsRetentionDays <= 0 {
		return // Keep forever
	}

	slog.Info("cleanup: starting daily cleanup", "retention_days", snap.ArtifactsRetentionDays)

	cutoff := time.Now().AddDate(0, 0, -snap.ArtifactsRetentionDays)
	u.cleanupLocalFiles(snap.RecordingsDir, cutoff)
	if snap.HasArtifacts() {
		u.cleanupS3Files(snap.ArtifactsBucket, snap.ArtifactsPrefix, cutoff)
	}

	slog.Info("cleanup: daily cleanup completed")
}

// cleanupLocalFiles removes local recordings older than the cutoff.
func (u *Uploader) cleanupLocalFiles(dir string, cutoff time.Time) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cleanup: failed to read recordings directory", "path", dir, "error", err)
		}
		return
	}

	var deleted int
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".wav" {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("cleanup: failed to delete local file", "path", path, "error", err)
		} else {
			deleted++
			slog.Debug("cleanup: deleted local file", "file", entry.Name())
		}
	}

	if deleted > 0 {
		slog.Info("cleanup: deleted local files", "count", deleted)
		u.logCleanup(deleted, "local")
	}
}

// cleanupS3Files removes S3 objects older than the cutoff.
func (u *Uploader) cleanupS3Files(bucket, prefix string, cutoff time.Time) {
	client, err := u.getOrCreateClient()
	if err != nil {
		slog.Warn("cleanup: no S3 client available", "error", err)
		return
	}

	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		5*time.Minute,
		errors.New("s3 cleanup timeout"),
	)
	defer cancel()

	var deleted int
	var continuationToken *string

	for {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
		}
		if prefix != "" {
			input.Prefix = aws.String(prefix + "/")
		}
		if continuationToken != nil {
			input.ContinuationToken = continuationToken
		}

		output, err := client.ListObjectsV2(ctx, input)
		if err != nil {
			slog.Warn("cleanup: failed to list S3 objects", "bucket", bucket, "error", err)
			return
		}

		for _, obj := range output.Contents {
			if obj.LastModified == nil || obj.LastModified.After(cutoff) {
				continue
			}

			key := aws.ToString(obj.Key)
			_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(bucket),
				Key:    obj.Key,
			})
			if err != nil {
				slog.Warn("cleanup: failed to delete S3 object", "key", key, "error", err)
			} else {
				deleted++
				slog.Debug("cleanup: deleted S3 object", "key", key)
			}
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	if deleted > 0 {
		slog.Info("cleanup: deleted S3 objects", "count", deleted)
		u.logCleanup(deleted, "s3")
	}
}

func (u *Uploader) logCleanup(filesDeleted int, storageType string) {
	if u.events == nil {
		return
	}
	if err := u.events.LogArtifact(eventlog.CleanupCompleted, "", "", "", 0, filesDeleted, storageType); err != nil {
		slog.Warn("failed to log cleanup event", "error", err)
	}
}
