package artifact

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zendrive/zendrive-monitor/internal/config"
	"github.com/zendrive/zendrive-monitor/internal/eventlog"
	"github.com/zendrive/zendrive-monitor/internal/notify"
)

const (
	// uploadQueueSize bounds the number of recordings waiting for upload.
	uploadQueueSize = 32
	// uploadTimeout bounds a single PutObject call.
	uploadTimeout = 5 * time.Minute
	// retryInterval is how often the retry queue is drained.
	retryInterval = time.Hour
	// MaxUploadRetryAge is the maximum age for retrying uploads.
	MaxUploadRetryAge = 24 * time.Hour
)

// uploadRequest represents a file to be uploaded to S3.
type uploadRequest struct {
	localPath string
	s3Key     string
	fileSize  int64
}

// pendingUpload tracks a failed upload for retry.
type pendingUpload struct {
	request      uploadRequest
	firstAttempt time.Time
	retryCount   int
	lastError    string
}

// Uploader uploads finished recordings to S3 and enforces retention.
type Uploader struct {
	cfg      *config.Config
	events   *eventlog.Logger
	notifier *notify.DeliveryNotifier

	queue  chan uploadRequest
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	retryQueue []pendingUpload
	client     *s3.Client
}

// NewUploader creates an Uploader. events and notifier may be nil.
func NewUploader(cfg *config.Config, events *eventlog.Logger, notifier *notify.DeliveryNotifier) *Uploader {
	return &Uploader{
		cfg:    cfg,
		events: events,
		queue:  make(chan uploadRequest, uploadQueueSize),
		stopCh: make(chan struct{}),

		notifier: notifier,
	}
}

// Start launches the upload worker, the retry loop and the cleanup scheduler.
func (u *Uploader) Start() {
	u.wg.Add(1)
	go u.uploadWorker()
	go u.retryLoop()
	u.startCleanupScheduler()
}

// Stop drains the queue and stops the background loops.
func (u *Uploader) Stop() {
	close(u.stopCh)
	u.wg.Wait()
}

// InvalidateClient clears the cached S3 client. Call when the artifact
// configuration changes.
func (u *Uploader) InvalidateClient() {
	u.mu.Lock()
	u.client = nil
	u.mu.Unlock()
}

// Enqueue queues a finished recording for upload. A no-op when S3 upload
// is not configured.
func (u *Uploader) Enqueue(localPath string) {
	snap := u.cfg.Snapshot()
	if !snap.HasArtifacts() {
		return
	}

	info, err := os.Stat(localPath)
	if err != nil {
		slog.Warn("failed to stat recording file", "path", localPath, "error", err)
		return
	}

	s3Key := u.generateS3Key(snap.ArtifactsPrefix, filepath.Base(localPath), info.ModTime())

	select {
	case u.queue <- uploadRequest{localPath: localPath, s3Key: s3Key, fileSize: info.Size()}:
		slog.Info("queued recording for upload", "file", filepath.Base(localPath))
		u.logArtifact(eventlog.UploadQueued, filepath.Base(localPath), s3Key, "", 0)
	default:
		slog.Warn("upload queue full", "file", filepath.Base(localPath))
	}
}

// generateS3Key builds prefix/YYYY/MM/filename.
func (u *Uploader) generateS3Key(prefix, filename string, when time.Time) string {
	key := when.UTC().Format("2006/01") + "/" + filename
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// uploadWorker processes the upload queue, draining remaining items on shutdown.
func (u *Uploader) uploadWorker() {
	defer u.wg.Done()

	for {
		select {
		case <-u.stopCh:
			// Drain remaining items before exiting
			for {
				select {
				case req := <-u.queue:
					u.uploadFile(req)
				default:
					return
				}
			}
		case req := <-u.queue:
			u.uploadFile(req)
		}
	}
}

// getOrCreateClient returns the cached S3 client, creating it if needed.
func (u *Uploader) getOrCreateClient() (*s3.Client, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.client != nil {
		return u.client, nil
	}

	s3cfg := BuildS3Config(u.cfg.Snapshot())
	if !s3cfg.IsConfigured() {
		return nil, errors.New("S3 is not configured")
	}

	client, err := createS3Client(s3cfg)
	if err != nil {
		return nil, err
	}
	u.client = client
	return client, nil
}

// uploadFile uploads one recording and deletes the local copy on success
// when retention is disabled locally.
func (u *Uploader) uploadFile(req uploadRequest) {
	if err := u.putObject(req); err != nil {
		slog.Error("upload failed", "s3_key", req.s3Key, "error", err)
		u.logArtifact(eventlog.UploadFailed, filepath.Base(req.localPath), req.s3Key, err.Error(), 0)
		u.addToRetryQueue(req, err.Error())
		return
	}

	slog.Info("upload completed", "s3_key", req.s3Key)
	u.logArtifact(eventlog.UploadCompleted, filepath.Base(req.localPath), req.s3Key, "", 0)
}

func (u *Uploader) putObject(req uploadRequest) error {
	ctx, cancel := context.WithTimeoutCause(
		context.Background(),
		uploadTimeout,
		errors.New("s3 upload timeout"),
	)
	defer cancel()

	file, err := os.Open(req.localPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close file after upload", "error", err)
		}
	}()

	client, err := u.getOrCreateClient()
	if err != nil {
		return err
	}

	bucket := u.cfg.Snapshot().ArtifactsBucket

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(req.s3Key),
		Body:          file,
		ContentLength: aws.Int64(req.fileSize),
		ContentType:   aws.String("audio/wav"),
	})
	return err
}

// addToRetryQueue adds a failed upload to the retry queue.
func (u *Uploader) addToRetryQueue(req uploadRequest, errMsg string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	// Prevent duplicates
	for _, p := range u.retryQueue {
		if p.request.localPath == req.localPath {
			return
		}
	}

	u.retryQueue = append(u.retryQueue, pendingUpload{
		request:      req,
		firstAttempt: time.Now(),
		retryCount:   0,
		lastError:    errMsg,
	})

	slog.Info("upload queued for retry", "file", filepath.Base(req.localPath))
}

// retryLoop periodically drains the retry queue.
func (u *Uploader) retryLoop() {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-u.stopCh:
			return
		case <-ticker.C:
			u.processRetryQueue()
		}
	}
}

// processRetryQueue attempts to upload all pending files.
func (u *Uploader) processRetryQueue() {
	u.mu.Lock()
	if len(u.retryQueue) == 0 {
		u.mu.Unlock()
		return
	}
	pending := make([]pendingUpload, len(u.retryQueue))
	copy(pending, u.retryQueue)
	u.retryQueue = nil
	u.mu.Unlock()

	now := time.Now()

	for i := range pending {
		p := &pending[i]

		if now.Sub(p.firstAttempt) > MaxUploadRetryAge {
			slog.Warn("upload abandoned after 24h",
				"file", filepath.Base(p.request.localPath), "attempts", p.retryCount+1)
			u.logArtifact(eventlog.UploadFailed, filepath.Base(p.request.localPath),
				p.request.s3Key, "exceeded 24h retry limit", p.retryCount)
			if u.notifier != nil {
				u.notifier.NotifyUploadAbandoned(notify.UploadAbandonedParams{
					Filename:   filepath.Base(p.request.localPath),
					S3Key:      p.request.s3Key,
					RetryCount: p.retryCount,
					LastError:  p.lastError,
				})
			}
			continue
		}

		p.retryCount++
		slog.Info("retrying upload",
			"file", filepath.Base(p.request.localPath), "attempt", p.retryCount)

		if err := u.putObject(p.request); err != nil {
			if os.IsNotExist(err) {
				slog.Warn("retry file no longer exists", "path", p.request.localPath)
				continue
			}
			p.lastError = err.Error()
			slog.Error("retry upload failed", "s3_key", p.request.s3Key, "error", err)
			u.logArtifact(eventlog.UploadFailed, filepath.Base(p.request.localPath),
				p.request.s3Key, err.Error(), p.retryCount)
			u.mu.Lock()
			u.retryQueue = append(u.retryQueue, *p)
			u.mu.Unlock()
			continue
		}

		slog.Info("retry upload completed", "s3_key", p.request.s3Key)
		u.logArtifact(eventlog.UploadCompleted, filepath.Base(p.request.localPath),
			p.request.s3Key, "", p.retryCount)
	}
}

func (u *Uploader) logArtifact(eventType eventlog.EventType, filename, s3Key, errMsg string, retryCount int) {
	if u.events == nil {
		return
	}
	if err := u.events.LogArtifact(eventType, filename, s3Key, errMsg, retryCount, 0, ""); err != nil {
		slog.Warn("failed to log artifact event", "error", err)
	}
}
