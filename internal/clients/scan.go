package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// ScanClient is the scan protocol every long-running downstream service
// implements: submit work, poll status, cancel.
type ScanClient interface {
	Submit(ctx context.Context, request any) (*SubmitResponse, error)
	Status(ctx context.Context, jobID string) (*StatusResponse, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
}

// scanService implements ScanClient over a serviceClient with conventional
// endpoint paths.
type scanService struct {
	*serviceClient
	submitPath string
}

func newScanService(sc *serviceClient, submitPath string) *scanService {
	return &scanService{serviceClient: sc, submitPath: submitPath}
}

// Submit enqueues work on the downstream service.
func (s *scanService) Submit(ctx context.Context, request any) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := s.postJSON(ctx, s.submitPath, request, &resp); err != nil {
		return nil, err
	}
	if resp.JobID == "" {
		return nil, fmt.Errorf("%s submit returned no job ID", s.name)
	}
	return &resp, nil
}

// Status polls the downstream job state.
func (s *scanService) Status(ctx context.Context, jobID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := s.getJSON(ctx, "/v1/jobs/"+jobID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel requests best-effort cancellation of the downstream job.
func (s *scanService) Cancel(ctx context.Context, jobID string) (bool, error) {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := s.postJSON(ctx, "/v1/jobs/"+jobID+"/cancel", nil, &resp); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

// PollScan drives a scan-protocol job to completion: submit, then poll status
// at the client's interval until a terminal state or the timeout. On timeout
// the remote job is cancelled best-effort and ErrPollTimeout is returned.
func PollScan(ctx context.Context, client ScanClient, request any, interval, timeout time.Duration, logger *slog.Logger) (json.RawMessage, error) {
	submitted, err := client.Submit(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("submitting scan job: %w", err)
	}

	if interval <= 0 {
		interval = DefaultScanPollInterval
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelRemote(client, submitted.JobID, logger)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			cancelRemote(client, submitted.JobID, logger)
			return nil, fmt.Errorf("%w after %s (remote job %s)", ErrPollTimeout, timeout, submitted.JobID)
		}

		status, err := client.Status(ctx, submitted.JobID)
		if err != nil {
			// Transient poll failure; the next tick retries. The breaker
			// inside the HTTP client already tracks downstream health.
			logger.Warn("status poll failed",
				slog.String("remote_job_id", submitted.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch status.Status {
		case ScanCompleted:
			return status.Result, nil
		case ScanFailed:
			if status.Error != "" {
				return nil, fmt.Errorf("%w: %s", ErrRemoteJobFailed, status.Error)
			}
			return nil, ErrRemoteJobFailed
		case ScanCancelled:
			return nil, ErrRemoteJobCancelled
		}
	}
}

// cancelRemote attempts to cancel a remote job with a short detached context.
func cancelRemote(client ScanClient, jobID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.Cancel(ctx, jobID); err != nil {
		logger.Warn("remote cancel failed",
			slog.String("remote_job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// PollAnalyze resolves a synchronous analyze response. When the service
// returned a poll URL the result is polled at the analyze interval for up to
// the analyze timeout.
func PollAnalyze(ctx context.Context, sc *serviceClient, resp *AnalyzeResponse) (json.RawMessage, error) {
	if !resp.Async() {
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRemoteJobFailed, resp.Error)
		}
		return resp.Result, nil
	}

	deadline := time.Now().Add(DefaultAnalyzePollTimeout)
	interval := sc.pollInterval
	if interval <= 0 {
		interval = DefaultAnalyzePollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s (task %s)", ErrPollTimeout, DefaultAnalyzePollTimeout, resp.TaskID)
		}

		var poll AnalyzeResponse
		if err := sc.getJSON(ctx, resp.PollURL, &poll); err != nil {
			sc.logger.Warn("analyze poll failed",
				slog.String("task_id", resp.TaskID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch poll.Status {
		case "completed":
			return poll.Result, nil
		case "failed":
			if poll.Error != "" {
				return nil, fmt.Errorf("%w: %s", ErrRemoteJobFailed, poll.Error)
			}
			return nil, ErrRemoteJobFailed
		}
	}
}
