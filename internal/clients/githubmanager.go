package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/pkg/httpclient"
)

// GitHubManager connects repositories and drives their ingestion through the
// scan protocol. Connection is idempotent: resubmitting the same repository
// URL with ForceResync false reuses the existing connection and does not
// enqueue a new sync job.
type GitHubManager struct {
	*scanService
}

// NewGitHubManager creates the GitHubManager client.
func NewGitHubManager(cfg config.ServiceConfig, apiKey string, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *GitHubManager {
	sc := newServiceClient("github-manager", cfg, apiKey, breakers, logger)
	return &GitHubManager{scanService: newScanService(sc, "/v1/repos/sync")}
}

// RepoRequest describes one repository ingestion request.
type RepoRequest struct {
	RepoURL       string `json:"repoUrl"`
	ForceResync   bool   `json:"forceResync"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// RepoConnection is the connect-or-reuse acknowledgement.
type RepoConnection struct {
	ConnectionID    string `json:"connectionId"`
	IsNewConnection bool   `json:"isNewConnection"`
	SyncJobID       string `json:"syncJobId,omitempty"`
}

// RepoResult is the decoded ingestion output.
type RepoResult struct {
	ConnectionID    string         `json:"connectionId"`
	IsNewConnection bool           `json:"isNewConnection"`
	FilesIngested   int            `json:"filesIngested"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// NormalizeRepoURL canonicalizes a GitHub repository URL for idempotent
// connection keying: lowercased host, no trailing slash or .git suffix.
func NormalizeRepoURL(rawURL string) string {
	url := strings.TrimSpace(rawURL)
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")
	if i := strings.Index(url, "://"); i >= 0 {
		scheme := strings.ToLower(url[:i])
		rest := url[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			rest = strings.ToLower(rest[:j]) + rest[j:]
		} else {
			rest = strings.ToLower(rest)
		}
		url = scheme + "://" + rest
	}
	return url
}

// Connect establishes or reuses a repository connection. When the connection
// already exists and forceResync is false, no sync job is enqueued.
func (c *GitHubManager) Connect(ctx context.Context, repoURL string, forceResync bool, correlationID string) (*RepoConnection, error) {
	req := RepoRequest{
		RepoURL:       NormalizeRepoURL(repoURL),
		ForceResync:   forceResync,
		CorrelationID: correlationID,
	}

	var conn RepoConnection
	if err := c.postJSON(ctx, "/v1/repos/connect", req, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

// ProcessRepo connects the repository and, when a sync job was enqueued,
// waits for it to complete with progress reporting through the scan
// protocol.
func (c *GitHubManager) ProcessRepo(ctx context.Context, repoURL string, forceResync bool, correlationID string, timeout time.Duration) (*RepoResult, error) {
	conn, err := c.Connect(ctx, repoURL, forceResync, correlationID)
	if err != nil {
		return nil, fmt.Errorf("connecting repository: %w", err)
	}

	result := &RepoResult{
		ConnectionID:    conn.ConnectionID,
		IsNewConnection: conn.IsNewConnection,
	}

	// Existing connection without resync: nothing to wait for.
	if conn.SyncJobID == "" {
		return result, nil
	}

	raw, err := c.waitForSync(ctx, conn.SyncJobID, timeout)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		var synced RepoResult
		if err := json.Unmarshal(raw, &synced); err != nil {
			return nil, fmt.Errorf("decoding repo sync result: %w", err)
		}
		result.FilesIngested = synced.FilesIngested
		result.Metadata = synced.Metadata
	}
	return result, nil
}

// waitForSync polls an already-enqueued sync job to completion.
func (c *GitHubManager) waitForSync(ctx context.Context, syncJobID string, timeout time.Duration) (json.RawMessage, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelRemote(c, syncJobID, c.logger)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			cancelRemote(c, syncJobID, c.logger)
			return nil, fmt.Errorf("%w after %s (sync job %s)", ErrPollTimeout, timeout, syncJobID)
		}

		status, err := c.Status(ctx, syncJobID)
		if err != nil {
			c.logger.Warn("sync status poll failed",
				slog.String("sync_job_id", syncJobID),
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
