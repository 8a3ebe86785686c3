package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uomlabs/uom/pkg/httpclient"
)

func TestNormalizeRepoURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://github.com/acme/widgets", "https://github.com/acme/widgets"},
		{"https://github.com/acme/widgets.git", "https://github.com/acme/widgets"},
		{"https://github.com/acme/widgets/", "https://github.com/acme/widgets"},
		{"HTTPS://GitHub.com/acme/Widgets", "https://github.com/acme/Widgets"},
		{"  https://github.com/acme/widgets.git ", "https://github.com/acme/widgets"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRepoURL(tt.in), tt.in)
	}
}

// fakeGitHubManager keys connections by repo URL and enqueues a sync job only
// for new connections or forced resyncs.
func fakeGitHubManager(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	connections := map[string]string{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/repos/connect":
			var req RepoRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			mu.Lock()
			id, known := connections[req.RepoURL]
			if !known {
				id = "conn-" + req.RepoURL[len(req.RepoURL)-7:]
				connections[req.RepoURL] = id
			}
			mu.Unlock()

			conn := RepoConnection{ConnectionID: id, IsNewConnection: !known}
			if !known || req.ForceResync {
				conn.SyncJobID = "sync-1"
			}
			_ = json.NewEncoder(w).Encode(conn)
		case "/v1/jobs/sync-1":
			_ = json.NewEncoder(w).Encode(StatusResponse{
				Status: ScanCompleted,
				Result: json.RawMessage(`{"filesIngested": 12}`),
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestGitHubManager_IdempotentConnect(t *testing.T) {
	srv := fakeGitHubManager(t)
	defer srv.Close()

	gm := NewGitHubManager(testServiceConfig(srv.URL), "", httpclient.NewCircuitBreakerManager(), testLogger())
	ctx := context.Background()

	first, err := gm.ProcessRepo(ctx, "https://github.com/acme/widgets.git", false, "c-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, first.IsNewConnection)
	assert.Equal(t, 12, first.FilesIngested)

	// Same repo with a trailing slash resolves to the same connection and
	// does not re-enqueue a sync.
	second, err := gm.ProcessRepo(ctx, "https://github.com/acme/widgets/", false, "c-2", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, second.IsNewConnection)
	assert.Equal(t, first.ConnectionID, second.ConnectionID)
	assert.Zero(t, second.FilesIngested)
}

func TestGitHubManager_ForceResync(t *testing.T) {
	srv := fakeGitHubManager(t)
	defer srv.Close()

	gm := NewGitHubManager(testServiceConfig(srv.URL), "", httpclient.NewCircuitBreakerManager(), testLogger())
	ctx := context.Background()

	_, err := gm.ProcessRepo(ctx, "https://github.com/acme/widgets", false, "c-1", 5*time.Second)
	require.NoError(t, err)

	resynced, err := gm.ProcessRepo(ctx, "https://github.com/acme/widgets", true, "c-2", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, resynced.IsNewConnection)
	assert.Equal(t, 12, resynced.FilesIngested)
}
