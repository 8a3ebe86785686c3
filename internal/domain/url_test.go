package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want URLKind
	}{
		{"youtube watch", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", URLYouTube},
		{"youtube shorts", "https://youtube.com/shorts/abc123", URLYouTube},
		{"youtube mobile", "https://m.youtube.com/watch?v=abc", URLYouTube},
		{"youtu.be short link", "https://youtu.be/dQw4w9WgXcQ", URLYouTube},
		{"youtube channel page is not a video", "https://www.youtube.com/@somechannel", URLHTTPDirect},
		{"github repo", "https://github.com/uomlabs/uom", URLGitHubRepo},
		{"github repo with tree path", "https://github.com/uomlabs/uom/tree/main/internal", URLGitHubRepo},
		{"github profile is not a repo", "https://github.com/uomlabs", URLHTTPDirect},
		{"google drive file link", "https://drive.google.com/file/d/FILEID/view", URLGoogleDrive},
		{"google drive uc link", "https://drive.google.com/uc?id=FILEID", URLGoogleDrive},
		{"direct video", "https://cdn.example.com/clip.mp4", URLDirectVideo},
		{"direct video uppercase ext", "https://cdn.example.com/CLIP.MKV", URLDirectVideo},
		{"plain http download", "https://example.com/report.pdf", URLHTTPDirect},
		{"local file", "file:///data/uploads/scan.tif", URLLocalFile},
		{"ftp scheme", "ftp://host/file.bin", URLUnknown},
		{"empty", "", URLUnknown},
		{"garbage", "://not-a-url", URLUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyURL(tt.url))
		})
	}
}

func TestIsGitHubRepoURL(t *testing.T) {
	assert.True(t, IsGitHubRepoURL("https://github.com/uomlabs/uom"))
	assert.False(t, IsGitHubRepoURL("https://gitlab.com/group/project"))
	assert.False(t, IsGitHubRepoURL("https://github.com/"))
}
