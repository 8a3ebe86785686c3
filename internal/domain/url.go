package domain

import (
	"net/url"
	"path"
	"strings"
)

// URLKind classifies an inbound URL for dispatch.
type URLKind string

const (
	URLYouTube     URLKind = "youtube"
	URLGitHubRepo  URLKind = "github_repo"
	URLGoogleDrive URLKind = "google_drive"
	URLDirectVideo URLKind = "direct_video"
	URLHTTPDirect  URLKind = "http_direct"
	URLLocalFile   URLKind = "local_file"
	URLUnknown     URLKind = "unknown"
)

// videoExtensions are treated as directly downloadable video.
var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".webm": true, ".m4v": true, ".flv": true, ".wmv": true,
}

// ClassifyURL detects the kind of an inbound URL. The result decides whether
// the dispatch gate short-circuits to a specialized service before the
// orchestrator is engaged.
func ClassifyURL(raw string) URLKind {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URLUnknown
	}

	u, err := url.Parse(raw)
	if err != nil {
		return URLUnknown
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return URLLocalFile
	case "http", "https":
	default:
		return URLUnknown
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	p := u.EscapedPath()

	switch host {
	case "youtube.com", "m.youtube.com":
		if strings.HasPrefix(p, "/watch") || strings.HasPrefix(p, "/shorts/") || strings.HasPrefix(p, "/short/") {
			return URLYouTube
		}
	case "youtu.be":
		if len(strings.Trim(p, "/")) > 0 {
			return URLYouTube
		}
	case "github.com":
		// A repository URL has at least owner and repo path segments.
		segments := strings.Split(strings.Trim(p, "/"), "/")
		if len(segments) >= 2 && segments[0] != "" && segments[1] != "" {
			return URLGitHubRepo
		}
	case "drive.google.com", "docs.google.com":
		if strings.HasPrefix(p, "/file/") || u.Query().Has("id") {
			return URLGoogleDrive
		}
	}

	if videoExtensions[strings.ToLower(path.Ext(p))] {
		return URLDirectVideo
	}
	return URLHTTPDirect
}

// IsGitHubRepoURL reports whether the URL points at a GitHub repository.
func IsGitHubRepoURL(raw string) bool {
	return ClassifyURL(raw) == URLGitHubRepo
}
