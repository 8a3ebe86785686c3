package decision

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/uomlabs/uom/internal/domain"
)

// Fallback decisions carry this confidence and source. The orchestrator must
// behave correctly with the heuristics alone, so they are part of the core
// contract rather than a best-effort extra.
const fallbackConfidence = 0.7

// binaryMimeTypes are treated as executable binaries for triage.
var binaryMimeTypes = map[string]bool{
	"application/x-msdownload":                      true,
	"application/x-executable":                      true,
	"application/x-elf":                             true,
	"application/x-sharedlib":                       true,
	"application/x-mach-binary":                     true,
	"application/x-dosexec":                         true,
	"application/vnd.microsoft.portable-executable": true,
}

// binaryExtensions are treated as executable binaries for triage.
var binaryExtensions = map[string]bool{
	".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".bin": true, ".msi": true, ".sys": true, ".scr": true, ".com": true,
}

// archiveMimeTypes are containers the gate can fan out.
var archiveMimeTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/x-tar":            true,
	"application/gzip":             true,
	"application/x-gzip":           true,
	"application/x-bzip2":          true,
	"application/x-xz":             true,
	"application/x-7z-compressed":  true,
	"application/x-rar-compressed": true,
	"application/vnd.rar":          true,
}

// IsKnownBinary reports whether the file looks like an executable binary by
// MIME type or extension.
func IsKnownBinary(file domain.FileContext) bool {
	if binaryMimeTypes[file.MimeType] {
		return true
	}
	return binaryExtensions[strings.ToLower(filepath.Ext(file.Filename))]
}

// IsArchive reports whether the MIME type is a fan-out capable container.
func IsArchive(mimeType string) bool {
	return archiveMimeTypes[mimeType]
}

// fallbackTriage picks the sandbox depth without an LLM: binaries get the
// full tier3 toolchain, archives a tier2 scan, everything else a fast tier1
// pass.
func fallbackTriage(req domain.DecisionRequest) domain.TriageDecision {
	switch {
	case IsKnownBinary(req.File):
		return domain.TriageDecision{
			SandboxTier: domain.Tier3,
			Priority:    9,
			Tools:       []string{"magic_detect", "yara_full", "ghidra", "strings"},
			TimeoutMs:   (120 * time.Second).Milliseconds(),
			Reason:      "known binary type requires full analysis",
		}
	case IsArchive(req.File.MimeType):
		return domain.TriageDecision{
			SandboxTier: domain.Tier2,
			Priority:    7,
			Tools:       []string{"magic_detect", "yara_quick", "archive_scan"},
			TimeoutMs:   (60 * time.Second).Milliseconds(),
			Reason:      "archive requires member scanning",
		}
	default:
		return domain.TriageDecision{
			SandboxTier: domain.Tier1,
			Priority:    5,
			Tools:       []string{"magic_detect", "yara_quick"},
			TimeoutMs:   (30 * time.Second).Milliseconds(),
			Reason:      "standard static analysis",
		}
	}
}

// fallbackSecurity maps the sandbox verdict onto an action: malicious or
// critical blocks, high goes to review with a 24 hour expiry, everything
// else is allowed.
func fallbackSecurity(req domain.DecisionRequest) domain.SecurityDecision {
	sandbox := req.SandboxResult
	if sandbox == nil {
		return domain.SecurityDecision{
			Action: domain.ActionAllow,
			Reason: "no sandbox result available",
		}
	}

	switch {
	case sandbox.Security.IsMalicious || sandbox.Security.ThreatLevel == domain.ThreatCritical:
		return domain.SecurityDecision{
			Action: domain.ActionBlock,
			Reason: "sandbox reported malicious or critical threat",
		}
	case sandbox.Security.ThreatLevel == domain.ThreatHigh:
		expires := time.Now().Add(24 * time.Hour)
		return domain.SecurityDecision{
			Action:      domain.ActionReview,
			Reason:      "high threat level requires human review",
			ReviewQueue: "security-review",
			ExpiresAt:   &expires,
		}
	default:
		return domain.SecurityDecision{
			Action: domain.ActionAllow,
			Reason: "threat level within acceptable bounds",
		}
	}
}

// fallbackRoute picks a processing target: GitHub repos go to the repo
// ingester, then the sandbox's own highest-priority recommendation, then a
// classification-keyed default, with MageAgent as the universal fallthrough.
func fallbackRoute(req domain.DecisionRequest) domain.RouteDecision {
	if domain.IsGitHubRepoURL(req.File.OriginalURL) {
		return domain.RouteDecision{
			TargetService: domain.ServiceGitHubManager,
			Method:        "repo_ingestion",
			Priority:      5,
			Reason:        "github repository url",
		}
	}

	if req.SandboxResult != nil && len(req.SandboxResult.Recommendations) > 0 {
		best := req.SandboxResult.Recommendations[0]
		for _, rec := range req.SandboxResult.Recommendations[1:] {
			if rec.Priority > best.Priority {
				best = rec
			}
		}
		return domain.RouteDecision{
			TargetService: domain.TargetService(best.TargetService),
			Method:        best.Method,
			Priority:      best.Priority,
			Reason:        "sandbox recommendation: " + best.Reason,
		}
	}

	classification := domain.ClassUnknown
	format := ""
	if req.SandboxResult != nil {
		classification = req.SandboxResult.Classification.Category
		format = strings.ToLower(req.SandboxResult.Classification.Format)
	}

	switch classification {
	case domain.ClassBinary:
		return domain.RouteDecision{TargetService: domain.ServiceCyberAgent, Method: "binary_analysis", Priority: 5, Reason: "binary classification"}
	case domain.ClassGeo, domain.ClassPointcloud:
		return domain.RouteDecision{TargetService: domain.ServiceGeoAgent, Method: "geospatial_processing", Priority: 5, Reason: "geospatial classification"}
	case domain.ClassMedia:
		if isVideoFormat(format) || strings.HasPrefix(req.File.MimeType, "video/") {
			return domain.RouteDecision{TargetService: domain.ServiceVideoAgent, Method: "video_processing", Priority: 5, Reason: "video media classification"}
		}
		return domain.RouteDecision{TargetService: domain.ServiceMageAgent, Method: "dynamic_processing", Priority: 5, Reason: "non-video media classification"}
	case domain.ClassDocument:
		return domain.RouteDecision{TargetService: domain.ServiceFileProcess, Method: "document_extraction", Priority: 5, Reason: "document classification"}
	default:
		return domain.RouteDecision{TargetService: domain.ServiceMageAgent, Method: "dynamic_processing", Priority: 5, Reason: "no specialized processor matched"}
	}
}

// isVideoFormat reports whether a detected format string names a video
// container or codec.
func isVideoFormat(format string) bool {
	switch format {
	case "mp4", "mov", "avi", "mkv", "webm", "mpeg", "h264", "h265", "av1":
		return true
	default:
		return strings.Contains(format, "video")
	}
}

// fallbackPostProcess stores successful results in the graph and relational
// sinks and learns the pattern; failures keep only the relational audit row.
func fallbackPostProcess(req domain.DecisionRequest) domain.PostProcessDecision {
	if req.ProcessingOK {
		return domain.PostProcessDecision{
			StoreIn:            []domain.StorageDestination{domain.StoreGraphRAG, domain.StorePostgres},
			IndexForSearch:     true,
			GenerateEmbeddings: true,
			LearnPattern:       true,
			Reason:             "successful processing stored for retrieval",
		}
	}
	return domain.PostProcessDecision{
		StoreIn: []domain.StorageDestination{domain.StorePostgres},
		Reason:  "failed processing kept for audit only",
	}
}
