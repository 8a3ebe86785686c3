package domain

import "time"

// DecisionPoint identifies one of the four moments the decision engine is
// consulted.
type DecisionPoint string

const (
	PointInitialTriage      DecisionPoint = "initial_triage"
	PointSecurityAssessment DecisionPoint = "security_assessment"
	PointProcessingRoute    DecisionPoint = "processing_route"
	PointPostProcessing     DecisionPoint = "post_processing"
)

// DecisionSource records how a decision was produced.
type DecisionSource string

const (
	SourcePatternCache DecisionSource = "pattern_cache"
	SourceLLMPrimary   DecisionSource = "llm_primary"
	SourceLLMFallback  DecisionSource = "llm_fallback"
	SourceFastPath     DecisionSource = "fast_path"
)

// Decision is the generic envelope every decide call returns. The payload is
// a tagged variant keyed by Point.
type Decision[T any] struct {
	Point            DecisionPoint  `json:"decisionPoint"`
	Payload          T              `json:"decision"`
	Confidence       float64        `json:"confidence"`
	Reason           string         `json:"reason,omitempty"`
	DurationMs       int64          `json:"durationMs"`
	Source           DecisionSource `json:"source"`
	LearnFromOutcome bool           `json:"learnFromOutcome"`
	Alternatives     []Alternative  `json:"alternatives,omitempty"`
}

// Alternative is one rejected candidate decision.
type Alternative struct {
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// TriageDecision is the payload of the initial_triage point.
type TriageDecision struct {
	SandboxTier SandboxTier `json:"sandboxTier"`
	Priority    int         `json:"priority"` // 1..10
	TimeoutMs   int64       `json:"timeoutMs"`
	Tools       []string    `json:"tools"`
	Reason      string      `json:"reason,omitempty"`
}

// SecurityAction is what Stage 3 decides to do with a file.
type SecurityAction string

const (
	ActionAllow    SecurityAction = "allow"
	ActionBlock    SecurityAction = "block"
	ActionReview   SecurityAction = "review"
	ActionEscalate SecurityAction = "escalate"
)

// SecurityDecision is the payload of the security_assessment point.
type SecurityDecision struct {
	Action      SecurityAction `json:"action"`
	Reason      string         `json:"reason,omitempty"`
	ReviewQueue string         `json:"reviewQueue,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	NotifyUsers []string       `json:"notifyUsers,omitempty"`
}

// TargetService names a downstream processing service.
type TargetService string

const (
	ServiceCyberAgent    TargetService = "cyberagent"
	ServiceVideoAgent    TargetService = "videoagent"
	ServiceGeoAgent      TargetService = "geoagent"
	ServiceGitHubManager TargetService = "github-manager"
	ServiceMageAgent     TargetService = "mageagent"
	ServiceFileProcess   TargetService = "fileprocess"
)

// RouteDecision is the payload of the processing_route point.
type RouteDecision struct {
	TargetService TargetService  `json:"targetService"`
	Method        string         `json:"method"`
	Priority      int            `json:"priority"`
	Reason        string         `json:"reason,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
}

// StorageDestination names a post-processing storage sink.
type StorageDestination string

const (
	StorePostgres StorageDestination = "postgres"
	StoreQdrant   StorageDestination = "qdrant"
	StoreGraphRAG StorageDestination = "graphrag"
)

// PostProcessDecision is the payload of the post_processing point.
type PostProcessDecision struct {
	StoreIn            []StorageDestination `json:"storeIn"`
	IndexForSearch     bool                 `json:"indexForSearch"`
	GenerateEmbeddings bool                 `json:"generateEmbeddings"`
	NotifyUser         bool                 `json:"notifyUser"`
	LearnPattern       bool                 `json:"learnPattern"`
	Reason             string               `json:"reason,omitempty"`
}

// DecisionRequest is the context handed to every decide call.
type DecisionRequest struct {
	File          FileContext            `json:"file"`
	User          UserContext            `json:"user"`
	OrgPolicies   OrgSecurityPolicy      `json:"orgPolicies,omitempty"`
	SandboxResult *SandboxAnalysisResult `json:"sandboxResult,omitempty"`
	ProcessingOK  bool                   `json:"processingOk,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
}
