package store

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is one top-level user request.
type Task struct {
	ID          string
	Input       string // opaque structured payload, caller-serialized
	TaskType    string
	Origin      string
	Status      TaskStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Metadata    map[string]string
}

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
)

// Execution is one attempt of a task.
type Execution struct {
	ID            string
	TaskID        string
	AttemptNumber int
	AgentID       string
	AgentType     string
	Status        ExecutionStatus
	StartedAt     time.Time
	CompletedAt   *time.Time
	Result        string
	Error         string
}

// ExecutionMetric is the durable row the learning engine reads its history
// from: one summarized outcome per execution.
type ExecutionMetric struct {
	ExecutionID      string
	AgentID          string
	TaskType         string
	Success          bool
	DurationMs       float64
	Cost             float64
	QualityScore     float64
	UserSatisfaction *float64
	Timestamp        time.Time
	Metadata         map[string]string
}

// SpanKind follows open tracing conventions.
type SpanKind string

const (
	SpanInternal SpanKind = "internal"
	SpanClient   SpanKind = "client"
	SpanServer   SpanKind = "server"
	SpanProducer SpanKind = "producer"
	SpanConsumer SpanKind = "consumer"
)

// StatusCode is a span's outcome status.
type StatusCode string

const (
	StatusOK    StatusCode = "OK"
	StatusError StatusCode = "ERROR"
	StatusUnset StatusCode = "UNSET"
)

// SpanStatus carries a status code and optional message.
type SpanStatus struct {
	Code    StatusCode
	Message string
}

// SpanLink references another span, e.g. a reward linked to the operation
// that earned it.
type SpanLink struct {
	TraceID    string            `json:"trace_id,omitempty"`
	SpanID     string            `json:"span_id"`
	LinkType   string            `json:"link_type,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SpanEvent is a timestamped annotation within a span's lifetime.
type SpanEvent struct {
	Name       string
	Timestamp  time.Time
	Attributes map[string]string
}

// Span is an operation measurement.
type Span struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	TaskID       string
	ExecutionID  string
	Name         string
	Kind         SpanKind
	StartTime    time.Time
	EndTime      *time.Time
	DurationMs   *int64
	Status       SpanStatus
	Attributes   map[string]string
	Resource     map[string]string
	Links        []SpanLink
	Tags         []string
	Events       []SpanEvent
}

// RewardFeedbackType classifies who provided a reward.
type RewardFeedbackType string

const (
	FeedbackUser      RewardFeedbackType = "user"
	FeedbackAutomated RewardFeedbackType = "automated"
	FeedbackExpert    RewardFeedbackType = "expert"
)

// Reward is delayed feedback attached to an operation span.
type Reward struct {
	ID              string
	OperationSpanID string
	Value           float64
	Dimensions      map[string]float64
	Feedback        string
	FeedbackType    RewardFeedbackType
	ProvidedBy      string
	ProvidedAt      time.Time
	Metadata        map[string]string
}

// PatternType classifies a learned generalization.
type PatternType string

const (
	PatternSuccess     PatternType = "success"
	PatternAntiPattern PatternType = "anti_pattern"
	PatternOptimization PatternType = "optimization"
)

// Complexity classifies a pattern's operational cost.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// PatternData is the structured body of a pattern: conditions under which
// it applies, the recommended action, expected improvement, and evidence.
type PatternData struct {
	Conditions          map[string]string `json:"conditions,omitempty"`
	RecommendationType  string            `json:"recommendation_type"`
	RecommendationValue string            `json:"recommendation_value"`
	ExpectedImprovement float64           `json:"expected_improvement"`
	Evidence            PatternEvidence   `json:"evidence"`
}

// PatternEvidence records the sample the pattern was derived from.
type PatternEvidence struct {
	SampleSize int     `json:"sample_size"`
	GroupSize  int     `json:"group_size"`
	SuccessRate float64 `json:"success_rate,omitempty"`
	FailureRate float64 `json:"failure_rate,omitempty"`
}

// Pattern is a learned generalization over historical metrics.
type Pattern struct {
	ID                  string
	Type                PatternType
	Confidence          float64
	Occurrences         int
	Data                PatternData
	SourceSpanIDs       []string
	AppliesToAgentType  string
	AppliesToTaskType   string
	AppliesToSkill      string
	FirstObserved       time.Time
	LastObserved        time.Time
	IsActive            bool
	Complexity          Complexity
	ConfigKeys          []string
	ContextMetadata     map[string]string
	// pattern-local running success rate, distinct from the group-level
	// rate captured at creation time in Data.Evidence.SuccessRate.
	RunningSuccessRate float64
	ObservationCount   int
}

// AdaptationType classifies the kind of configuration delta.
type AdaptationType string

const (
	AdaptConfig   AdaptationType = "config"
	AdaptPrompt   AdaptationType = "prompt"
	AdaptStrategy AdaptationType = "strategy"
	AdaptResource AdaptationType = "resource"
	AdaptSkill    AdaptationType = "skill"
)

// Adaptation is a derived configuration change.
type Adaptation struct {
	ID                 string
	PatternID          string
	Type               AdaptationType
	BeforeConfig        map[string]string
	AfterConfig         map[string]string
	AppliedToAgentID    string
	AppliedToTaskType   string
	AppliedToSkill      string
	AppliedAt           time.Time
	SuccessCount        int
	FailureCount        int
	AvgImprovement      float64
	IsActive            bool
	DeactivatedAt       *time.Time
	DeactivationReason  string
}

// PeriodType is the rollup granularity of an EvolutionStats window, derived
// from the span of the requested time range.
type PeriodType string

const (
	PeriodHourly  PeriodType = "hourly"
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// SkillStatsSummary is a per-skill rollup within an EvolutionStats window.
type SkillStatsSummary struct {
	Skill       string
	Uses        int
	SuccessRate float64
	AvgDuration float64
}

// EvolutionStats is a period-aggregated rollup of execution outcomes.
type EvolutionStats struct {
	AgentID          string
	PeriodType       PeriodType
	WindowStart      time.Time
	WindowEnd        time.Time
	TotalExecutions  int
	SuccessRate      float64
	AvgDurationMs    float64
	AvgCost          float64
	AvgQuality       float64
	PatternCount     int
	AdaptationCount  int
	ImprovementRate  float64
	SkillSummaries   []SkillStatsSummary
}

// SkillPerformanceCache is one materialized row per skill name, maintained
// by an insert-time trigger on spans.
type SkillPerformanceCache struct {
	Skill       string
	TotalUses   int
	Successes   int
	Failures    int
	SuccessRate float64
	AvgDuration float64
	LastUpdated time.Time
}

// ExperimentStatus is the lifecycle state of an ABExperiment.
type ExperimentStatus string

const (
	ExperimentDraft     ExperimentStatus = "draft"
	ExperimentRunning   ExperimentStatus = "running"
	ExperimentCompleted ExperimentStatus = "completed"
)

// ABExperiment describes a controlled experiment's configuration.
type ABExperiment struct {
	ID                string
	Name              string
	Variants          []string
	TrafficSplit      []float64
	SuccessMetric     string
	MinSampleSize     int
	SignificanceLevel float64
	Status            ExperimentStatus
	CreatedAt         time.Time
}

// ABAssignment records the deterministic variant assigned to a subject.
type ABAssignment struct {
	ExperimentID string
	SubjectID    string
	Variant      string
	AssignedAt   time.Time
}

// ABMetric is one append-only metric observation for a variant.
type ABMetric struct {
	ID           string
	ExperimentID string
	Variant      string
	SubjectID    string
	Value        float64
	Secondary    map[string]float64
	RecordedAt   time.Time
}
