// Package bootstrap imports curated seed patterns for an agent with
// insufficient history, from a path-validated JSON file.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/store/errs"
)

// MaxFileSize bounds the bootstrap JSON file at 10 MiB.
const MaxFileSize = 10 << 20

// MinTaskCountForSkip is the total-task threshold at or above which importing
// becomes a no-op: an agent with enough history doesn't need seed patterns.
const MinTaskCountForSkip = 10

// File is the top-level bootstrap document.
type File struct {
	Version     string        `json:"version"`
	Description string        `json:"description"`
	Patterns    []FilePattern `json:"patterns"`
}

// FilePattern is one seed pattern entry.
type FilePattern struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Sequence         []string          `json:"sequence"`
	Confidence       float64           `json:"confidence"`
	ObservationCount int               `json:"observationCount"`
	SuccessCount     int               `json:"successCount"`
	SuccessRate      float64           `json:"successRate"`
	TaskType         string            `json:"taskType"`
	Conditions       FileConditions    `json:"conditions"`
	Action           FileAction        `json:"action"`
}

// FileConditions is the optional applicability condition bag.
type FileConditions struct {
	TaskComplexity       string   `json:"taskComplexity,omitempty"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty"`
	Context              map[string]string `json:"context,omitempty"`
}

// FileAction is the recommended action a pattern encodes.
type FileAction struct {
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// AgentRegistry reports whether an agent id is known, so sequence steps can
// be validated against it.
type AgentRegistry interface {
	IsRegistered(agentID string) bool
}

// StaticRegistry is an AgentRegistry backed by a fixed id set, suitable for
// single-operator deployments where agent ids are assigned out of band
// (e.g. from the evolution catalog's agent_types keys).
type StaticRegistry struct {
	ids map[string]bool
}

// NewStaticRegistry builds a StaticRegistry containing ids.
func NewStaticRegistry(ids []string) *StaticRegistry {
	r := &StaticRegistry{ids: make(map[string]bool, len(ids))}
	for _, id := range ids {
		r.ids[id] = true
	}
	return r
}

// IsRegistered reports whether agentID was included at construction.
func (r *StaticRegistry) IsRegistered(agentID string) bool {
	return r.ids[agentID]
}

// TaskCounter reports an agent's total task count for the skip policy.
type TaskCounter interface {
	CountTasksForAgent(agentID string) (int, error)
}

// Loader imports bootstrap files into the store.
type Loader struct {
	store    *store.Store
	registry AgentRegistry
	counter  TaskCounter
	baseDir  string
}

// New creates a Loader. baseDir allow-lists the directory bootstrap files
// must resolve under.
func New(st *store.Store, registry AgentRegistry, counter TaskCounter, baseDir string) *Loader {
	return &Loader{store: st, registry: registry, counter: counter, baseDir: baseDir}
}

// ImportResult reports what Import did.
type ImportResult struct {
	Imported []string
	Rejected map[string]string
	SkippedNoOp bool
}

// Import loads path for agentID. It is a no-op when agentID's total task
// count is already ≥ MinTaskCountForSkip.
func (l *Loader) Import(agentID, path string) (*ImportResult, error) {
	count, err := l.counter.CountTasksForAgent(agentID)
	if err != nil {
		return nil, err
	}
	if count >= MinTaskCountForSkip {
		log.Printf("[BOOTSTRAP] skipping import for agent %s: task count %d >= %d", agentID, count, MinTaskCountForSkip)
		return &ImportResult{SkippedNoOp: true}, nil
	}

	file, err := l.load(path)
	if err != nil {
		return nil, err
	}
	if err := checkMajorCompatible(file.Version); err != nil {
		return nil, err
	}

	result := &ImportResult{Rejected: make(map[string]string)}
	for _, fp := range file.Patterns {
		if reason := l.validate(fp); reason != "" {
			result.Rejected[fp.ID] = reason
			log.Printf("[BOOTSTRAP] rejected pattern %s: %s", fp.ID, reason)
			continue
		}

		p := toStorePattern(agentID, fp)
		if _, err := l.store.UpsertPattern(p); err != nil {
			result.Rejected[fp.ID] = err.Error()
			continue
		}
		result.Imported = append(result.Imported, fp.ID)
	}

	log.Printf("[BOOTSTRAP] imported %d/%d patterns for agent %s", len(result.Imported), len(file.Patterns), agentID)
	return result, nil
}

func (l *Loader) load(path string) (*File, error) {
	if err := validatePath(path, l.baseDir); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.Storagef(err, "stat bootstrap file %q", path)
	}
	if info.Size() > MaxFileSize {
		return nil, errs.Validationf("path", nil, "bootstrap file %q exceeds %d bytes", path, MaxFileSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Storagef(err, "open bootstrap file %q", path)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, errs.Storagef(err, "read bootstrap file %q", path)
	}

	var doc File
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errs.Validationf("path", nil, "malformed bootstrap JSON: %v", err)
	}
	return &doc, nil
}

// validatePath rejects any bootstrap file path that escapes baseDir, via
// ".." traversal or an absolute jump-out. Comparison goes through
// filepath.Rel rather than a string prefix check, so a sibling directory
// that merely shares baseDir as a string prefix (e.g. "/data/evolution-2"
// against base "/data/evolution") is correctly rejected.
func validatePath(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errs.Validationf("path", nil, "cannot resolve path %q: %v", path, err)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return errs.Validationf("path", nil, "cannot resolve base dir %q: %v", baseDir, err)
	}
	rel, err := filepath.Rel(absBase, abs)
	if err != nil {
		return errs.Validationf("path", nil, "path %q is not under base directory %q", path, baseDir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errs.Validationf("path", nil, "path %q escapes base directory %q", path, baseDir)
	}
	return nil
}

// checkMajorCompatible matches only the major version component.
func checkMajorCompatible(version string) error {
	const supportedMajor = "1"
	parts := strings.SplitN(version, ".", 2)
	if len(parts) == 0 || parts[0] != supportedMajor {
		return errs.Validationf("version", []string{supportedMajor + ".x.x"}, "unsupported bootstrap major version %q", version)
	}
	return nil
}

func (l *Loader) validate(fp FilePattern) string {
	if fp.ID == "" || fp.Name == "" || fp.Description == "" || fp.TaskType == "" {
		return "required string fields must be non-empty"
	}
	if len(fp.Sequence) < 2 {
		return "sequence must have at least 2 steps"
	}
	for _, agentID := range fp.Sequence {
		if !l.registry.IsRegistered(agentID) {
			return fmt.Sprintf("sequence references unregistered agent %q", agentID)
		}
	}
	if fp.Confidence < 0 || fp.Confidence > 1 {
		return "confidence must be in [0,1]"
	}
	if !successRateConsistent(fp.SuccessRate, fp.SuccessCount, fp.ObservationCount) {
		return "success rate is inconsistent with successCount/observationCount"
	}
	return ""
}

// successRateConsistent requires successRate to equal
// round(successRate·observationCount)/observationCount exactly for
// observation counts under 1000 (integer consistency: the rate must be
// exactly the one an integer success count would produce), and allow 1e-4
// absolute tolerance at or above it. successCount must independently agree
// with the same implied integer numerator.
func successRateConsistent(rate float64, successCount, observationCount int) bool {
	if observationCount <= 0 {
		return false
	}
	implied := math.Round(rate * float64(observationCount))
	if implied != float64(successCount) {
		return false
	}
	if observationCount < 1000 {
		return implied/float64(observationCount) == rate
	}
	return math.Abs(implied/float64(observationCount)-rate) <= 1e-4
}

// patternID derives a stable pattern id from the agent and the curated
// pattern's own id, so re-importing the same bootstrap file for the same
// agent upserts in place instead of accumulating duplicate rows.
func patternID(agentID string, fp FilePattern) string {
	return "bootstrap:" + agentID + ":" + fp.ID
}

func toStorePattern(agentID string, fp FilePattern) *store.Pattern {
	return &store.Pattern{
		ID:                 patternID(agentID, fp),
		Type:               mapPatternType(fp.Type),
		Confidence:         fp.Confidence,
		Occurrences:        fp.ObservationCount,
		ObservationCount:   fp.ObservationCount,
		RunningSuccessRate: fp.SuccessRate,
		AppliesToAgentType: agentID,
		AppliesToTaskType:  fp.TaskType,
		IsActive:           true,
		SourceSpanIDs:      fp.Sequence,
		Data: store.PatternData{
			RecommendationType:  fp.Action.Type,
			RecommendationValue: formatParameters(fp.Action.Parameters),
			Evidence: store.PatternEvidence{
				SampleSize:  fp.ObservationCount,
				GroupSize:   fp.ObservationCount,
				SuccessRate: fp.SuccessRate,
			},
		},
		ContextMetadata: fp.Conditions.Context,
	}
}

func mapPatternType(t string) store.PatternType {
	switch t {
	case "success":
		return store.PatternSuccess
	case "anti-pattern", "failure":
		return store.PatternAntiPattern
	case "optimization":
		return store.PatternOptimization
	default:
		return store.PatternSuccess
	}
}

func formatParameters(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	var parts []string
	for k, v := range params {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}
