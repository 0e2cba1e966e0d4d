// Package abtest implements deterministic, repeatable variant assignment
// and Welch's t-test significance analysis for controlled experiments.
package abtest

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/agentevolve/evocore/internal/idgen"
	"github.com/agentevolve/evocore/internal/store"
	"github.com/agentevolve/evocore/internal/store/errs"
)

// Engine is the A/B assignment and analysis engine.
type Engine struct {
	store *store.Store
}

// New creates an Engine backed by st.
func New(st *store.Store) *Engine {
	return &Engine{store: st}
}

// Create validates and persists a new draft experiment. len(variants) must
// equal len(trafficSplit), and the splits must sum to 1 within 1e-3.
func (e *Engine) Create(name string, variants []string, trafficSplit []float64, successMetric string, minSampleSize int, significanceLevel float64) (*store.ABExperiment, error) {
	if len(variants) != len(trafficSplit) {
		return nil, errs.Validationf("variants", nil, "variants (%d) and traffic_split (%d) must have equal length", len(variants), len(trafficSplit))
	}
	sum := 0.0
	for _, s := range trafficSplit {
		sum += s
	}
	if math.Abs(sum-1.0) > 1e-3 {
		return nil, errs.Validationf("traffic_split", nil, "traffic_split must sum to 1 (within 1e-3), got %v", sum)
	}

	exp := &store.ABExperiment{
		ID:                idgen.New(),
		Name:              name,
		Variants:          variants,
		TrafficSplit:      trafficSplit,
		SuccessMetric:     successMetric,
		MinSampleSize:     minSampleSize,
		SignificanceLevel: significanceLevel,
		Status:            store.ExperimentDraft,
		CreatedAt:         time.Now().UTC(),
	}

	if err := e.store.CreateExperiment(exp); err != nil {
		return nil, err
	}
	log.Printf("[AB] created experiment %s (%s) variants=%v split=%v", exp.ID, exp.Name, variants, trafficSplit)
	return exp, nil
}

// Start transitions a draft experiment to running.
func (e *Engine) Start(experimentID string) error {
	exp, err := e.store.GetExperiment(experimentID)
	if err != nil {
		return err
	}
	if exp.Status != store.ExperimentDraft {
		return errs.Statef("experiment %s is not in draft status (currently %s)", experimentID, exp.Status)
	}
	if err := e.store.UpdateExperimentStatus(experimentID, store.ExperimentRunning); err != nil {
		return err
	}
	log.Printf("[AB] started experiment %s", experimentID)
	return nil
}

// Assign is idempotent by (experiment, subject): a repeated call returns the
// previously assigned variant. Otherwise it computes a stable hash of
// "{experiment}:{subject}", maps it to [0,1), and selects a variant by
// cumulative traffic split.
func (e *Engine) Assign(experimentID, subjectID string) (string, error) {
	existing, err := e.store.GetAssignment(experimentID, subjectID)
	if err == nil {
		return existing.Variant, nil
	}
	if errs.Of(err) != errs.KindNotFound {
		return "", err
	}

	exp, err := e.store.GetExperiment(experimentID)
	if err != nil {
		return "", err
	}

	u := assignmentUnit(experimentID, subjectID)
	variant := selectVariant(exp.Variants, exp.TrafficSplit, u)

	assignment := &store.ABAssignment{
		ExperimentID: experimentID,
		SubjectID:    subjectID,
		Variant:      variant,
		AssignedAt:   time.Now().UTC(),
	}
	if err := e.store.RecordAssignment(assignment); err != nil {
		return "", err
	}
	return variant, nil
}

// assignmentUnit computes a stable 128-bit hash of "{experiment}:{subject}",
// takes its leading 32 bits as an integer, and maps to [0,1) via
// (h mod 100000)/100000.
func assignmentUnit(experimentID, subjectID string) float64 {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s", experimentID, subjectID)))
	leading32 := binary.BigEndian.Uint32(sum[:4])
	return float64(leading32%100000) / 100000.0
}

func selectVariant(variants []string, split []float64, u float64) string {
	cumulative := 0.0
	for i, v := range variants {
		cumulative += split[i]
		if u < cumulative {
			return v
		}
	}
	return variants[len(variants)-1]
}

// RecordMetric appends a metric observation for (experiment, variant). The
// store is append-only for metrics; no update path exists.
func (e *Engine) RecordMetric(experimentID, variant string, subjectID string, value float64, secondary map[string]float64) error {
	m := &store.ABMetric{
		ID:           idgen.New(),
		ExperimentID: experimentID,
		Variant:      variant,
		SubjectID:    subjectID,
		Value:        value,
		Secondary:    secondary,
		RecordedAt:   time.Now().UTC(),
	}
	return e.store.RecordMetric(m)
}
