package session

import (
	"errors"
	"sort"

	"github.com/kntkb/espfit/internal/reweight"
)

// #region constants
// NoSystems is the ESS reported when the session has no systems to estimate.
// It lies outside the valid ESS range (0, 1].
const NoSystems = -1.0

// #endregion constants

// #region errors
var (
	// ErrNoSystems is returned by the loss path when no systems are configured.
	ErrNoSystems = errors.New("no systems configured")

	// ErrCandidateCount means the candidate list does not pair one-to-one with the systems.
	ErrCandidateCount = errors.New("candidate count does not match system count")
)

// #endregion errors

// #region weight-sink
// WeightSink persists the records of each reweighting pass.
type WeightSink interface {
	SaveWeights(passID, targetName string, rec reweight.WeightRecord) error
}

// #endregion weight-sink

// #region weight-cache
// WeightCache maps target names to their most recent WeightRecord.
// It is owned by one session and is not safe for concurrent use.
type WeightCache struct {
	records map[string]reweight.WeightRecord
}

// NewWeightCache returns an empty cache.
func NewWeightCache() *WeightCache {
	return &WeightCache{records: make(map[string]reweight.WeightRecord)}
}

// Store overwrites the record for target.
func (c *WeightCache) Store(target string, rec reweight.WeightRecord) {
	c.records[target] = rec
}

// Get returns the record for target.
func (c *WeightCache) Get(target string) (reweight.WeightRecord, bool) {
	rec, ok := c.records[target]
	return rec, ok
}

// Lookup returns only the weights for target.
func (c *WeightCache) Lookup(target string) ([]float64, bool) {
	rec, ok := c.records[target]
	if !ok {
		return nil, false
	}
	return rec.Weights, true
}

// Targets returns the cached target names, sorted.
func (c *WeightCache) Targets() []string {
	names := make([]string, 0, len(c.records))
	for name := range c.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of cached targets.
func (c *WeightCache) Len() int {
	return len(c.records)
}

// #endregion weight-cache
