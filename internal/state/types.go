package state

import (
	"time"

	"github.com/kntkb/espfit/internal/reweight"
)

// #region pass-record
// PassRecord is the WeightRecord of one target stored under a reweighting pass.
type PassRecord struct {
	PassID     string
	TargetName string
	Record     reweight.WeightRecord
	CreatedAt  time.Time
}

// #endregion pass-record

// #region pass-summary
// PassSummary aggregates one reweighting pass across targets.
type PassSummary struct {
	PassID    string
	Targets   int
	MinESS    float64
	CreatedAt time.Time
}

// #endregion pass-summary
