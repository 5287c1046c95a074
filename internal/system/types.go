package system

import (
	"context"
	"path/filepath"

	"github.com/kntkb/espfit/internal/units"
)

// #region file-names
const (
	TrajectoryFile = "traj.nc"
	TopologyFile   = "solvated.pdb"
	PredictionFile = "pred.yaml"
)

// #endregion file-names

// #region engine
// Engine is the simulation backend bound to one system and one parameter set.
// It is both the MD driver and the potential evaluator for that parameter set.
type Engine interface {
	Minimize(ctx context.Context) error
	Run(ctx context.Context, nsteps int) error
	SetPositions(ctx context.Context, positions [][3]float64) error
	PotentialEnergy(ctx context.Context) (units.Energy, error)
}

// #endregion engine

// #region trajectory
// Trajectory exposes per-frame atomic positions of a stored trajectory.
type Trajectory interface {
	NumFrames() int
	Positions(ctx context.Context, frame int) ([][3]float64, error)
}

// TrajectoryLoader opens the trajectory written to a system's output directory.
type TrajectoryLoader interface {
	Load(ctx context.Context, sys System) (Trajectory, error)
}

// #endregion trajectory

// #region system
// System is one configured simulation unit.
type System struct {
	TargetName  string
	TargetClass string
	Temperature units.Temperature
	AtomSubset  string
	OutputDir   string
	NSteps      int
	Engine      Engine
}

// TrajectoryPath is where the engine writes the production trajectory.
func (s System) TrajectoryPath() string {
	return filepath.Join(s.OutputDir, TrajectoryFile)
}

// TopologyPath is the solvated topology matching the trajectory.
func (s System) TopologyPath() string {
	return filepath.Join(s.OutputDir, TopologyFile)
}

// PredictionPath is where predicted observables are exported.
func (s System) PredictionPath() string {
	return filepath.Join(s.OutputDir, PredictionFile)
}

// #endregion system
