package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/kntkb/espfit/internal/loss"
	"github.com/kntkb/espfit/internal/system"
	"github.com/kntkb/espfit/internal/units"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region methods
// Full method names served by the Python OpenMM/mdtraj service.
const (
	servicePrefix = "/espfit.engine.v1.EngineService/"

	methodCreateSystem      = servicePrefix + "CreateSystem"
	methodMinimize          = servicePrefix + "Minimize"
	methodRun               = servicePrefix + "Run"
	methodSetPositions      = servicePrefix + "SetPositions"
	methodPotentialEnergy   = servicePrefix + "PotentialEnergy"
	methodLoadTrajectory    = servicePrefix + "LoadTrajectory"
	methodFramePositions    = servicePrefix + "FramePositions"
	methodComputeObservable = servicePrefix + "ComputeObservable"
)

// #endregion methods

// #region types
// SystemSpec describes a system to build on the service under one parameter set.
type SystemSpec struct {
	TargetName  string
	TargetClass string
	Temperature units.Temperature
	AtomSubset  string
	OutputDir   string
	Parameters  string // force-field parameter file understood by the service
}

// #endregion types

// #region client-struct
// Client wraps the gRPC connection to the Python simulation service.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewClient connects to the simulation gRPC server.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn creates a Client over an injected connection.
// Used for testing without a real gRPC server.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region invoke
func (c *Client) call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func request(fields map[string]*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: fields}
}

// #endregion invoke

// #region create-system
// CreateSystem builds a system on the service and returns an Engine bound to it.
func (c *Client) CreateSystem(ctx context.Context, spec SystemSpec) (*Engine, error) {
	resp, err := c.call(ctx, methodCreateSystem, request(map[string]*structpb.Value{
		"target_name":  structpb.NewStringValue(spec.TargetName),
		"target_class": structpb.NewStringValue(spec.TargetClass),
		"temperature":  structpb.NewNumberValue(spec.Temperature.Kelvin()),
		"atom_subset":  structpb.NewStringValue(spec.AtomSubset),
		"output_dir":   structpb.NewStringValue(spec.OutputDir),
		"parameters":   structpb.NewStringValue(spec.Parameters),
	}))
	if err != nil {
		return nil, fmt.Errorf("create system rpc: %w", err)
	}
	id := resp.GetFields()["system_id"].GetStringValue()
	if id == "" {
		return nil, fmt.Errorf("create system rpc: empty system_id for %s", spec.TargetName)
	}
	log.Printf("[ENGINE] created %s as %s (parameters=%s)", spec.TargetName, id, spec.Parameters)
	return &Engine{client: c, id: id}, nil
}

// #endregion create-system

// #region engine
// Engine is a remote simulation context. It implements system.Engine.
type Engine struct {
	client *Client
	id     string
}

// ID returns the service-side system identifier.
func (e *Engine) ID() string {
	return e.id
}

// Minimize runs energy minimization.
func (e *Engine) Minimize(ctx context.Context) error {
	if _, err := e.client.call(ctx, methodMinimize, e.req(nil)); err != nil {
		return fmt.Errorf("minimize rpc: %w", err)
	}
	return nil
}

// Run advances the simulation nsteps and writes the trajectory to the output directory.
func (e *Engine) Run(ctx context.Context, nsteps int) error {
	if _, err := e.client.call(ctx, methodRun, e.req(map[string]*structpb.Value{
		"nsteps": structpb.NewNumberValue(float64(nsteps)),
	})); err != nil {
		return fmt.Errorf("run rpc: %w", err)
	}
	return nil
}

// SetPositions replaces the context positions (nm).
func (e *Engine) SetPositions(ctx context.Context, positions [][3]float64) error {
	if _, err := e.client.call(ctx, methodSetPositions, e.req(map[string]*structpb.Value{
		"positions": encodePositions(positions),
	})); err != nil {
		return fmt.Errorf("set positions rpc: %w", err)
	}
	return nil
}

// PotentialEnergy returns the potential energy at the current positions.
func (e *Engine) PotentialEnergy(ctx context.Context) (units.Energy, error) {
	resp, err := e.client.call(ctx, methodPotentialEnergy, e.req(nil))
	if err != nil {
		return units.Energy{}, fmt.Errorf("potential energy rpc: %w", err)
	}
	f := resp.GetFields()
	if f["unit"].GetStringValue() == "" {
		return units.Energy{}, fmt.Errorf("potential energy rpc: reply for %s has no unit", e.id)
	}
	unit, err := units.ParseEnergyUnit(f["unit"].GetStringValue())
	if err != nil {
		return units.Energy{}, fmt.Errorf("potential energy rpc: %w", err)
	}
	return units.Energy{Value: f["value"].GetNumberValue(), Unit: unit}, nil
}

func (e *Engine) req(extra map[string]*structpb.Value) *structpb.Struct {
	fields := map[string]*structpb.Value{"system_id": structpb.NewStringValue(e.id)}
	for k, v := range extra {
		fields[k] = v
	}
	return request(fields)
}

// #endregion engine

// #region trajectory
// Trajectory is a trajectory loaded on the service. It serves both frame
// positions for reweighting and observable prediction.
type Trajectory struct {
	client *Client
	id     string
	frames int
}

// Load implements system.TrajectoryLoader.
func (c *Client) Load(ctx context.Context, sys system.System) (system.Trajectory, error) {
	t, err := c.loadTrajectory(ctx, sys)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// LoadTrajectory implements loss.ObservablePredictor.
func (c *Client) LoadTrajectory(ctx context.Context, sys system.System) (loss.ObservableTrajectory, error) {
	t, err := c.loadTrajectory(ctx, sys)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Client) loadTrajectory(ctx context.Context, sys system.System) (*Trajectory, error) {
	resp, err := c.call(ctx, methodLoadTrajectory, request(map[string]*structpb.Value{
		"trajectory":  structpb.NewStringValue(sys.TrajectoryPath()),
		"topology":    structpb.NewStringValue(sys.TopologyPath()),
		"atom_subset": structpb.NewStringValue(sys.AtomSubset),
	}))
	if err != nil {
		return nil, fmt.Errorf("load trajectory rpc: %w", err)
	}
	f := resp.GetFields()
	return &Trajectory{
		client: c,
		id:     f["trajectory_id"].GetStringValue(),
		frames: int(f["n_frames"].GetNumberValue()),
	}, nil
}

// NumFrames returns the number of frames in the trajectory.
func (t *Trajectory) NumFrames() int {
	return t.frames
}

// Positions returns the atomic positions (nm) of one frame.
func (t *Trajectory) Positions(ctx context.Context, frame int) ([][3]float64, error) {
	resp, err := t.client.call(ctx, methodFramePositions, request(map[string]*structpb.Value{
		"trajectory_id": structpb.NewStringValue(t.id),
		"frame":         structpb.NewNumberValue(float64(frame)),
	}))
	if err != nil {
		return nil, fmt.Errorf("frame positions rpc: %w", err)
	}
	pos, err := decodePositions(resp.GetFields()["positions"])
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", frame, err)
	}
	return pos, nil
}

// ComputeObservable returns per-unit J-coupling predictions. nil weights
// request an unweighted average.
func (t *Trajectory) ComputeObservable(ctx context.Context, weights []float64) (loss.Prediction, error) {
	w := structpb.NewNullValue()
	if weights != nil {
		w = encodeNumbers(weights)
	}
	resp, err := t.client.call(ctx, methodComputeObservable, request(map[string]*structpb.Value{
		"trajectory_id": structpb.NewStringValue(t.id),
		"weights":       w,
	}))
	if err != nil {
		return loss.Prediction{}, fmt.Errorf("compute observable rpc: %w", err)
	}
	return decodePrediction(resp)
}

// #endregion trajectory
