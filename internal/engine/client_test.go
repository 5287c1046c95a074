package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kntkb/espfit/internal/system"
	"github.com/kntkb/espfit/internal/units"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region mock
// fakeConn answers Invoke from a table keyed by method suffix.
type fakeConn struct {
	responses map[string]map[string]any
	errs      map[string]error
	requests  map[string]*structpb.Struct
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		responses: map[string]map[string]any{},
		errs:      map[string]error{},
		requests:  map[string]*structpb.Struct{},
	}
}

func (f *fakeConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	name := strings.TrimPrefix(method, servicePrefix)
	f.requests[name] = args.(*structpb.Struct)
	if err := f.errs[name]; err != nil {
		return err
	}
	resp, err := structpb.NewStruct(f.responses[name])
	if err != nil {
		return err
	}
	proto.Merge(reply.(proto.Message), resp)
	return nil
}

func (f *fakeConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streams not supported")
}

// #endregion mock

// #region constructor-tests
func TestNewClientLazyDial(t *testing.T) {
	client, err := NewClient("localhost:0")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	defer client.Close()
}

func TestNewClientWithConn(t *testing.T) {
	c := NewClientWithConn(newFakeConn())
	if c == nil || c.cc == nil {
		t.Fatal("expected client with connection")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close without owned conn: %v", err)
	}
}

// #endregion constructor-tests

// #region engine-tests
func TestCreateSystemAndEnergy(t *testing.T) {
	conn := newFakeConn()
	conn.responses["CreateSystem"] = map[string]any{"system_id": "adenosine-ref"}
	conn.responses["PotentialEnergy"] = map[string]any{"value": 41.84, "unit": "kJ/mol"}
	c := NewClientWithConn(conn)

	eng, err := c.CreateSystem(context.Background(), SystemSpec{
		TargetName:  "adenosine",
		TargetClass: "nucleoside",
		Temperature: 300,
		Parameters:  "espaloma-0.3.2.pt",
	})
	if err != nil {
		t.Fatalf("create system: %v", err)
	}
	if eng.ID() != "adenosine-ref" {
		t.Errorf("expected id adenosine-ref, got %s", eng.ID())
	}
	if got := conn.requests["CreateSystem"].GetFields()["temperature"].GetNumberValue(); got != 300 {
		t.Errorf("expected temperature 300 on the wire, got %v", got)
	}

	e, err := eng.PotentialEnergy(context.Background())
	if err != nil {
		t.Fatalf("potential energy: %v", err)
	}
	if e.Unit != units.KilojoulePerMole || e.Value != 41.84 {
		t.Errorf("unexpected energy %+v", e)
	}
	if got := conn.requests["PotentialEnergy"].GetFields()["system_id"].GetStringValue(); got != "adenosine-ref" {
		t.Errorf("expected system_id on request, got %q", got)
	}
}

func TestCreateSystemEmptyID(t *testing.T) {
	conn := newFakeConn()
	conn.responses["CreateSystem"] = map[string]any{}
	_, err := NewClientWithConn(conn).CreateSystem(context.Background(), SystemSpec{TargetName: "x"})
	if err == nil {
		t.Fatal("expected error for empty system_id")
	}
}

func TestPotentialEnergyUnknownUnit(t *testing.T) {
	conn := newFakeConn()
	conn.responses["PotentialEnergy"] = map[string]any{"value": 1.0, "unit": "hartree"}
	eng := &Engine{client: NewClientWithConn(conn), id: "s"}
	if _, err := eng.PotentialEnergy(context.Background()); err == nil {
		t.Fatal("expected error for unknown unit")
	}
}

func TestPotentialEnergyMissingUnit(t *testing.T) {
	conn := newFakeConn()
	conn.responses["PotentialEnergy"] = map[string]any{"value": -1200.5}
	eng := &Engine{client: NewClientWithConn(conn), id: "s"}
	if _, err := eng.PotentialEnergy(context.Background()); err == nil {
		t.Fatal("expected error when the reply omits the unit")
	}
}

func TestEngineCallsWrapErrors(t *testing.T) {
	conn := newFakeConn()
	rpcErr := errors.New("unavailable")
	conn.errs["Minimize"] = rpcErr
	conn.errs["Run"] = rpcErr
	conn.errs["SetPositions"] = rpcErr
	eng := &Engine{client: NewClientWithConn(conn), id: "s"}
	ctx := context.Background()

	if err := eng.Minimize(ctx); !errors.Is(err, rpcErr) {
		t.Errorf("minimize: expected wrapped rpc error, got %v", err)
	}
	if err := eng.Run(ctx, 100); !errors.Is(err, rpcErr) {
		t.Errorf("run: expected wrapped rpc error, got %v", err)
	}
	if err := eng.SetPositions(ctx, nil); !errors.Is(err, rpcErr) {
		t.Errorf("set positions: expected wrapped rpc error, got %v", err)
	}
	if got := conn.requests["Run"].GetFields()["nsteps"].GetNumberValue(); got != 100 {
		t.Errorf("expected nsteps 100, got %v", got)
	}
}

func TestSetPositionsFlattens(t *testing.T) {
	conn := newFakeConn()
	eng := &Engine{client: NewClientWithConn(conn), id: "s"}
	pos := [][3]float64{{1, 2, 3}, {4, 5, 6}}
	if err := eng.SetPositions(context.Background(), pos); err != nil {
		t.Fatalf("set positions: %v", err)
	}
	vals := conn.requests["SetPositions"].GetFields()["positions"].GetListValue().GetValues()
	if len(vals) != 6 {
		t.Fatalf("expected 6 values, got %d", len(vals))
	}
	for i, v := range vals {
		if v.GetNumberValue() != float64(i+1) {
			t.Errorf("value %d: expected %d, got %v", i, i+1, v.GetNumberValue())
		}
	}
}

// #endregion engine-tests

// #region trajectory-tests
func TestLoadTrajectoryAndPositions(t *testing.T) {
	conn := newFakeConn()
	conn.responses["LoadTrajectory"] = map[string]any{"trajectory_id": "t1", "n_frames": 10.0}
	conn.responses["FramePositions"] = map[string]any{"positions": []any{0.1, 0.2, 0.3}}
	c := NewClientWithConn(conn)
	sys := system.System{TargetName: "adenosine", OutputDir: "/out/adenosine", AtomSubset: "all"}

	traj, err := c.Load(context.Background(), sys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if traj.NumFrames() != 10 {
		t.Errorf("expected 10 frames, got %d", traj.NumFrames())
	}
	f := conn.requests["LoadTrajectory"].GetFields()
	if f["trajectory"].GetStringValue() != sys.TrajectoryPath() {
		t.Errorf("expected trajectory path %s, got %s", sys.TrajectoryPath(), f["trajectory"].GetStringValue())
	}
	if f["topology"].GetStringValue() != sys.TopologyPath() {
		t.Errorf("expected topology path %s, got %s", sys.TopologyPath(), f["topology"].GetStringValue())
	}

	pos, err := traj.Positions(context.Background(), 3)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(pos) != 1 || pos[0] != [3]float64{0.1, 0.2, 0.3} {
		t.Errorf("unexpected positions %v", pos)
	}
	if got := conn.requests["FramePositions"].GetFields()["frame"].GetNumberValue(); got != 3 {
		t.Errorf("expected frame 3, got %v", got)
	}
}

func TestPositionsBadLength(t *testing.T) {
	conn := newFakeConn()
	conn.responses["FramePositions"] = map[string]any{"positions": []any{0.1, 0.2}}
	traj := &Trajectory{client: NewClientWithConn(conn), id: "t", frames: 1}
	if _, err := traj.Positions(context.Background(), 0); err == nil {
		t.Fatal("expected error for truncated positions")
	}
}

func TestComputeObservable(t *testing.T) {
	conn := newFakeConn()
	conn.responses["LoadTrajectory"] = map[string]any{"trajectory_id": "t1", "n_frames": 2.0}
	conn.responses["ComputeObservable"] = map[string]any{
		"units": []any{
			map[string]any{"id": "resi_1", "observables": map[string]any{
				"1H1P2": map[string]any{"avg": 5.9, "std": 0.4},
			}},
			map[string]any{"id": "resi_2", "observables": map[string]any{
				"2H3P": map[string]any{"avg": 5.0, "std": 0.1},
			}},
		},
	}
	c := NewClientWithConn(conn)
	traj, err := c.LoadTrajectory(context.Background(), system.System{TargetName: "adenosine"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	pred, err := traj.ComputeObservable(context.Background(), []float64{0.25, 0.75})
	if err != nil {
		t.Fatalf("compute observable: %v", err)
	}
	if len(pred.Units) != 2 || pred.Units[0].ID != "resi_1" || pred.Units[1].ID != "resi_2" {
		t.Fatalf("expected ordered units resi_1, resi_2, got %+v", pred.Units)
	}
	if o := pred.Units[0].Observables["1H1P2"]; o.Avg != 5.9 || o.Std != 0.4 {
		t.Errorf("unexpected observable %+v", o)
	}
	w := conn.requests["ComputeObservable"].GetFields()["weights"].GetListValue().GetValues()
	if len(w) != 2 || w[1].GetNumberValue() != 0.75 {
		t.Errorf("expected weights on the wire, got %v", w)
	}
}

func TestComputeObservableUnweighted(t *testing.T) {
	conn := newFakeConn()
	conn.responses["ComputeObservable"] = map[string]any{"units": []any{}}
	traj := &Trajectory{client: NewClientWithConn(conn), id: "t"}
	if _, err := traj.ComputeObservable(context.Background(), nil); err != nil {
		t.Fatalf("compute observable: %v", err)
	}
	w := conn.requests["ComputeObservable"].GetFields()["weights"]
	if _, ok := w.GetKind().(*structpb.Value_NullValue); !ok {
		t.Errorf("expected null weights, got %v", w)
	}
}

func TestComputeObservableMissingID(t *testing.T) {
	conn := newFakeConn()
	conn.responses["ComputeObservable"] = map[string]any{
		"units": []any{map[string]any{"observables": map[string]any{}}},
	}
	traj := &Trajectory{client: NewClientWithConn(conn), id: "t"}
	if _, err := traj.ComputeObservable(context.Background(), nil); err == nil {
		t.Fatal("expected error for unit without id")
	}
}

// #endregion trajectory-tests
