package loss

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/kntkb/espfit/internal/system"
)

// #region helpers
func f(v float64) *float64 { return &v }

type fakeReader struct {
	records map[string]ExperimentRecord
	err     error
}

func (r *fakeReader) Read(_ context.Context, _, name string) (ExperimentRecord, error) {
	if r.err != nil {
		return ExperimentRecord{}, r.err
	}
	return r.records[name], nil
}

type fakePredictor struct {
	preds   map[string]Prediction
	weights map[string][]float64
	loadErr error
}

func (p *fakePredictor) LoadTrajectory(_ context.Context, sys system.System) (ObservableTrajectory, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return &fakeTrajectory{p: p, name: sys.TargetName}, nil
}

// fakeTrajectory records the weights it was asked to use.
type fakeTrajectory struct {
	p    *fakePredictor
	name string
}

func (t *fakeTrajectory) ComputeObservable(_ context.Context, weights []float64) (Prediction, error) {
	if t.p.weights == nil {
		t.p.weights = map[string][]float64{}
	}
	t.p.weights[t.name] = weights
	return t.p.preds[t.name], nil
}

type fakeWriter struct {
	written []string
	err     error
}

func (w *fakeWriter) Write(_ context.Context, sys system.System, _ Prediction) error {
	w.written = append(w.written, sys.TargetName)
	return w.err
}

type mapLookup map[string][]float64

func (m mapLookup) Lookup(name string) ([]float64, bool) {
	w, ok := m[name]
	return w, ok
}

// twoMeasurementCase: exp {1.0 (err 0.2), 2.0 (err nil)}, pred {0.8 (std 0.1), 2.0 (std 0)}.
func twoMeasurementCase() (ExperimentRecord, Prediction) {
	exp := ExperimentRecord{Units: []ExperimentUnit{
		{ID: "resi_1", Measurements: []Measurement{
			{Key: "1H1P2", Name: "beta_1", Value: f(1.0), Error: f(0.2)},
			{Key: "1H2P", Name: "beta_2", Value: f(2.0)},
		}},
	}}
	pred := Prediction{Units: []PredictedUnit{
		{ID: "resi_1", Observables: map[string]Observable{
			"1H1P2": {Avg: 0.8, Std: 0.1},
			"1H2P":  {Avg: 2.0, Std: 0.0},
		}},
	}}
	return exp, pred
}

// #endregion helpers

// #region terms-tests
func TestTermsTwoMeasurementScenario(t *testing.T) {
	exp, pred := twoMeasurementCase()
	terms, err := Terms(exp, pred, DefaultConfig())
	if err != nil {
		t.Fatalf("Terms: %v", err)
	}
	if len(terms) != 2 {
		t.Fatalf("expected 2 terms, got %d", len(terms))
	}
	if math.Abs(terms[0]-0.8) > 1e-12 {
		t.Errorf("expected first term 0.8, got %f", terms[0])
	}
	if terms[1] != 0 {
		t.Errorf("expected second term 0, got %f", terms[1])
	}
	if math.Abs(Mean(terms)-0.4) > 1e-12 {
		t.Errorf("expected mean 0.4, got %f", Mean(terms))
	}
}

func TestTermsBoundedOperatorExcluded(t *testing.T) {
	for _, op := range []Operator{OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpApprox} {
		exp, pred := twoMeasurementCase()
		exp.Units[0].Measurements[0].Operator = op
		exp.Units[0].Measurements[0].Value = f(1e6)
		exp.Units[0].Measurements[0].Error = f(1e-6)

		terms, err := Terms(exp, pred, DefaultConfig())
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		if len(terms) != 1 || terms[0] != 0 {
			t.Errorf("%s: expected only the unqualified term, got %v", op, terms)
		}
	}
}

func TestTermsMissingValueSkipped(t *testing.T) {
	exp, pred := twoMeasurementCase()
	exp.Units[0].Measurements[1].Value = nil

	terms, err := Terms(exp, pred, DefaultConfig())
	if err != nil {
		t.Fatalf("Terms: %v", err)
	}
	if len(terms) != 1 {
		t.Fatalf("expected 1 term, got %d", len(terms))
	}
}

func TestTermsDefaultErrorIsNoOp(t *testing.T) {
	exp, pred := twoMeasurementCase()
	pred.Units[0].Observables["1H2P"] = Observable{Avg: 2.7, Std: 0.3}

	before, _ := Terms(exp, pred, DefaultConfig())
	exp.Units[0].Measurements[1].Error = f(0.5)
	after, _ := Terms(exp, pred, DefaultConfig())

	if Mean(before) != Mean(after) {
		t.Fatalf("explicit 0.5 error changed the loss: %f vs %f", Mean(before), Mean(after))
	}
}

func TestTermsConfigurableDefaultError(t *testing.T) {
	exp, pred := twoMeasurementCase()
	pred.Units[0].Observables["1H2P"] = Observable{Avg: 3.0, Std: 0.0}

	terms, err := Terms(exp, pred, Config{DefaultError: 1.0})
	if err != nil {
		t.Fatalf("Terms: %v", err)
	}
	if terms[1] != 1.0 {
		t.Errorf("expected (1^2)/(1^2) = 1, got %f", terms[1])
	}
}

func TestTermsOrderInvariant(t *testing.T) {
	exp := ExperimentRecord{Units: []ExperimentUnit{
		{ID: "resi_1", Measurements: []Measurement{
			{Key: "a", Value: f(1.0), Error: f(0.3)},
			{Key: "b", Value: f(4.0)},
		}},
		{ID: "resi_2", Measurements: []Measurement{
			{Key: "a", Value: f(7.5), Error: f(0.9)},
		}},
	}}
	pred := Prediction{Units: []PredictedUnit{
		{ID: "resi_1", Observables: map[string]Observable{"a": {Avg: 1.4, Std: 0.2}, "b": {Avg: 3.1, Std: 0.4}}},
		{ID: "resi_2", Observables: map[string]Observable{"a": {Avg: 6.0, Std: 0.5}}},
	}}

	reordered := ExperimentRecord{Units: []ExperimentUnit{
		{ID: "resi_2", Measurements: exp.Units[1].Measurements},
		{ID: "resi_1", Measurements: []Measurement{exp.Units[0].Measurements[1], exp.Units[0].Measurements[0]}},
	}}

	a, err := Terms(exp, pred, DefaultConfig())
	if err != nil {
		t.Fatalf("Terms: %v", err)
	}
	b, err := Terms(reordered, pred, DefaultConfig())
	if err != nil {
		t.Fatalf("Terms reordered: %v", err)
	}
	if math.Abs(Mean(a)-Mean(b)) > 1e-12 {
		t.Fatalf("loss depends on iteration order: %f vs %f", Mean(a), Mean(b))
	}
}

func TestTermsUnitCountMismatch(t *testing.T) {
	exp, pred := twoMeasurementCase()
	pred.Units = append(pred.Units, PredictedUnit{ID: "resi_2"})

	_, err := Terms(exp, pred, DefaultConfig())
	if !errors.Is(err, ErrUnitMismatch) {
		t.Fatalf("expected ErrUnitMismatch, got %v", err)
	}
}

func TestTermsUnitIdentityMismatch(t *testing.T) {
	exp, pred := twoMeasurementCase()
	pred.Units[0].ID = "resi_9"

	_, err := Terms(exp, pred, DefaultConfig())
	if !errors.Is(err, ErrUnitMismatch) {
		t.Fatalf("expected ErrUnitMismatch, got %v", err)
	}
}

func TestTermsMissingKey(t *testing.T) {
	exp, pred := twoMeasurementCase()
	delete(pred.Units[0].Observables, "1H2P")

	_, err := Terms(exp, pred, DefaultConfig())
	if !errors.Is(err, ErrUnitMismatch) {
		t.Fatalf("expected ErrUnitMismatch, got %v", err)
	}
}

func TestTermsZeroUncertainty(t *testing.T) {
	exp, pred := twoMeasurementCase()
	exp.Units[0].Measurements[1].Error = f(0)

	terms, err := Terms(exp, pred, DefaultConfig())
	if !errors.Is(err, ErrZeroUncertainty) {
		t.Fatalf("expected ErrZeroUncertainty, got %v (terms %v)", err, terms)
	}
	if !strings.Contains(err.Error(), "resi_1/1H2P") {
		t.Errorf("expected unit and key in error, got %v", err)
	}
}

func TestTermsZeroErrorWithSpreadIsFinite(t *testing.T) {
	exp, pred := twoMeasurementCase()
	exp.Units[0].Measurements[0].Error = f(0)

	terms, err := Terms(exp, pred, DefaultConfig())
	if err != nil {
		t.Fatalf("Terms: %v", err)
	}
	// (0.8 - 1.0)^2 / (0 + 0.1^2) = 4
	if math.Abs(terms[0]-4) > 1e-9 {
		t.Errorf("expected term 4, got %f", terms[0])
	}
}

func TestMeanEmptyIsNaN(t *testing.T) {
	if !math.IsNaN(Mean(nil)) {
		t.Fatal("expected NaN for empty mean")
	}
}

// #endregion terms-tests

// #region aggregator-tests
func newTestAggregator() (*Aggregator, *fakePredictor, *fakeWriter) {
	exp, pred := twoMeasurementCase()
	reader := &fakeReader{records: map[string]ExperimentRecord{"adenosine": exp, "cytidine": exp}}
	predictor := &fakePredictor{preds: map[string]Prediction{"adenosine": pred, "cytidine": pred}}
	writer := &fakeWriter{}
	return NewAggregator(reader, predictor, writer, DefaultConfig()), predictor, writer
}

func TestLossForSystem(t *testing.T) {
	agg, _, writer := newTestAggregator()
	sys := system.System{TargetName: "adenosine", TargetClass: "nucleoside"}

	l, err := agg.LossForSystem(context.Background(), sys, nil)
	if err != nil {
		t.Fatalf("LossForSystem: %v", err)
	}
	if math.Abs(l-0.4) > 1e-12 {
		t.Errorf("expected loss 0.4, got %f", l)
	}
	if len(writer.written) != 1 || writer.written[0] != "adenosine" {
		t.Errorf("expected prediction export for adenosine, got %v", writer.written)
	}
}

func TestLossForSystemNoUsableMeasurements(t *testing.T) {
	agg, _, _ := newTestAggregator()
	agg.reader = &fakeReader{records: map[string]ExperimentRecord{"adenosine": {Units: []ExperimentUnit{
		{ID: "resi_1", Measurements: []Measurement{{Key: "1H1P2", Value: f(1.0), Operator: OpGreater}}},
	}}}}

	l, err := agg.LossForSystem(context.Background(), system.System{TargetName: "adenosine"}, nil)
	if !errors.Is(err, ErrNoUsableMeasurements) {
		t.Fatalf("expected ErrNoUsableMeasurements, got %v", err)
	}
	if !math.IsNaN(l) {
		t.Errorf("expected NaN loss, got %f", l)
	}
}

func TestLossForAllUsesCachedWeights(t *testing.T) {
	agg, predictor, _ := newTestAggregator()
	systems := []system.System{{TargetName: "adenosine"}, {TargetName: "cytidine"}}
	cached := mapLookup{"adenosine": {0.25, 0.75}}

	losses, err := agg.LossForAll(context.Background(), systems, cached)
	if err != nil {
		t.Fatalf("LossForAll: %v", err)
	}
	if len(losses) != 2 {
		t.Fatalf("expected 2 losses, got %d", len(losses))
	}
	if got := predictor.weights["adenosine"]; len(got) != 2 || got[1] != 0.75 {
		t.Errorf("expected cached weights for adenosine, got %v", got)
	}
	if got := predictor.weights["cytidine"]; got != nil {
		t.Errorf("expected unweighted prediction for cytidine, got %v", got)
	}
}

func TestLossForAllFailFast(t *testing.T) {
	agg, _, writer := newTestAggregator()
	upstream := errors.New("trajectory not found")
	agg.predictor = &fakePredictor{loadErr: upstream}

	_, err := agg.LossForAll(context.Background(), []system.System{{TargetName: "adenosine"}, {TargetName: "cytidine"}}, nil)
	if err != upstream {
		t.Fatalf("expected upstream error unmodified, got %v", err)
	}
	if len(writer.written) != 0 {
		t.Errorf("expected no exports after failure, got %v", writer.written)
	}
}

func TestLossForSystemReaderError(t *testing.T) {
	agg, _, _ := newTestAggregator()
	upstream := errors.New("experiment.yml missing")
	agg.reader = &fakeReader{err: upstream}

	_, err := agg.LossForSystem(context.Background(), system.System{TargetName: "adenosine"}, nil)
	if err != upstream {
		t.Fatalf("expected upstream error unmodified, got %v", err)
	}
}

// #endregion aggregator-tests
