package engine

import (
	"fmt"

	"github.com/kntkb/espfit/internal/loss"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region positions
// encodePositions flattens positions to [x0, y0, z0, x1, ...].
func encodePositions(positions [][3]float64) *structpb.Value {
	vals := make([]*structpb.Value, 0, len(positions)*3)
	for _, p := range positions {
		vals = append(vals,
			structpb.NewNumberValue(p[0]),
			structpb.NewNumberValue(p[1]),
			structpb.NewNumberValue(p[2]),
		)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func decodePositions(v *structpb.Value) ([][3]float64, error) {
	vals := v.GetListValue().GetValues()
	if len(vals)%3 != 0 {
		return nil, fmt.Errorf("positions length %d is not a multiple of 3", len(vals))
	}
	out := make([][3]float64, len(vals)/3)
	for i := range out {
		out[i] = [3]float64{
			vals[3*i].GetNumberValue(),
			vals[3*i+1].GetNumberValue(),
			vals[3*i+2].GetNumberValue(),
		}
	}
	return out, nil
}

func encodeNumbers(xs []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

// #endregion positions

// #region prediction
// decodePrediction reads {"units": [{"id": "resi_1", "observables": {"1H1P2": {"avg": .., "std": ..}}}]}.
func decodePrediction(resp *structpb.Struct) (loss.Prediction, error) {
	var pred loss.Prediction
	for i, uv := range resp.GetFields()["units"].GetListValue().GetValues() {
		u := uv.GetStructValue()
		if u == nil {
			return loss.Prediction{}, fmt.Errorf("unit %d: expected object", i)
		}
		id := u.GetFields()["id"].GetStringValue()
		if id == "" {
			return loss.Prediction{}, fmt.Errorf("unit %d: missing id", i)
		}
		unit := loss.PredictedUnit{ID: id, Observables: map[string]loss.Observable{}}
		for key, ov := range u.GetFields()["observables"].GetStructValue().GetFields() {
			o := ov.GetStructValue().GetFields()
			unit.Observables[key] = loss.Observable{
				Avg: o["avg"].GetNumberValue(),
				Std: o["std"].GetNumberValue(),
			}
		}
		pred.Units = append(pred.Units, unit)
	}
	return pred, nil
}

// #endregion prediction
