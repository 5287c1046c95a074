package experiment

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/kntkb/espfit/internal/loss"
	"github.com/kntkb/espfit/internal/system"
	"gopkg.in/yaml.v3"
)

// #region writer
// PredictionWriter exports predictions to pred.yaml in a system's output directory.
type PredictionWriter struct{}

// NewPredictionWriter creates a writer.
func NewPredictionWriter() *PredictionWriter {
	return &PredictionWriter{}
}

// Write implements loss.PredictionWriter. Existing files are replaced.
func (w *PredictionWriter) Write(_ context.Context, sys system.System, pred loss.Prediction) error {
	data, err := MarshalPrediction(pred)
	if err != nil {
		return fmt.Errorf("marshal prediction for %s: %w", sys.TargetName, err)
	}
	path := sys.PredictionPath()
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write prediction %s: %w", path, err)
	}
	return nil
}

// #endregion writer

// #region marshal
// MarshalPrediction renders units in prediction order and keys sorted within a unit:
//
//	resi_1:
//	  1H1P2: {avg: 3.1, std: 0.4}
func MarshalPrediction(pred loss.Prediction) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, u := range pred.Units {
		body := &yaml.Node{Kind: yaml.MappingNode}
		keys := make([]string, 0, len(u.Observables))
		for k := range u.Observables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			obs := u.Observables[k]
			body.Content = append(body.Content, scalar(k), &yaml.Node{
				Kind:  yaml.MappingNode,
				Style: yaml.FlowStyle,
				Content: []*yaml.Node{
					scalar("avg"), floatNode(obs.Avg),
					scalar("std"), floatNode(obs.Std),
				},
			})
		}
		root.Content = append(root.Content, scalar(u.ID), body)
	}
	return yaml.Marshal(root)
}

// ParsePrediction reads a pred.yaml document back, keeping unit order.
func ParsePrediction(data []byte) (loss.Prediction, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return loss.Prediction{}, err
	}
	var pred loss.Prediction
	if len(doc.Content) == 0 {
		return pred, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return loss.Prediction{}, fmt.Errorf("prediction: expected mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		u := loss.PredictedUnit{ID: root.Content[i].Value}
		if err := root.Content[i+1].Decode(&u.Observables); err != nil {
			return loss.Prediction{}, fmt.Errorf("unit %s: %w", u.ID, err)
		}
		pred.Units = append(pred.Units, u)
	}
	return pred, nil
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func floatNode(f float64) *yaml.Node {
	v := strconv.FormatFloat(f, 'g', -1, 64)
	switch {
	case math.IsNaN(f):
		v = ".nan"
	case math.IsInf(f, 1):
		v = ".inf"
	case math.IsInf(f, -1):
		v = "-.inf"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

// #endregion marshal
