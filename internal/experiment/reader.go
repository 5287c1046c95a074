package experiment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kntkb/espfit/internal/loss"
	"gopkg.in/yaml.v3"
)

// #region constants
const (
	// FileName is the per-target experiment file.
	FileName = "experiment.yml"

	experimentKey  = "experiment_1"
	measurementKey = "measurement"
)

// #endregion constants

// #region reader
// Reader loads experiment records from <root>/<target_class>/<target_name>/experiment.yml.
type Reader struct {
	root string
}

// NewReader creates a reader rooted at the target data directory.
func NewReader(root string) *Reader {
	return &Reader{root: root}
}

// Path returns the experiment file for a target.
func (r *Reader) Path(targetClass, targetName string) string {
	return filepath.Join(r.root, targetClass, targetName, FileName)
}

// Read implements loss.ExperimentReader.
func (r *Reader) Read(_ context.Context, targetClass, targetName string) (loss.ExperimentRecord, error) {
	path := r.Path(targetClass, targetName)
	data, err := os.ReadFile(path)
	if err != nil {
		return loss.ExperimentRecord{}, fmt.Errorf("read experiment %s: %w", path, err)
	}
	rec, err := Parse(data)
	if err != nil {
		return loss.ExperimentRecord{}, fmt.Errorf("parse experiment %s: %w", path, err)
	}
	return rec, nil
}

// #endregion reader

// #region parse
type rawMeasurement struct {
	Name     string   `yaml:"name"`
	Value    *float64 `yaml:"value"`
	Operator *string  `yaml:"operator"`
	Error    *float64 `yaml:"error"`
}

// Parse decodes the experiment_1.measurement section, keeping document order
// of structural units and of measurements within each unit.
func Parse(data []byte) (loss.ExperimentRecord, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return loss.ExperimentRecord{}, err
	}
	if len(doc.Content) == 0 {
		return loss.ExperimentRecord{}, fmt.Errorf("empty document")
	}

	exp, err := child(doc.Content[0], experimentKey)
	if err != nil {
		return loss.ExperimentRecord{}, err
	}
	units, err := child(exp, measurementKey)
	if err != nil {
		return loss.ExperimentRecord{}, err
	}
	if units.Kind != yaml.MappingNode {
		return loss.ExperimentRecord{}, fmt.Errorf("%s.%s: expected mapping", experimentKey, measurementKey)
	}

	var rec loss.ExperimentRecord
	for i := 0; i+1 < len(units.Content); i += 2 {
		unitID := units.Content[i].Value
		body := units.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return loss.ExperimentRecord{}, fmt.Errorf("unit %s: expected mapping", unitID)
		}

		unit := loss.ExperimentUnit{ID: unitID}
		for j := 0; j+1 < len(body.Content); j += 2 {
			key := body.Content[j].Value
			var raw rawMeasurement
			if err := body.Content[j+1].Decode(&raw); err != nil {
				return loss.ExperimentRecord{}, fmt.Errorf("unit %s key %s: %w", unitID, key, err)
			}
			op, err := parseOperator(raw.Operator)
			if err != nil {
				return loss.ExperimentRecord{}, fmt.Errorf("unit %s key %s: %w", unitID, key, err)
			}
			unit.Measurements = append(unit.Measurements, loss.Measurement{
				Key:      key,
				Name:     raw.Name,
				Value:    raw.Value,
				Operator: op,
				Error:    raw.Error,
			})
		}
		rec.Units = append(rec.Units, unit)
	}
	return rec, nil
}

// #endregion parse

// #region helpers
func child(n *yaml.Node, key string) (*yaml.Node, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("looking up %s: not a mapping", key)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1], nil
		}
	}
	return nil, fmt.Errorf("missing key %s", key)
}

func parseOperator(s *string) (loss.Operator, error) {
	if s == nil {
		return loss.OpNone, nil
	}
	if op := loss.Operator(*s); op.Valid() {
		return op, nil
	}
	return "", fmt.Errorf("unknown operator %q", *s)
}

// #endregion helpers
