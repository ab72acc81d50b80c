// Package classifier implementiert den Krankheitsklassifikator über einem TFLite-Modell.
package classifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"leaflens/ml"
	"leaflens/ml/imageprep"
)

// Runner führt das Modell auf einem NHWC-Tensor aus.
type Runner interface {
	Run(input []float32) ([]float32, error)
}

// DiseaseClassifier liefert Label und Wahrscheinlichkeiten über eine geschlossene Klassenmenge.
type DiseaseClassifier struct {
	Runner    Runner
	Classes   []string // Index-Reihenfolge des Modellausgangs
	InputSize int
	Logger    *zap.Logger
}

// New erstellt einen Klassifikator. Die Klassenreihenfolge muss der des Modells entsprechen.
func New(runner Runner, classes []string, inputSize int, logger *zap.Logger) (*DiseaseClassifier, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("classifier needs at least one class")
	}
	seen := make(map[string]bool, len(classes))
	for _, c := range classes {
		if seen[c] {
			return nil, fmt.Errorf("duplicate class %q", c)
		}
		seen[c] = true
	}
	if shape, ok := runner.(ml.TensorShape); ok {
		if want := inputSize * inputSize * 3; shape.InputLen() != want {
			return nil, fmt.Errorf("classifier model expects %d input values, input size %d needs %d", shape.InputLen(), inputSize, want)
		}
		if shape.OutputLen() != len(classes) {
			return nil, fmt.Errorf("classifier model has %d outputs for %d classes", shape.OutputLen(), len(classes))
		}
	}
	return &DiseaseClassifier{Runner: runner, Classes: classes, InputSize: inputSize, Logger: logger}, nil
}

// Classify bereitet das Bild vor (Skalierung auf InputSize, Werte in [0,1], Batch 1)
// und führt das Modell aus. Fehler werden unverändert an den Aufrufer gegeben.
func (c *DiseaseClassifier) Classify(_ context.Context, image []byte) (string, map[string]float64, error) {
	img, err := imageprep.Decode(image)
	if err != nil {
		return "", nil, err
	}
	tensor := imageprep.ToTensor(imageprep.Resize(img, c.InputSize, draw.NearestNeighbor), imageprep.UnitScale)

	probs, err := c.Runner.Run(tensor)
	if err != nil {
		return "", nil, fmt.Errorf("classifier inference: %w", err)
	}
	if len(probs) != len(c.Classes) {
		return "", nil, fmt.Errorf("classifier returned %d values for %d classes", len(probs), len(c.Classes))
	}

	idx := Argmax(probs)
	scores := make(map[string]float64, len(c.Classes))
	for i, name := range c.Classes {
		scores[name] = float64(probs[i])
	}
	c.Logger.Debug("Classifier result", zap.String("label", c.Classes[idx]), zap.Float32("confidence", probs[idx]))
	return c.Classes[idx], scores, nil
}

// Argmax liefert den Index des größten Werts; bei Gleichstand gewinnt der kleinste Index.
func Argmax(values []float32) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
