// Package gate implementiert das semantische Zulassungs-Gate: Ein Bild wird per
// Embedding-Ähnlichkeit gegen feste Pflanzenbeschreibungen geprüft, bevor der
// teure Klassifikator läuft.
package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"leaflens/ml"
	"leaflens/ml/imageprep"
)

// ImageEncoder bildet einen vorverarbeiteten Bildtensor auf ein Embedding ab.
type ImageEncoder interface {
	Run(input []float32) ([]float32, error)
}

// SemanticGate lässt ein Bild zu, wenn seine maximale Ähnlichkeit zu einem Prompt die Schwelle übersteigt.
type SemanticGate struct {
	Encoder   ImageEncoder
	Threshold float64 // Mindest-Kosinusähnlichkeit, exklusiv
	InputSize int
	Logger    *zap.Logger

	prompts []string
	vectors [][]float64
}

// New normalisiert die Prompt-Embeddings einmalig.
func New(encoder ImageEncoder, table *PromptTable, threshold float64, inputSize int, logger *zap.Logger) (*SemanticGate, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if shape, ok := encoder.(ml.TensorShape); ok {
		if want := inputSize * inputSize * 3; shape.InputLen() != want {
			return nil, fmt.Errorf("gate model expects %d input values, input size %d needs %d", shape.InputLen(), inputSize, want)
		}
		if dim := len(table.Prompts[0].Embedding); shape.OutputLen() != dim {
			return nil, fmt.Errorf("gate model embedding has dimension %d, prompts have %d", shape.OutputLen(), dim)
		}
	}
	g := &SemanticGate{
		Encoder:   encoder,
		Threshold: threshold,
		InputSize: inputSize,
		Logger:    logger,
		prompts:   table.Texts(),
	}
	for _, p := range table.Prompts {
		v, err := normalize(p.Embedding)
		if err != nil {
			return nil, fmt.Errorf("prompt %q: %w", p.Prompt, err)
		}
		g.vectors = append(g.vectors, v)
	}
	return g, nil
}

// Admit liefert die Zulassungsentscheidung. Jeder Fehler führt zur Abweisung.
func (g *SemanticGate) Admit(ctx context.Context, image []byte) bool {
	score, prompt, err := g.MaxSimilarity(ctx, image)
	if err != nil {
		g.Logger.Warn("Gate failed, treating image as not admitted", zap.Error(err))
		return false
	}
	admitted := score > g.Threshold
	g.Logger.Debug("Gate decision",
		zap.Bool("admitted", admitted),
		zap.Float64("max_similarity", score),
		zap.String("best_prompt", prompt))
	return admitted
}

// MaxSimilarity berechnet die höchste Kosinusähnlichkeit des Bildes zu allen Prompts.
func (g *SemanticGate) MaxSimilarity(_ context.Context, image []byte) (score float64, prompt string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gate panic: %v", r)
		}
	}()

	img, err := imageprep.Decode(image)
	if err != nil {
		return 0, "", err
	}
	tensor := imageprep.ToTensor(imageprep.ResizeCenterCrop(img, g.InputSize), imageprep.CLIPNormalization)

	raw, err := g.Encoder.Run(tensor)
	if err != nil {
		return 0, "", fmt.Errorf("encode image: %w", err)
	}
	if len(raw) != len(g.vectors[0]) {
		return 0, "", fmt.Errorf("image embedding has dimension %d, prompts have %d", len(raw), len(g.vectors[0]))
	}
	emb, err := normalize(raw)
	if err != nil {
		return 0, "", err
	}

	best := -1
	for i, v := range g.vectors {
		var dot float64
		for j := range v {
			dot += v[j] * emb[j]
		}
		if best < 0 || dot > score {
			best, score = i, dot
		}
	}
	return score, g.prompts[best], nil
}
