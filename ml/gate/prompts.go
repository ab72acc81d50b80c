package gate

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// MaizePrompts sind die Textprompts, gegen die ein Bild verglichen wird, in fester Reihenfolge.
var MaizePrompts = []string{
	"maize leaf",
	"maize plant leaf",
	"corn leaf",
	"maize crop leaf",
	"closeup of maize leaf",
	"maize disease leaf",
	"healthy maize leaf",
}

// PromptEmbedding ist die Ausgabe des Textencoders für einen Prompt.
type PromptEmbedding struct {
	Prompt    string    `yaml:"prompt"`
	Embedding []float32 `yaml:"embedding"`
}

// PromptTable enthält die vorab mit dem Textencoder desselben Modells berechneten Prompt-Embeddings.
type PromptTable struct {
	Model   string            `yaml:"model"`
	Prompts []PromptEmbedding `yaml:"prompts"`
}

// LoadPromptTable liest eine Prompt-Tabelle aus einer YAML-Datei.
func LoadPromptTable(path string) (*PromptTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt table: %w", err)
	}
	var table PromptTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse prompt table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if err := table.RequirePrompts(MaizePrompts); err != nil {
		return nil, err
	}
	return &table, nil
}

// RequirePrompts prüft, dass die Tabelle genau die erwarteten Prompts in derselben Reihenfolge enthält.
func (t *PromptTable) RequirePrompts(want []string) error {
	if len(t.Prompts) != len(want) {
		return fmt.Errorf("prompt table has %d prompts, want %d", len(t.Prompts), len(want))
	}
	for i, p := range t.Prompts {
		if p.Prompt != want[i] {
			return fmt.Errorf("prompt %d is %q, want %q", i, p.Prompt, want[i])
		}
	}
	return nil
}

// Validate prüft, dass alle Embeddings dieselbe Dimension und eine Norm ungleich null haben.
func (t *PromptTable) Validate() error {
	if len(t.Prompts) == 0 {
		return fmt.Errorf("prompt table has no prompts")
	}
	dim := len(t.Prompts[0].Embedding)
	if dim == 0 {
		return fmt.Errorf("prompt %q has an empty embedding", t.Prompts[0].Prompt)
	}
	for _, p := range t.Prompts {
		if len(p.Embedding) != dim {
			return fmt.Errorf("prompt %q has dimension %d, want %d", p.Prompt, len(p.Embedding), dim)
		}
		if norm(p.Embedding) == 0 {
			return fmt.Errorf("prompt %q has a zero embedding", p.Prompt)
		}
	}
	return nil
}

// Texts liefert die Prompts in Tabellenreihenfolge.
func (t *PromptTable) Texts() []string {
	out := make([]string, len(t.Prompts))
	for i, p := range t.Prompts {
		out[i] = p.Prompt
	}
	return out
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// normalize liefert eine L2-normalisierte Kopie von v.
func normalize(v []float32) ([]float64, error) {
	n := norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, fmt.Errorf("embedding cannot be normalized")
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x) / n
	}
	return out, nil
}
