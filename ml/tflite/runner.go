// Package tflite kapselt einen TensorFlow-Lite-Interpreter, der einmal beim Start geladen
// und danach für alle Anfragen wiederverwendet wird.
package tflite

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/tphakala/go-tflite"
	"go.uber.org/zap"
)

// Runner führt ein Modell mit einem float32-Eingang und einem float32-Ausgang aus.
// Der Interpreter ist nicht threadsicher, Aufrufe werden daher serialisiert.
type Runner struct {
	Name string

	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
	inputLen    int
	outputLen   int
	logger      *zap.Logger
}

// Load lädt das Modell aus path und alloziert die Tensoren.
func Load(name, path string, threads int, logger *zap.Logger) (*Runner, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s model: %w", name, err)
	}
	log := logger.With(zap.String("model", name), zap.String("path", path))

	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, fmt.Errorf("%s model: cannot load TensorFlow Lite model", name)
	}

	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	options := tflite.NewInterpreterOptions()
	defer options.Delete()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ interface{}) {
		log.Error("TFLite error", zap.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, fmt.Errorf("%s model: cannot create interpreter", name)
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("%s model: tensor allocation failed", name)
	}

	r := &Runner{
		Name:        name,
		model:       model,
		interpreter: interpreter,
		inputLen:    elements(interpreter.GetInputTensor(0)),
		outputLen:   elements(interpreter.GetOutputTensor(0)),
		logger:      log,
	}
	log.Info("Model initialized",
		zap.Int("threads", threads),
		zap.Int("input_len", r.inputLen),
		zap.Int("output_len", r.outputLen))
	return r, nil
}

func elements(t *tflite.Tensor) int {
	if t == nil {
		return 0
	}
	n := 1
	for i := 0; i < t.NumDims(); i++ {
		n *= t.Dim(i)
	}
	return n
}

// InputLen ist die Anzahl der float32-Werte des Eingangstensors (Batch eingeschlossen).
func (r *Runner) InputLen() int { return r.inputLen }

// OutputLen ist die Anzahl der float32-Werte des Ausgangstensors.
func (r *Runner) OutputLen() int { return r.outputLen }

// Run kopiert input in den Eingangstensor, führt das Modell aus und liefert eine Kopie des Ausgangs.
func (r *Runner) Run(input []float32) ([]float32, error) {
	if len(input) != r.inputLen {
		return nil, fmt.Errorf("%s model: input has %d values, want %d", r.Name, len(input), r.inputLen)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	in := r.interpreter.GetInputTensor(0)
	if in == nil {
		return nil, fmt.Errorf("%s model: cannot get input tensor", r.Name)
	}
	copy(in.Float32s(), input)

	if status := r.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("%s model: tensor invoke failed", r.Name)
	}

	out := r.interpreter.GetOutputTensor(0)
	if out == nil {
		return nil, fmt.Errorf("%s model: cannot get output tensor", r.Name)
	}
	result := make([]float32, r.outputLen)
	copy(result, out.Float32s())
	return result, nil
}

// Close gibt Interpreter und Modell frei.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interpreter != nil {
		r.interpreter.Delete()
		r.interpreter = nil
	}
	if r.model != nil {
		r.model.Delete()
		r.model = nil
	}
}
