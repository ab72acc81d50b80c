// Package ml definiert die Inferenzverträge der zweistufigen Bildklassifikation:
// ein semantisches Zulassungs-Gate und den eigentlichen Krankheitsklassifikator.
package ml

import "context"

// NotAdmittedKey ist der einzige Schlüssel in den Scores einer vom Gate abgewiesenen Vorhersage.
const NotAdmittedKey = "is_maize"

// TensorShape wird von Modell-Runnern erfüllt, die ihre Tensorgrößen kennen.
// Klassifikator und Gate prüfen damit beim Start, ob Modell und Konfiguration zusammenpassen.
type TensorShape interface {
	InputLen() int
	OutputLen() int
}

// Gate entscheidet, ob ein Bild überhaupt die Zielpflanze zeigt.
// Implementierungen geben bei jedem internen Fehler false zurück und liefern nie einen Fehler.
type Gate interface {
	Admit(ctx context.Context, image []byte) bool
}

// Classifier liefert das Label und die vollständige Verteilung über alle Klassen.
// Fehler werden nicht abgefangen, sondern an den Aufrufer weitergegeben.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (string, map[string]float64, error)
}

// RejectionScores ist die Score-Map für abgewiesene Bilder.
func RejectionScores() map[string]interface{} {
	return map[string]interface{}{NotAdmittedKey: false}
}
