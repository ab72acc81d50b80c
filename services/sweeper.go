package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"leaflens/storage"
)

// OrphanSweeper entfernt abgelegte Bilder, zu denen keine Vorhersage existiert.
// Das passiert, wenn der Klassifikator nach dem Speichern scheitert oder eine Vorhersage gelöscht wurde.
type OrphanSweeper struct {
	Store       storage.ImageStore
	Predictions *PredictionStore
	MinAge      time.Duration
	Logger      *zap.Logger

	now func() time.Time
}

// NewOrphanSweeper erstellt eine neue Instanz des OrphanSweeper.
func NewOrphanSweeper(store storage.ImageStore, predictions *PredictionStore, minAge time.Duration, logger *zap.Logger) *OrphanSweeper {
	return &OrphanSweeper{Store: store, Predictions: predictions, MinAge: minAge, Logger: logger, now: time.Now}
}

// Run löscht alle verwaisten Bilder, die älter als MinAge sind, und liefert deren Anzahl.
// Jüngere Bilder bleiben liegen, da ihre Anfrage noch laufen kann.
func (s *OrphanSweeper) Run(ctx context.Context) (int, error) {
	objects, err := s.Store.List(ctx, storage.PredictionPrefix)
	if err != nil {
		return 0, fmt.Errorf("list images: %w", err)
	}
	// Vergleich über den Schlüssel, damit eine geänderte Basis-URL keine Bilder verwaist
	referenced, err := s.Predictions.ReferencedKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("load image references: %w", err)
	}

	cutoff := s.now().Add(-s.MinAge)
	deleted := 0
	for _, obj := range objects {
		if referenced[obj.Key] || obj.ModTime.After(cutoff) {
			continue
		}
		if err := s.Store.Delete(ctx, obj.Key); err != nil {
			s.Logger.Warn("Failed to delete orphaned image", zap.String("key", obj.Key), zap.String("ref", obj.Ref), zap.Error(err))
			continue
		}
		deleted++
		orphanedImagesCounter.Inc()
	}
	return deleted, nil
}
