package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"leaflens/auth"
	"leaflens/ml"
	"leaflens/models"
	"leaflens/storage"
)

// InferenceService führt eine Vorhersage durch: Bild ablegen, Gate, Klassifikator,
// Katalogabgleich, genau ein Prediction-Datensatz.
type InferenceService struct {
	Store       storage.ImageStore
	Gate        ml.Gate
	Classifier  ml.Classifier
	Catalog     *CatalogService
	Predictions *PredictionStore
	Logger      *zap.Logger
}

// NewInferenceService erstellt eine neue Instanz des InferenceService.
func NewInferenceService(store storage.ImageStore, gate ml.Gate, classifier ml.Classifier, catalog *CatalogService, predictions *PredictionStore, logger *zap.Logger) *InferenceService {
	return &InferenceService{
		Store:       store,
		Gate:        gate,
		Classifier:  classifier,
		Catalog:     catalog,
		Predictions: predictions,
		Logger:      logger,
	}
}

func observeStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Predict verarbeitet ein hochgeladenes Bild. actor ist nil für anonyme Aufrufer.
// Scheitert der Klassifikator, wird der Fehler zurückgegeben und das Bild bleibt ohne Vorhersage liegen.
func (s *InferenceService) Predict(ctx context.Context, actor *auth.Identity, filename string, image []byte) (*models.Prediction, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	start := time.Now()
	ref, err := s.Store.Save(ctx, storage.NewImageKey(filename), image)
	observeStage("store", start)
	if err != nil {
		predictionsCounter.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("store image: %w", err)
	}
	log := s.Logger.With(zap.String("image", ref))

	p := &models.Prediction{ImagePath: ref}
	if actor != nil {
		uid := actor.UserID
		p.UserID = &uid
	}

	start = time.Now()
	admitted := s.Gate.Admit(ctx, image)
	observeStage("gate", start)

	if !admitted {
		p.Scores = datatypes.JSONMap(ml.RejectionScores())
		if err := s.Predictions.Create(ctx, p); err != nil {
			predictionsCounter.WithLabelValues("failed").Inc()
			return nil, err
		}
		predictionsCounter.WithLabelValues("rejected").Inc()
		log.Info("Image rejected by gate", zap.Uint("prediction_id", p.ID))
		return p, nil
	}

	start = time.Now()
	label, scores, err := s.Classifier.Classify(ctx, image)
	observeStage("classify", start)
	if err != nil {
		predictionsCounter.WithLabelValues("failed").Inc()
		log.Error("Classification failed", zap.Error(err))
		return nil, fmt.Errorf("classify image: %w", err)
	}

	disease, err := s.Catalog.FindByName(ctx, label)
	if err != nil {
		predictionsCounter.WithLabelValues("failed").Inc()
		return nil, err
	}

	p.Disease = disease
	p.Scores = make(datatypes.JSONMap, len(scores))
	for class, v := range scores {
		p.Scores[class] = v
	}
	if err := s.Predictions.Create(ctx, p); err != nil {
		predictionsCounter.WithLabelValues("failed").Inc()
		return nil, err
	}

	outcome := "matched"
	if disease == nil {
		outcome = "unmatched"
		log.Warn("No catalog entry for predicted label", zap.String("label", label))
	}
	predictionsCounter.WithLabelValues(outcome).Inc()
	log.Info("Prediction created",
		zap.Uint("prediction_id", p.ID),
		zap.String("label", label),
		zap.Float64("confidence", scores[label]))
	return p, nil
}
