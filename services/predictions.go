package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leaflens/auth"
	"leaflens/models"
	"leaflens/storage"
)

// PredictionStore ist der Datenzugriff für Vorhersagen. Gelesen wird immer nur
// im Namen eines Besitzers.
type PredictionStore struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewPredictionStore erstellt eine neue Instanz des PredictionStore.
func NewPredictionStore(db *gorm.DB, logger *zap.Logger) *PredictionStore {
	return &PredictionStore{DB: db, Logger: logger}
}

// PredictionFilter entspricht den Query-Parametern der Vorhersageliste.
type PredictionFilter struct {
	DiseaseID           *uint
	DiseaseNameContains string
	CreatedAfter        *time.Time // inklusive, ab Tagesbeginn
	CreatedBefore       *time.Time // inklusive, bis Tagesende
}

// Create speichert eine Vorhersage. ID und CreatedAt werden von gorm gesetzt.
// Die Krankheit wird nur referenziert, nie mitgeschrieben.
func (s *PredictionStore) Create(ctx context.Context, p *models.Prediction) error {
	if p.Disease != nil {
		id := p.Disease.ID
		p.DiseaseID = &id
	}
	if err := s.DB.WithContext(ctx).Omit(clause.Associations).Create(p).Error; err != nil {
		return fmt.Errorf("create prediction: %w", err)
	}
	return nil
}

func (s *PredictionStore) ownedBy(ctx context.Context, owner *auth.Identity) *gorm.DB {
	return s.DB.WithContext(ctx).Model(&models.Prediction{}).Where("user_id = ?", owner.UserID)
}

// ListByOwner liefert die Vorhersagen des Aufrufers, neueste zuerst.
// Anonyme Aufrufer bekommen immer eine leere Liste.
func (s *PredictionStore) ListByOwner(ctx context.Context, owner *auth.Identity, f PredictionFilter) ([]models.Prediction, error) {
	predictions := []models.Prediction{}
	if owner == nil {
		return predictions, nil
	}

	query := s.ownedBy(ctx, owner).Preload("Disease")
	if f.DiseaseID != nil {
		query = query.Where("predicted_disease_id = ?", *f.DiseaseID)
	}
	if f.DiseaseNameContains != "" {
		sub := s.DB.Model(&models.Disease{}).Select("id").
			Where("LOWER(name)"+likeEscape, containsPattern(f.DiseaseNameContains))
		query = query.Where("predicted_disease_id IN (?)", sub)
	}
	if f.CreatedAfter != nil {
		query = query.Where("created_at >= ?", startOfDay(*f.CreatedAfter))
	}
	if f.CreatedBefore != nil {
		query = query.Where("created_at < ?", startOfDay(*f.CreatedBefore).AddDate(0, 0, 1))
	}

	if err := query.Order("created_at DESC").Order("id DESC").Find(&predictions).Error; err != nil {
		return nil, err
	}
	return predictions, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// GetOwned liefert eine Vorhersage des Aufrufers. Fremde Vorhersagen sind nicht auffindbar.
func (s *PredictionStore) GetOwned(ctx context.Context, owner *auth.Identity, id uint) (*models.Prediction, error) {
	if owner == nil {
		return nil, ErrPredictionNotFound
	}
	var p models.Prediction
	if err := s.ownedBy(ctx, owner).Preload("Disease").First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPredictionNotFound
		}
		return nil, err
	}
	return &p, nil
}

// DeleteOwned löscht eine Vorhersage des Aufrufers. Das Bild bleibt liegen und wird
// vom OrphanSweeper entfernt.
func (s *PredictionStore) DeleteOwned(ctx context.Context, owner *auth.Identity, id uint) error {
	if owner == nil {
		return ErrPredictionNotFound
	}
	res := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, owner.UserID).Delete(&models.Prediction{})
	if res.Error != nil {
		return fmt.Errorf("delete prediction %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPredictionNotFound
	}
	s.Logger.Info("Prediction deleted", zap.Uint("prediction_id", id), zap.Uint("user_id", owner.UserID))
	return nil
}

// ReferencedKeys liefert die Ablageschlüssel aller Bilder, die noch von einer Vorhersage genutzt werden.
func (s *PredictionStore) ReferencedKeys(ctx context.Context) (map[string]bool, error) {
	var paths []string
	if err := s.DB.WithContext(ctx).Model(&models.Prediction{}).Distinct().Pluck("image_path", &paths).Error; err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(paths))
	for _, p := range paths {
		if key, ok := storage.KeyFromRef(p); ok {
			keys[key] = true
		}
	}
	return keys, nil
}
