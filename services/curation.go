package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leaflens/auth"
	"leaflens/locker"
	"leaflens/models"
)

// CurationService verwaltet Vorschläge und übernimmt freigegebene Texte in das
// Wissensdokument der Krankheit.
type CurationService struct {
	DB     *gorm.DB
	Locker locker.Locker
	Logger *zap.Logger
}

// NewCurationService erstellt eine neue Instanz des CurationService.
func NewCurationService(db *gorm.DB, l locker.Locker, logger *zap.Logger) *CurationService {
	return &CurationService{DB: db, Locker: l, Logger: logger}
}

// SuggestionInput sind die vom Client gelieferten Felder. Status und Benutzer setzt der Service.
type SuggestionInput struct {
	DiseaseID uint   `json:"disease"`
	Category  string `json:"type"`
	Body      string `json:"suggestion"`
}

// SuggestionFilter entspricht den Query-Parametern der Vorschlagsliste.
type SuggestionFilter struct {
	DiseaseID *uint
	Category  string
	Status    string
	Search    string
}

func diseaseLockKey(id uint) string {
	return fmt.Sprintf("disease:%d", id)
}

func requireAdmin(actor *auth.Identity) error {
	if actor == nil {
		return ErrUnauthenticated
	}
	if !actor.IsAdmin {
		return ErrForbidden
	}
	return nil
}

// Submit legt einen Vorschlag im Status pending an.
func (s *CurationService) Submit(ctx context.Context, actor *auth.Identity, in SuggestionInput) (*models.Suggestion, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	if _, ok := models.DocumentList(in.Category); !ok {
		return nil, ErrInvalidCategory
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, ErrEmptySuggestion
	}
	if in.DiseaseID == 0 {
		return nil, ErrUnknownDisease
	}

	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.Disease{}).Where("id = ?", in.DiseaseID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrUnknownDisease
	}

	sg := &models.Suggestion{
		DiseaseID: in.DiseaseID,
		UserID:    actor.UserID,
		Category:  in.Category,
		Body:      in.Body,
		Status:    models.StatusPending,
	}
	if err := s.DB.WithContext(ctx).Omit(clause.Associations).Create(sg).Error; err != nil {
		return nil, fmt.Errorf("create suggestion: %w", err)
	}
	suggestionsCounter.WithLabelValues("submitted").Inc()
	s.Logger.Info("Suggestion submitted",
		zap.Uint("suggestion_id", sg.ID),
		zap.Uint("disease_id", sg.DiseaseID),
		zap.String("type", sg.Category),
		zap.Uint("user_id", actor.UserID))
	return sg, nil
}

// Approve übernimmt den Vorschlag in die passende Liste des Wissensdokuments und setzt
// den Status auf approved. Beides geschieht in einer Transaktion unter der Sperre der Krankheit.
// Steht der Text schon in der Liste, bleibt alles unverändert und ErrDuplicateSuggestion wird geliefert.
func (s *CurationService) Approve(ctx context.Context, actor *auth.Identity, id uint) (*models.Suggestion, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var target models.Suggestion
	if err := s.DB.WithContext(ctx).Select("id", "disease_id").First(&target, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSuggestionNotFound
		}
		return nil, err
	}

	unlock, err := s.Locker.Lock(ctx, diseaseLockKey(target.DiseaseID))
	if err != nil {
		return nil, fmt.Errorf("lock disease %d: %w", target.DiseaseID, err)
	}
	defer unlock()

	log := s.Logger.With(zap.Uint("suggestion_id", id), zap.Uint("disease_id", target.DiseaseID))

	var sg models.Suggestion
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sg, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSuggestionNotFound
			}
			return err
		}
		if sg.Status != models.StatusPending {
			return ErrSuggestionNotPending
		}

		var disease models.Disease
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&disease, sg.DiseaseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDiseaseNotFound
			}
			return err
		}

		doc := disease.Document.Data()
		doc.Normalize()
		name, ok := models.DocumentList(sg.Category)
		if !ok {
			return ErrInvalidCategory
		}
		list := doc.List(name)
		for _, existing := range *list {
			if existing == sg.Body {
				return ErrDuplicateSuggestion
			}
		}
		*list = append(*list, sg.Body)

		if err := tx.Model(&models.Disease{}).Where("id = ?", disease.ID).
			Update("metadata", models.NewDocument(doc)).Error; err != nil {
			return fmt.Errorf("update disease document: %w", err)
		}

		res := tx.Model(&models.Suggestion{}).
			Where("id = ? AND status = ?", sg.ID, models.StatusPending).
			Update("status", models.StatusApproved)
		if res.Error != nil {
			return fmt.Errorf("update suggestion status: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrSuggestionNotPending
		}
		sg.Status = models.StatusApproved
		return nil
	})

	switch {
	case errors.Is(err, ErrDuplicateSuggestion):
		suggestionsCounter.WithLabelValues("duplicate").Inc()
		log.Info("Suggestion already present in disease document")
		return nil, err
	case err != nil:
		return nil, err
	}

	suggestionsCounter.WithLabelValues("approved").Inc()
	log.Info("Suggestion approved", zap.String("type", sg.Category), zap.Uint("admin_id", actor.UserID))
	return &sg, nil
}

// Reject setzt einen offenen Vorschlag auf rejected. Das Wissensdokument bleibt unverändert.
func (s *CurationService) Reject(ctx context.Context, actor *auth.Identity, id uint) (*models.Suggestion, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	res := s.DB.WithContext(ctx).Model(&models.Suggestion{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Update("status", models.StatusRejected)
	if res.Error != nil {
		return nil, fmt.Errorf("reject suggestion %d: %w", id, res.Error)
	}

	var sg models.Suggestion
	if err := s.DB.WithContext(ctx).First(&sg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSuggestionNotFound
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, ErrSuggestionNotPending
	}

	suggestionsCounter.WithLabelValues("rejected").Inc()
	s.Logger.Info("Suggestion rejected", zap.Uint("suggestion_id", id), zap.Uint("admin_id", actor.UserID))
	return &sg, nil
}

// List liefert Vorschläge, neueste zuerst.
func (s *CurationService) List(ctx context.Context, actor *auth.Identity, f SuggestionFilter) ([]models.Suggestion, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	query := s.DB.WithContext(ctx).Model(&models.Suggestion{})
	if f.DiseaseID != nil {
		query = query.Where("disease_id = ?", *f.DiseaseID)
	}
	if f.Category != "" {
		query = query.Where("type = ?", f.Category)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Search != "" {
		query = query.Where("LOWER(suggestion)"+likeEscape, containsPattern(f.Search))
	}

	suggestions := []models.Suggestion{}
	if err := query.Order("created_at DESC").Order("id DESC").Find(&suggestions).Error; err != nil {
		return nil, err
	}
	return suggestions, nil
}

// Get liefert einen Vorschlag per ID.
func (s *CurationService) Get(ctx context.Context, actor *auth.Identity, id uint) (*models.Suggestion, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	var sg models.Suggestion
	if err := s.DB.WithContext(ctx).First(&sg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSuggestionNotFound
		}
		return nil, err
	}
	return &sg, nil
}
