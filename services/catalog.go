package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"leaflens/models"
)

// CatalogService liest den Krankheitskatalog. Geschrieben wird das Wissensdokument
// nur vom CurationService.
type CatalogService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewCatalogService erstellt eine neue Instanz des CatalogService.
func NewCatalogService(db *gorm.DB, logger *zap.Logger) *CatalogService {
	return &CatalogService{DB: db, Logger: logger}
}

// DiseaseFilter entspricht den Query-Parametern der Katalogliste.
type DiseaseFilter struct {
	Name                   string
	NameContains           string
	ScientificName         string
	ScientificNameContains string
	Search                 string
}

// containsPattern maskiert LIKE-Platzhalter und liefert ein Muster für "enthält".
func containsPattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

const likeEscape = ` LIKE ? ESCAPE '\'`

// FindByName sucht eine Krankheit ohne Beachtung der Groß-/Kleinschreibung.
// Bei mehreren Treffern gewinnt die kleinste ID. Kein Treffer ist kein Fehler (nil, nil).
func (s *CatalogService) FindByName(ctx context.Context, name string) (*models.Disease, error) {
	var d models.Disease
	err := s.DB.WithContext(ctx).
		Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name))).
		Order("id").
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup disease %q: %w", name, err)
	}
	return &d, nil
}

// Get liefert eine Krankheit per ID.
func (s *CatalogService) Get(ctx context.Context, id uint) (*models.Disease, error) {
	var d models.Disease
	if err := s.DB.WithContext(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDiseaseNotFound
		}
		return nil, err
	}
	return &d, nil
}

// List liefert den Katalog nach Namen sortiert.
func (s *CatalogService) List(ctx context.Context, f DiseaseFilter) ([]models.Disease, error) {
	query := s.DB.WithContext(ctx).Model(&models.Disease{})

	if f.Name != "" {
		query = query.Where("name = ?", f.Name)
	}
	if f.NameContains != "" {
		query = query.Where("LOWER(name)"+likeEscape, containsPattern(f.NameContains))
	}
	if f.ScientificName != "" {
		query = query.Where("scientific_name = ?", f.ScientificName)
	}
	if f.ScientificNameContains != "" {
		query = query.Where("LOWER(scientific_name)"+likeEscape, containsPattern(f.ScientificNameContains))
	}
	if f.Search != "" {
		p := containsPattern(f.Search)
		query = query.Where(s.DB.Where("LOWER(name)"+likeEscape, p).Or("LOWER(scientific_name)"+likeEscape, p))
	}

	diseases := []models.Disease{}
	if err := query.Order("name").Order("id").Find(&diseases).Error; err != nil {
		return nil, err
	}
	return diseases, nil
}

// Upsert legt eine Krankheit an oder aktualisiert den Eintrag mit gleichem Namen.
func (s *CatalogService) Upsert(ctx context.Context, d models.Disease) (created bool, err error) {
	existing, err := s.FindByName(ctx, d.Name)
	if err != nil {
		return false, err
	}
	doc := d.Document.Data()
	d.Document = models.NewDocument(doc)

	if existing == nil {
		d.ID = 0
		if err := s.DB.WithContext(ctx).Create(&d).Error; err != nil {
			return false, fmt.Errorf("create disease %q: %w", d.Name, err)
		}
		return true, nil
	}

	err = s.DB.WithContext(ctx).Model(existing).Updates(map[string]interface{}{
		"scientific_name": d.ScientificName,
		"description":     d.Description,
		"metadata":        d.Document,
		"sample_image":    d.SampleImage,
	}).Error
	if err != nil {
		return false, fmt.Errorf("update disease %q: %w", d.Name, err)
	}
	return false, nil
}

// Seed legt die angegebenen Krankheiten mit leerem Wissensdokument an, sofern sie fehlen.
func (s *CatalogService) Seed(ctx context.Context, names []string) (int, error) {
	created := 0
	for _, name := range names {
		existing, err := s.FindByName(ctx, name)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		d := models.Disease{Name: name, Document: models.NewDocument(models.KnowledgeDocument{})}
		if err := s.DB.WithContext(ctx).Create(&d).Error; err != nil {
			return created, fmt.Errorf("seed disease %q: %w", name, err)
		}
		s.Logger.Info("Seeded disease", zap.String("name", name))
		created++
	}
	return created, nil
}
