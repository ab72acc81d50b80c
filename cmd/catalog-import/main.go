package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"leaflens/config"
	"leaflens/database"
	"leaflens/models"
	"leaflens/services"
)

type ImportConfig struct {
	config.Database
	CatalogFile string `envconfig:"CATALOG_FILE" default:"catalog.yaml"`
}

// catalogEntry ist ein Eintrag der YAML-Datei.
type catalogEntry struct {
	Name           string                   `yaml:"name"`
	ScientificName string                   `yaml:"scientific_name"`
	Description    string                   `yaml:"description"`
	SampleImage    string                   `yaml:"sample_image"`
	Metadata       models.KnowledgeDocument `yaml:"metadata"`
}

type catalogFile struct {
	Diseases []catalogEntry `yaml:"diseases"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// parseCatalog liest die Katalogdatei und prüft, dass jeder Name genau einmal vorkommt.
func parseCatalog(r io.Reader) ([]models.Disease, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Diseases))
	diseases := make([]models.Disease, 0, len(f.Diseases))
	for i, e := range f.Diseases {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("entry %d: name is required", i+1)
		}
		if seen[strings.ToLower(name)] {
			return nil, fmt.Errorf("entry %d: duplicate disease %q", i+1, name)
		}
		seen[strings.ToLower(name)] = true

		diseases = append(diseases, models.Disease{
			Name:           name,
			ScientificName: optional(e.ScientificName),
			Description:    optional(e.Description),
			SampleImage:    optional(e.SampleImage),
			Document:       models.NewDocument(e.Metadata),
		})
	}
	return diseases, nil
}

func importCatalog(ctx context.Context, db *gorm.DB, r io.Reader, logger *zap.Logger) (created, updated int, err error) {
	diseases, err := parseCatalog(r)
	if err != nil {
		return 0, 0, err
	}
	catalog := services.NewCatalogService(db, logger)
	for _, d := range diseases {
		isNew, err := catalog.Upsert(ctx, d)
		if err != nil {
			return created, updated, err
		}
		if isNew {
			created++
			logger.Info("Disease created", zap.String("name", d.Name))
		} else {
			updated++
			logger.Info("Disease updated", zap.String("name", d.Name))
		}
	}
	return created, updated, nil
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	var cfg ImportConfig
	if err := config.LoadInto(&cfg); err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	if len(os.Args) > 1 {
		cfg.CatalogFile = os.Args[1]
	}
	if err := cfg.Database.Validate(); err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	f, err := os.Open(cfg.CatalogFile)
	if err != nil {
		logging.Fatal("Cannot open catalog file", zap.String("file", cfg.CatalogFile), zap.Error(err))
	}
	defer f.Close()

	created, updated, err := importCatalog(context.Background(), db, f, logging)
	if err != nil {
		logging.Fatal("Catalog import failed", zap.Error(err))
	}
	logging.Info("Catalog import completed", zap.Int("created", created), zap.Int("updated", updated))
}
