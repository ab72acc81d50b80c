package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"leaflens/config"
	"leaflens/database"
	"leaflens/models"
)

const sampleCatalog = `
diseases:
  - name: Common Rust
    scientific_name: Puccinia sorghi
    description: Reddish-brown pustules on both leaf surfaces.
    metadata:
      causes:
        - Puccinia sorghi spores
      prevention:
        - Resistant hybrids
  - name: Healthy
`

func TestParseCatalog(t *testing.T) {
	diseases, err := parseCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, diseases, 2)

	rust := diseases[0]
	assert.Equal(t, "Common Rust", rust.Name)
	require.NotNil(t, rust.ScientificName)
	assert.Equal(t, "Puccinia sorghi", *rust.ScientificName)
	assert.Nil(t, rust.SampleImage)
	assert.Equal(t, []string{"Resistant hybrids"}, rust.Document.Data().Prevention)
	assert.Equal(t, []string{}, rust.Document.Data().Treatment)

	assert.Nil(t, diseases[1].Description)
	assert.NotNil(t, diseases[1].Document.Data().Causes)
}

func TestParseCatalogRejectsBadEntries(t *testing.T) {
	_, err := parseCatalog(strings.NewReader("diseases:\n  - name: Blight\n  - name: blight\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = parseCatalog(strings.NewReader("diseases:\n  - scientific_name: x\n"))
	assert.ErrorContains(t, err, "name is required")

	_, err = parseCatalog(strings.NewReader("diseases: [\n"))
	assert.Error(t, err)
}

func TestImportCatalogUpserts(t *testing.T) {
	db, err := database.Open(&config.Database{DBDriver: "sqlite", DBSQLitePath: filepath.Join(t.TempDir(), "import.db")})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, db.Create(&models.Disease{Name: "healthy", Document: models.NewDocument(models.KnowledgeDocument{})}).Error)

	created, updated, err := importCatalog(context.Background(), db, strings.NewReader(sampleCatalog), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, updated)

	created, updated, err = importCatalog(context.Background(), db, strings.NewReader(sampleCatalog), zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, 2, updated)

	var count int64
	db.Model(&models.Disease{}).Count(&count)
	assert.Equal(t, int64(2), count)
}
