package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"leaflens/config"
)

// PredictionPrefix ist das Verzeichnis, unter dem hochgeladene Bilder abgelegt werden.
const PredictionPrefix = "predictions/"

// Object beschreibt ein abgelegtes Bild.
type Object struct {
	Key     string
	Ref     string
	ModTime time.Time
}

// ImageStore ist die dauerhafte Ablage für hochgeladene Bilder.
type ImageStore interface {
	// Save legt data unter key ab und liefert die stabile Referenz, die in der Datenbank landet.
	Save(ctx context.Context, key string, data []byte) (string, error)
	// Ref berechnet die Referenz für key, ohne die Ablage zu kontaktieren.
	Ref(key string) string
	// List liefert alle Objekte unterhalb von prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

// NewImageKey erzeugt einen kollisionsfreien Schlüssel unter predictions/ und behält die Dateiendung bei.
func NewImageKey(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if !imageExtensions[ext] {
		ext = ""
	}
	return PredictionPrefix + uuid.NewString() + ext
}

// KeyFromRef liefert den Ablageschlüssel unter predictions/, auf den ref zeigt.
// Die Referenz endet bei allen Backends auf "/<key>", Basis-URL und Bucket dürfen sich also ändern.
func KeyFromRef(ref string) (string, bool) {
	i := strings.LastIndex("/"+ref, "/"+PredictionPrefix)
	if i < 0 {
		return "", false
	}
	key := ref[i:]
	if key == PredictionPrefix {
		return "", false
	}
	return key, true
}

// New wählt die Ablage anhand von STORAGE_BACKEND.
func New(ctx context.Context, cfg *config.Storage) (ImageStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return NewS3Store(client, cfg.S3Bucket, cfg.S3URL), nil
	case "gcs":
		return NewGCSStore(ctx, cfg.GCSBucket)
	case "local":
		return NewLocalStore(cfg.LocalMediaRoot, cfg.MediaURL), nil
	}
	return nil, errors.New("unknown storage backend: " + cfg.StorageBackend)
}
