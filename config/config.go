package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Database enthält die Verbindungsparameter der Datenbank.
type Database struct {
	DBDriver     string `envconfig:"DB_DRIVER" default:"postgres"`
	DBHost       string `envconfig:"DB_HOST" default:"localhost"`
	DBPort       int    `envconfig:"DB_PORT" default:"5432"`
	DBUser       string `envconfig:"DB_USER"`
	DBPassword   string `envconfig:"DB_PASSWORD"`
	DBName       string `envconfig:"DB_NAME" default:"leaflens"`
	DBSQLitePath string `envconfig:"DB_SQLITE_PATH" default:"leaflens.db"`
}

// Storage beschreibt die Bildablage: s3, gcs oder local.
type Storage struct {
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"s3"`
	S3Key          string `envconfig:"S3_KEY"`
	S3Secret       string `envconfig:"S3_SECRET"`
	S3URL          string `envconfig:"S3_URL"`
	S3Region       string `envconfig:"S3_REGION" default:"eu-central-1"`
	S3Bucket       string `envconfig:"S3_BUCKET"`
	GCSBucket      string `envconfig:"GCS_BUCKET"`
	LocalMediaRoot string `envconfig:"LOCAL_MEDIA_ROOT" default:"media"`
	MediaURL       string `envconfig:"MEDIA_URL" default:"/media"`
}

// Config enthält alle Konfigurationsparameter des API-Servers aus Umgebungsvariablen.
type Config struct {
	Database
	Storage

	HTTPPort    string `envconfig:"HTTP_PORT" default:"4242"`
	MaxUploadMB int64  `envconfig:"MAX_UPLOAD_MB" default:"10"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"leaflens"`

	// Modelle werden einmal beim Start geladen
	ClassifierModelPath string   `envconfig:"CLASSIFIER_MODEL_PATH" required:"true"`
	ClassifierInputSize int      `envconfig:"CLASSIFIER_INPUT_SIZE" default:"224"`
	ClassifierClasses   []string `envconfig:"CLASSIFIER_CLASSES" default:"Blight,Common Rust,Gray Leaf Spot,Healthy"`
	GateModelPath       string   `envconfig:"GATE_MODEL_PATH" required:"true"`
	GateInputSize       int      `envconfig:"GATE_INPUT_SIZE" default:"224"`
	GatePromptsPath     string   `envconfig:"GATE_PROMPTS_PATH" required:"true"`
	GateThreshold       float64  `envconfig:"GATE_THRESHOLD" default:"0.29"`
	ModelThreads        int      `envconfig:"MODEL_THREADS" default:"0"`

	RedisURL string        `envconfig:"REDIS_URL"`
	LockTTL  time.Duration `envconfig:"LOCK_TTL" default:"30s"`

	OrphanSweepSchedule string        `envconfig:"ORPHAN_SWEEP_SCHEDULE"`
	OrphanMinAge        time.Duration `envconfig:"ORPHAN_MIN_AGE" default:"24h"`

	SeedCatalog bool `envconfig:"SEED_CATALOG" default:"true"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (d *Database) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		d.DBHost, d.DBUser, d.DBPassword, d.DBName, d.DBPort)
}

func (d *Database) Validate() error {
	switch d.DBDriver {
	case "postgres":
		if d.DBUser == "" {
			return fmt.Errorf("DB_USER is required for postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", d.DBDriver)
	}
	return nil
}

func (s *Storage) Validate() error {
	switch s.StorageBackend {
	case "s3":
		if s.S3URL == "" || s.S3Bucket == "" || s.S3Key == "" || s.S3Secret == "" {
			return fmt.Errorf("S3_URL, S3_BUCKET, S3_KEY and S3_SECRET are required for the s3 backend")
		}
	case "gcs":
		if s.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required for the gcs backend")
		}
	case "local":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", s.StorageBackend)
	}
	return nil
}

// MaxUploadBytes liefert die maximale Größe eines hochgeladenen Bildes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Validate prüft die Kombinationen, die envconfig allein nicht abdecken kann.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.GateThreshold < -1 || c.GateThreshold > 1 {
		return fmt.Errorf("GATE_THRESHOLD must be within [-1, 1], got %v", c.GateThreshold)
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, c.Validate()
}

// LoadInto füllt die Konfiguration eines Hilfsprogramms. target muss ein Pointer auf ein Struct sein.
func LoadInto(target interface{}) error {
	_ = godotenv.Load()
	return envconfig.Process("", target)
}
