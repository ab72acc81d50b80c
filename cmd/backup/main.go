package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"leaflens/config"
	"leaflens/database"
	"leaflens/storage"
)

type BackupConfig struct {
	config.Database
	config.Storage
	KeepBackups int    `envconfig:"KEEP_BACKUPS" default:"4"`
	Prefix      string `envconfig:"BACKUP_PREFIX" default:"backups/"`
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()
	logging.Info("Starte Backup-Prozess...")

	var cfg BackupConfig
	if err := config.LoadInto(&cfg); err != nil {
		logging.Fatal("Fehler beim Laden der Konfiguration", zap.Error(err))
	}
	if err := cfg.Database.Validate(); err != nil {
		logging.Fatal("Fehler beim Laden der Konfiguration", zap.Error(err))
	}
	if err := cfg.Storage.Validate(); err != nil {
		logging.Fatal("Fehler beim Laden der Konfiguration", zap.Error(err))
	}
	ctx := context.Background()

	// 1. Datenbank-Dump erstellen
	var dump []byte
	switch cfg.DBDriver {
	case "postgres":
		dump, err = pgDump(ctx, &cfg.Database)
	case "sqlite":
		dump, err = sqliteSnapshot(&cfg.Database)
	}
	if err != nil {
		logging.Fatal("Fehler beim Erstellen des DB-Dumps", zap.Error(err))
	}

	// 2. Ablage öffnen, dieselbe wie für die Bilder
	store, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		logging.Fatal("Fehler beim Öffnen der Ablage", zap.Error(err))
	}

	// 3. Backup hochladen
	key := backupKey(cfg.Prefix, cfg.DBDriver, time.Now())
	ref, err := store.Save(ctx, key, dump)
	if err != nil {
		logging.Fatal("Fehler beim Hochladen des Backups", zap.Error(err))
	}
	logging.Info("Backup erfolgreich hochgeladen", zap.String("ref", ref), zap.Int("bytes", len(dump)))

	// 4. Alte Backups rotieren
	deleted, err := rotateBackups(ctx, store, cfg.Prefix, cfg.KeepBackups, logging)
	if err != nil {
		logging.Fatal("Fehler bei der Rotation alter Backups", zap.Error(err))
	}
	logging.Info("Backup-Prozess erfolgreich abgeschlossen.", zap.Int("rotated", deleted))
}

func backupKey(prefix, driver string, now time.Time) string {
	ext := ".sql.gz"
	if driver == "sqlite" {
		ext = ".sqlite.gz"
	}
	return prefix + "backup-" + now.UTC().Format("2006-01-02T15-04-05Z") + ext
}

func pgDump(ctx context.Context, cfg *config.Database) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", cfg.DBHost,
		"-p", fmt.Sprint(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w", // Passwort wird über PGPASSWORD bereitgestellt
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.DBPassword))
	return runDump(cmd)
}

// runDump startet cmd, komprimiert dessen Ausgabe und wartet immer auf das Prozessende.
func runDump(cmd *exec.Cmd) ([]byte, error) {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	data, err := gzipStream(stdout)
	if err != nil {
		// Prozess beenden, sonst blockiert er auf der vollen Pipe
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("compress %s output: %w", cmd.Path, err)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(cmd.Path), err, bytes.TrimSpace(stderr.Bytes()))
	}
	return data, nil
}

// sqliteSnapshot erzeugt mit VACUUM INTO eine konsistente Kopie der laufenden Datenbank.
func sqliteSnapshot(cfg *config.Database) ([]byte, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("leaflens-backup-%d.db", time.Now().UnixNano()))
	defer os.Remove(tmp)
	if err := db.Exec("VACUUM INTO ?", tmp).Error; err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}

	f, err := os.Open(tmp)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return gzipStream(f)
}

func gzipStream(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := io.Copy(gzipWriter, r); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// expiredBackups liefert alle Backups außer den keep neuesten.
func expiredBackups(objects []storage.Object, keep int) []storage.Object {
	if len(objects) <= keep {
		return nil
	}
	sorted := append([]storage.Object(nil), objects...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ModTime.After(sorted[j].ModTime)
	})
	return sorted[keep:]
}

func rotateBackups(ctx context.Context, store storage.ImageStore, prefix string, keep int, logger *zap.Logger) (int, error) {
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	expired := expiredBackups(objects, keep)
	if len(expired) == 0 {
		logger.Info("Keine Rotation nötig", zap.Int("backups", len(objects)), zap.Int("keep", keep))
		return 0, nil
	}

	deleted := 0
	for _, obj := range expired {
		logger.Info("Lösche altes Backup", zap.String("key", obj.Key))
		if err := store.Delete(ctx, obj.Key); err != nil {
			logger.Warn("Fehler beim Löschen", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}
