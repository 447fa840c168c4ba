package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"citetrack/config"
	"citetrack/models"
	"citetrack/services"
	"citetrack/storage"
	"citetrack/store"
)

type BackupConfig struct {
	BackupBucket    string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint  string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion    string `envconfig:"BACKUP_S3_REGION" required:"true"`
	BackupPrefix    string `envconfig:"BACKUP_S3_PREFIX" default:"citetrack-backup-"`
	KeepBackups     int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

func main() {
	log.Println("Starte Backup-Prozess...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}
	var bcfg BackupConfig
	if err := envconfig.Process("", &bcfg); err != nil {
		log.Fatalf("Fehler beim Laden der Backup-Konfiguration: %v", err)
	}
	ctx := context.Background()

	// 1. Export aus dem Record Store erstellen
	db, err := store.Open(cfg, zap.NewNop())
	if err != nil {
		log.Fatalf("Fehler beim Öffnen der Datenbank: %v", err)
	}
	unified := storage.NewUnified(storage.NewMemoryBackend(), nil, cfg.StepTimeout, zap.NewNop())
	repo := services.NewRepository(db, unified, cfg.StepTimeout, zap.NewNop())
	defer repo.Close()

	entries, err := repo.ExportEntries(ctx)
	if err != nil {
		log.Fatalf("Fehler beim Export: %v", err)
	}
	data, err := compressEntries(entries)
	if err != nil {
		log.Fatalf("Fehler beim Komprimieren des Exports: %v", err)
	}

	// 2. S3-Client erstellen
	s3Client, err := storage.NewS3Client(ctx, storage.S3Options{
		URL:    bcfg.BackupEndpoint,
		Region: bcfg.BackupRegion,
		Key:    bcfg.BackupAccessKey,
		Secret: bcfg.BackupSecretKey,
	})
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des S3-Clients: %v", err)
	}

	// 3. Backup nach S3 hochladen
	fileName := backupName(bcfg.BackupPrefix, time.Now())
	if err := uploadToS3(ctx, s3Client, bcfg.BackupBucket, fileName, data); err != nil {
		log.Fatalf("Fehler beim Hochladen nach S3: %v", err)
	}
	log.Printf("Backup mit %d Einträgen nach s3://%s/%s hochgeladen", len(entries), bcfg.BackupBucket, fileName)

	// 4. Alte Backups rotieren
	if err := rotateBackups(ctx, s3Client, bcfg.BackupBucket, bcfg.BackupPrefix, bcfg.KeepBackups); err != nil {
		log.Fatalf("Fehler bei der Rotation alter Backups: %v", err)
	}

	log.Println("Backup-Prozess erfolgreich abgeschlossen.")
}

func backupName(prefix string, now time.Time) string {
	return fmt.Sprintf("%s%s.json.gz", prefix, now.UTC().Format("2006-01-02T15-04-05Z"))
}

// compressEntries schreibt die Einträge als gzip-komprimiertes JSON-Array.
func compressEntries(entries []models.ExportEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.ExportEntry{}
	}
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gzipWriter).Encode(entries); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func uploadToS3(ctx context.Context, client storage.S3API, bucket, key string, data []byte) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(data),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}

// rotateBackups behält die keep neuesten Backups mit dem Präfix.
func rotateBackups(ctx context.Context, client storage.S3API, bucket, prefix string, keep int) error {
	var objects []types.Object
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		objects = append(objects, page.Contents...)
	}

	if len(objects) <= keep {
		log.Printf("Weniger als %d Backups vorhanden, keine Rotation nötig.", keep+1)
		return nil
	}

	// Die Namen enthalten den Zeitstempel und sortieren daher chronologisch.
	sort.Slice(objects, func(i, j int) bool {
		return strings.Compare(aws.ToString(objects[i].Key), aws.ToString(objects[j].Key)) > 0
	})

	for _, obj := range objects[keep:] {
		log.Printf("Lösche altes Backup: %s", aws.ToString(obj.Key))
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    obj.Key,
		})
		if err != nil {
			log.Printf("Fehler beim Löschen von %s: %v", aws.ToString(obj.Key), err)
		}
	}
	return nil
}
