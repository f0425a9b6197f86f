package store

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/alxbtnk/duck/internal/models"
	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps asset entries in the asset_entries table.
type GormStore struct {
	db       *gorm.DB
	bucket   Bucket
	maxEntry int64
	maxTotal int64
	log      zerolog.Logger
}

type Option func(*GormStore)

// WithBucket offloads uploaded bytes to object storage; only the public URL is kept in the table.
func WithBucket(b Bucket) Option {
	return func(s *GormStore) { s.bucket = b }
}

// WithLimits caps the size of a single entry and of all stored bytes. Zero disables a cap.
func WithLimits(maxEntry, maxTotal int64) Option {
	return func(s *GormStore) {
		s.maxEntry = maxEntry
		s.maxTotal = maxTotal
	}
}

func NewGormStore(db *gorm.DB, opts ...Option) *GormStore {
	s := &GormStore{
		db:  db,
		log: logger.With("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GormStore) ListKeys(ctx context.Context) []string {
	keys := []string{}
	err := s.db.WithContext(ctx).
		Model(&models.AssetEntry{}).
		Order("slot").
		Pluck("slot", &keys).Error
	if err != nil {
		s.log.Warn().Err(err).Msg("listing asset keys failed, treating as empty")
		return []string{}
	}
	return keys
}

func (s *GormStore) find(ctx context.Context, key string) (*models.AssetEntry, bool) {
	if !ValidKey(key) {
		return nil, false
	}
	var entry models.AssetEntry
	err := s.db.WithContext(ctx).Where("slot = ?", key).Take(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("loading asset entry failed")
		}
		return nil, false
	}
	if reason := corruption(&entry); reason != "" {
		s.log.Warn().Str("key", key).Str("reason", reason).Msg("ignoring corrupt asset entry")
		return nil, false
	}
	return &entry, true
}

// corruption returns why entry cannot be used, or "" when it is sound.
func corruption(entry *models.AssetEntry) string {
	switch {
	case entry.URL != "":
		if Checksum([]byte(entry.URL)) != entry.Checksum {
			return "url checksum mismatch"
		}
		if !ValidRemoteURL(entry.URL) {
			return "url not absolute"
		}
	case len(entry.Data) > 0:
		if Checksum(entry.Data) != entry.Checksum {
			return "data checksum mismatch"
		}
		if _, ok := SniffImage(entry.Data); !ok {
			return "data is not an image"
		}
	default:
		return "entry has neither url nor data"
	}
	return ""
}

func (s *GormStore) Load(ctx context.Context, key string) (string, bool) {
	entry, ok := s.find(ctx, key)
	if !ok {
		return "", false
	}
	if entry.URL != "" {
		return entry.URL, true
	}
	return MediaPath(key, entry.Checksum), true
}

func (s *GormStore) Blob(ctx context.Context, key string) (*Image, bool) {
	entry, ok := s.find(ctx, key)
	if !ok || len(entry.Data) == 0 {
		return nil, false
	}
	return &Image{Data: entry.Data, ContentType: entry.ContentType}, true
}

func (s *GormStore) Save(ctx context.Context, key string, img Image) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if img.Empty() {
		return ErrEmptyImage
	}

	entry := models.AssetEntry{Key: key}
	if len(img.Data) > 0 {
		if s.maxEntry > 0 && int64(len(img.Data)) > s.maxEntry {
			return fmt.Errorf("%w: entry is %d bytes, limit %d", ErrQuotaExceeded, len(img.Data), s.maxEntry)
		}
		ct, ok := SniffImage(img.Data)
		if !ok {
			return fmt.Errorf("%w: detected %s", ErrNotImage, ct)
		}
		entry.ContentType = ct
		entry.Checksum = Checksum(img.Data)

		if s.bucket != nil {
			objectKey := fmt.Sprintf("assets/%s/%s%s", key, entry.Checksum[:16], extensionFor(ct))
			publicURL, err := s.bucket.Put(ctx, objectKey, img.Data, ct)
			if err != nil {
				return fmt.Errorf("%w: bucket upload: %v", ErrUnavailable, err)
			}
			entry.URL = publicURL
			entry.Checksum = Checksum([]byte(publicURL))
		} else {
			entry.Data = img.Data
			entry.Size = int64(len(img.Data))
		}
	} else {
		ref := strings.TrimSpace(img.URL)
		if !ValidRemoteURL(ref) {
			return fmt.Errorf("%w: %q is not an absolute URL", ErrNotImage, ref)
		}
		entry.URL = ref
		entry.ContentType = img.ContentType
		entry.Checksum = Checksum([]byte(ref))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.maxTotal > 0 && entry.Size > 0 {
			var others int64
			if err := tx.Model(&models.AssetEntry{}).
				Where("slot <> ?", key).
				Select("COALESCE(SUM(size), 0)").
				Scan(&others).Error; err != nil {
				return err
			}
			if others+entry.Size > s.maxTotal {
				return fmt.Errorf("%w: store would hold %d bytes, limit %d", ErrQuotaExceeded, others+entry.Size, s.maxTotal)
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slot"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "data", "content_type", "size", "checksum", "updated_at"}),
		}).Create(&entry).Error
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.log.Debug().Str("key", key).Int64("size", entry.Size).Bool("remote", entry.URL != "").Msg("asset entry saved")
	return nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
