package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"readshelf/pkg/domain"
)

const migrateLockID int64 = 48120734

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas cannot race the schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&FolderModel{}, &BookModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(b domain.Book) error {
	model, err := s.bookToModel(b)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "cover_key", "file_key", "folder_id", "content", "chapters",
			"words", "total_pages", "processed_pages", "status", "summary", "updated_at",
		}),
	}).Create(&model).Error
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.Preload("Folder").First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books, newest first.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Preload("Folder").Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// DeleteBook removes a book record.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Delete(&BookModel{}, "id = ?", id).Error
}

// AdvanceContent applies one page-advance batch. The UPDATE is guarded by
// the previously observed cursor value so two racing advances cannot both
// append the same window.
func (s *GormStore) AdvanceContent(id string, prevProcessed int, content string, words int, processed int, status domain.BookStatus) (bool, error) {
	res := s.db.Model(&BookModel{}).
		Where("id = ? AND processed_pages = ?", id, prevProcessed).
		Updates(map[string]any{
			"content":         content,
			"words":           words,
			"processed_pages": processed,
			"status":          string(status),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IncrementDownloads bumps the download counter in a single UPDATE.
func (s *GormStore) IncrementDownloads(id string) (domain.Book, bool, error) {
	return s.incrementCounter(id, "downloads")
}

// IncrementTTSHits bumps the text-to-speech counter in a single UPDATE.
func (s *GormStore) IncrementTTSHits(id string) (domain.Book, bool, error) {
	return s.incrementCounter(id, "tts_hits")
}

func (s *GormStore) incrementCounter(id, column string) (domain.Book, bool, error) {
	res := s.db.Model(&BookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			column:       gorm.Expr(column+" + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.Book{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Book{}, false, nil
	}
	return s.GetBook(id)
}

// CreateFolder inserts a folder; duplicate names map to ErrFolderExists.
func (s *GormStore) CreateFolder(f domain.Folder) error {
	model := FolderModel{ID: f.ID, Name: f.Name, CreatedAt: f.CreatedAt}
	err := s.db.Create(&model).Error
	if err != nil && isUniqueViolation(err) {
		return ErrFolderExists
	}
	return err
}

// GetFolderByName looks up a folder by its unique name.
func (s *GormStore) GetFolderByName(name string) (domain.Folder, bool, error) {
	var model FolderModel
	if err := s.db.Where("name = ?", name).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Folder{}, false, nil
		}
		return domain.Folder{}, false, err
	}
	return folderFromModel(model), true, nil
}

// ListFolders returns all folders ordered by creation time.
func (s *GormStore) ListFolders() ([]domain.Folder, error) {
	var models []FolderModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Folder, 0, len(models))
	for _, m := range models {
		res = append(res, folderFromModel(m))
	}
	return res, nil
}

// DeleteFolderByName removes a folder unless any book still references it.
// It reports false when no folder with that name exists.
func (s *GormStore) DeleteFolderByName(name string) (bool, error) {
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model FolderModel
		if err := tx.Where("name = ?", name).First(&model).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		found = true
		var refs int64
		if err := tx.Model(&BookModel{}).Where("folder_id = ?", model.ID).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			return ErrFolderInUse
		}
		return tx.Delete(&FolderModel{}, "id = ?", model.ID).Error
	})
	if err != nil {
		return found, err
	}
	return found, nil
}

func isUniqueViolation(err error) bool {
	// 23505 is the Postgres unique_violation code; the driver error text
	// always carries it.
	return err != nil && strings.Contains(err.Error(), "23505")
}

func (s *GormStore) bookToModel(b domain.Book) (BookModel, error) {
	chapters := b.Chapters
	if chapters == nil {
		chapters = []domain.Chapter{}
	}
	raw, err := json.Marshal(chapters)
	if err != nil {
		return BookModel{}, fmt.Errorf("marshal chapters: %w", err)
	}
	var folderID *string
	if strings.TrimSpace(b.FolderID) != "" {
		value := strings.TrimSpace(b.FolderID)
		folderID = &value
	}
	return BookModel{
		ID:             b.ID,
		Title:          b.Title,
		CoverKey:       b.CoverKey,
		FileKey:        b.FileKey,
		FolderID:       folderID,
		Downloads:      b.Downloads,
		TTSHits:        b.TTSHits,
		Content:        b.Content,
		Chapters:       raw,
		Words:          b.Words,
		TotalPages:     b.TotalPages,
		ProcessedPages: b.ProcessedPages,
		Status:         string(b.Status),
		Summary:        b.Summary,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}, nil
}

func bookFromModel(m BookModel) domain.Book {
	var chapters []domain.Chapter
	if len(m.Chapters) > 0 {
		_ = json.Unmarshal(m.Chapters, &chapters)
	}
	if chapters == nil {
		chapters = []domain.Chapter{}
	}
	folderID := ""
	folderName := domain.DefaultFolderName
	if m.FolderID != nil {
		folderID = *m.FolderID
	}
	if m.Folder != nil {
		folderName = m.Folder.Name
	}
	return domain.Book{
		ID:             m.ID,
		Title:          m.Title,
		CoverKey:       m.CoverKey,
		FileKey:        m.FileKey,
		FolderID:       folderID,
		Folder:         folderName,
		Downloads:      m.Downloads,
		TTSHits:        m.TTSHits,
		Content:        m.Content,
		Chapters:       chapters,
		Words:          m.Words,
		TotalPages:     m.TotalPages,
		ProcessedPages: m.ProcessedPages,
		Status:         domain.BookStatus(m.Status),
		Summary:        m.Summary,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func folderFromModel(m FolderModel) domain.Folder {
	return domain.Folder{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt}
}
