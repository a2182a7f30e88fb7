package app

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"readshelf/internal/util"
	"readshelf/pkg/domain"
	"readshelf/pkg/lock"
	"readshelf/pkg/ocr"
	"readshelf/pkg/pdf"
	"readshelf/pkg/storage"
	"readshelf/pkg/store"
)

const (
	defaultPreviewPages   = 5
	defaultMinNativeRunes = 80
	defaultPresignExpiry  = 15 * time.Minute
)

// Config holds runtime configuration for the core application. All external
// collaborators are injectable so tests can substitute fakes.
type Config struct {
	DatabaseURL string
	Store       store.Store

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	Objects        storage.ObjectStore

	OCREndpoint string
	OCRTimeout  time.Duration
	OCR         ocr.Engine

	Meta     pdf.MetaReader
	Renderer pdf.Renderer
	Lock     lock.Locker

	PreviewPages        int
	MinNativeRunes      int
	PlaceholderCoverURL string
	PresignExpiry       time.Duration
	AllowedExtensions   []string
}

// App wires the catalog store, object storage, and the ingestion pipeline.
type App struct {
	store            store.Store
	objects          storage.ObjectStore
	ocr              ocr.Engine
	meta             pdf.MetaReader
	renderer         pdf.Renderer
	lock             lock.Locker
	previewPages     int
	minNativeRunes   int
	placeholderCover string
	presignExpiry    time.Duration
	allowedExts      map[string]struct{}
}

// New constructs the application. Collaborators left nil in cfg are built
// from the remaining configuration.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
	}
	engine := cfg.OCR
	if engine == nil {
		if cfg.OCREndpoint == "" {
			return nil, fmt.Errorf("ocr endpoint required")
		}
		engine = ocr.NewPaddleClient(cfg.OCREndpoint, cfg.OCRTimeout)
	}
	if cfg.Lock == nil {
		return nil, fmt.Errorf("advance lock required")
	}
	meta := cfg.Meta
	if meta == nil {
		meta = pdf.NewDocReader()
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = pdf.NewPopplerRenderer()
	}
	previewPages := cfg.PreviewPages
	if previewPages <= 0 {
		previewPages = defaultPreviewPages
	}
	minNativeRunes := cfg.MinNativeRunes
	if minNativeRunes <= 0 {
		minNativeRunes = defaultMinNativeRunes
	}
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = defaultPresignExpiry
	}
	allowed := cfg.AllowedExtensions
	if len(allowed) == 0 {
		allowed = []string{".pdf"}
	}
	allowedExts := make(map[string]struct{}, len(allowed))
	for _, ext := range allowed {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowedExts[ext] = struct{}{}
	}
	return &App{
		store:            dataStore,
		objects:          objects,
		ocr:              engine,
		meta:             meta,
		renderer:         renderer,
		lock:             cfg.Lock,
		previewPages:     previewPages,
		minNativeRunes:   minNativeRunes,
		placeholderCover: cfg.PlaceholderCoverURL,
		presignExpiry:    presignExpiry,
		allowedExts:      allowedExts,
	}, nil
}

// BookSummary is the API shape of a book: the catalog record plus presigned
// access URLs for the cover and the permanent copy.
type BookSummary struct {
	domain.Book
	CoverURL string `json:"coverUrl"`
	FileURL  string `json:"fileUrl"`
}

// ListBooks returns all book summaries, newest first.
func (a *App) ListBooks(ctx context.Context) ([]BookSummary, error) {
	books, err := a.store.ListBooks()
	if err != nil {
		return nil, err
	}
	res := make([]BookSummary, 0, len(books))
	for _, b := range books {
		res = append(res, a.summarize(ctx, b))
	}
	return res, nil
}

// GetBook retrieves one book summary by ID.
func (a *App) GetBook(ctx context.Context, id string) (BookSummary, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return BookSummary{}, err
	}
	if !ok {
		return BookSummary{}, ErrBookNotFound
	}
	return a.summarize(ctx, book), nil
}

// DeleteBook removes the catalog record and its storage objects.
func (a *App) DeleteBook(ctx context.Context, id string) error {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBookNotFound
	}
	if err := a.store.DeleteBook(id); err != nil {
		return err
	}
	if book.CoverKey != "" {
		if err := a.objects.Delete(ctx, book.CoverKey); err != nil {
			util.LoggerFromContext(ctx).Warn("delete cover object", "book_id", id, "err", err)
		}
	}
	if book.FileKey != "" {
		if err := a.objects.Delete(ctx, book.FileKey); err != nil {
			return fmt.Errorf("delete file object: %w", err)
		}
	}
	return nil
}

// TrackAction increments the counter matching action ("download" or "tts").
func (a *App) TrackAction(ctx context.Context, id, action string) (BookSummary, error) {
	var (
		book domain.Book
		ok   bool
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "download":
		book, ok, err = a.store.IncrementDownloads(id)
	case "tts":
		book, ok, err = a.store.IncrementTTSHits(id)
	default:
		return BookSummary{}, ErrInvalidAction
	}
	if err != nil {
		return BookSummary{}, err
	}
	if !ok {
		return BookSummary{}, ErrBookNotFound
	}
	return a.summarize(ctx, book), nil
}

// ListFolderNames returns folder names with the implicit "All" first.
func (a *App) ListFolderNames(ctx context.Context) ([]string, error) {
	folders, err := a.store.ListFolders()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(folders)+1)
	names = append(names, domain.DefaultFolderName)
	for _, f := range folders {
		names = append(names, f.Name)
	}
	return names, nil
}

// CreateFolder creates a named folder. The implicit "All" cannot be created.
func (a *App) CreateFolder(ctx context.Context, name string) (domain.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, domain.DefaultFolderName) {
		return domain.Folder{}, store.ErrFolderExists
	}
	folder := domain.Folder{
		ID:        util.NewID(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateFolder(folder); err != nil {
		return domain.Folder{}, err
	}
	return folder, nil
}

// DeleteFolder removes a folder; removal is rejected while books reference it.
func (a *App) DeleteFolder(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, domain.DefaultFolderName) {
		return ErrFolderNotFound
	}
	found, err := a.store.DeleteFolderByName(name)
	if err != nil {
		return err
	}
	if !found {
		return ErrFolderNotFound
	}
	return nil
}

func (a *App) summarize(ctx context.Context, b domain.Book) BookSummary {
	summary := BookSummary{Book: b}
	if b.CoverKey == "" {
		summary.CoverURL = a.placeholderCover
	} else if url, err := a.objects.PresignGet(ctx, b.CoverKey, a.presignExpiry); err == nil {
		summary.CoverURL = url
	} else {
		util.LoggerFromContext(ctx).Warn("presign cover", "book_id", b.ID, "err", err)
		summary.CoverURL = a.placeholderCover
	}
	if b.FileKey != "" {
		if url, err := a.objects.PresignGet(ctx, b.FileKey, a.presignExpiry); err == nil {
			summary.FileURL = url
		} else {
			util.LoggerFromContext(ctx).Warn("presign file", "book_id", b.ID, "err", err)
		}
	}
	return summary
}

// resolveFolder maps a folder name to its row, creating the row on first
// use so uploads can name folders freely without breaking the reference.
func (a *App) resolveFolder(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, domain.DefaultFolderName) {
		return "", nil
	}
	folder, ok, err := a.store.GetFolderByName(name)
	if err != nil {
		return "", err
	}
	if ok {
		return folder.ID, nil
	}
	created := domain.Folder{ID: util.NewID(), Name: name, CreatedAt: time.Now().UTC()}
	if err := a.store.CreateFolder(created); err != nil {
		if errors.Is(err, store.ErrFolderExists) {
			// Lost a creation race; the winner's row serves.
			folder, ok, err = a.store.GetFolderByName(name)
			if err != nil {
				return "", err
			}
			if ok {
				return folder.ID, nil
			}
		}
		return "", err
	}
	return created.ID, nil
}

func titleFromName(name string) string {
	base := filepath.Base(name)
	title := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if title == "" {
		return "Untitled"
	}
	return title
}

func buildFileKey(bookID, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "book.pdf"
	}
	return path.Join("books", bookID, name)
}

func buildCoverKey(bookID string) string {
	return path.Join("covers", bookID+".png")
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
