package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"readshelf/internal/util"
	"readshelf/pkg/domain"
)

// UploadRequest carries one multipart upload into the ingestion pipeline.
type UploadRequest struct {
	Filename string
	Title    string
	Folder   string
	File     io.Reader
}

// AdvanceResult reports the outcome of one page-advance batch.
type AdvanceResult struct {
	AddedText      string            `json:"addedText"`
	ProcessedPages int               `json:"processedPages"`
	TotalPages     int               `json:"totalPages"`
	Words          int               `json:"words"`
	Status         domain.BookStatus `json:"status"`
}

// UploadBook runs the ingestion pipeline: spool the upload into a scoped
// working directory, read page metadata, store cover + permanent copy
// concurrently, extract the instant-preview pages, and create the record.
func (a *App) UploadBook(ctx context.Context, req UploadRequest) (BookSummary, error) {
	logger := util.LoggerFromContext(ctx)
	if req.File == nil || strings.TrimSpace(req.Filename) == "" {
		return BookSummary{}, ErrFileRequired
	}
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if _, ok := a.allowedExts[ext]; !ok {
		return BookSummary{}, ErrUnsupportedFile
	}
	folderID, err := a.resolveFolder(req.Folder)
	if err != nil {
		return BookSummary{}, fmt.Errorf("resolve folder: %w", err)
	}

	workdir, err := os.MkdirTemp("", "readshelf-ingest-*")
	if err != nil {
		return BookSummary{}, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workdir)

	pdfPath := filepath.Join(workdir, "upload.pdf")
	size, err := spoolFile(pdfPath, req.File)
	if err != nil {
		return BookSummary{}, fmt.Errorf("spool upload: %w", err)
	}
	totalPages, err := a.meta.PageCount(pdfPath)
	if err != nil {
		return BookSummary{}, fmt.Errorf("read pdf metadata: %w", err)
	}

	id := util.NewID()
	fileKey := buildFileKey(id, req.Filename)
	coverKey := buildCoverKey(id)

	// Cover rendering and the permanent copy upload are independent; only
	// the permanent copy is required for the record to exist.
	g, gctx := errgroup.WithContext(ctx)
	coverStored := false
	g.Go(func() error {
		imgPath, err := a.renderer.RenderPage(gctx, pdfPath, 1, workdir)
		if err != nil {
			logger.Warn("render cover", "book_id", id, "err", err)
			return nil
		}
		defer os.Remove(imgPath)
		if err := a.putFile(gctx, coverKey, imgPath, "image/png"); err != nil {
			logger.Warn("store cover", "book_id", id, "err", err)
			return nil
		}
		coverStored = true
		return nil
	})
	g.Go(func() error {
		if err := a.putFile(gctx, fileKey, pdfPath, "application/pdf"); err != nil {
			return fmt.Errorf("store pdf: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		// The cover goroutine may have finished first; a failed upload
		// must not leave objects behind.
		if coverStored {
			_ = a.objects.Delete(context.Background(), coverKey)
		}
		return BookSummary{}, err
	}

	preview := a.previewPages
	if preview > totalPages {
		preview = totalPages
	}
	content := a.extractPageRange(ctx, pdfPath, workdir, 1, preview)

	status := domain.StatusProcessing
	if preview == totalPages {
		status = domain.StatusCompleted
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = titleFromName(req.Filename)
	}
	now := time.Now().UTC()
	book := domain.Book{
		ID:             id,
		Title:          title,
		FileKey:        fileKey,
		FolderID:       folderID,
		Content:        content,
		Chapters:       []domain.Chapter{},
		Words:          countWords(content),
		TotalPages:     totalPages,
		ProcessedPages: preview,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if coverStored {
		book.CoverKey = coverKey
	}
	if err := a.store.SaveBook(book); err != nil {
		_ = a.objects.Delete(context.Background(), fileKey)
		if coverStored {
			_ = a.objects.Delete(context.Background(), coverKey)
		}
		return BookSummary{}, fmt.Errorf("save book: %w", err)
	}
	logger.Info("book ingested",
		"book_id", id,
		"total_pages", totalPages,
		"processed_pages", preview,
		"size_bytes", size,
	)
	book, _, err = a.store.GetBook(id)
	if err != nil {
		return BookSummary{}, err
	}
	return a.summarize(ctx, book), nil
}

// LoadPages advances the ingestion cursor by up to one preview window. The
// batch runs under a per-book lock and always extracts from the permanent
// copy in object storage, never from upload-time temp files.
func (a *App) LoadPages(ctx context.Context, id string) (AdvanceResult, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return AdvanceResult{}, err
	}
	if !ok {
		return AdvanceResult{}, ErrBookNotFound
	}
	if book.Status == domain.StatusCompleted {
		return noopAdvance(book), nil
	}

	token, acquired, err := a.lock.TryAcquire(ctx, id)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("acquire advance lock: %w", err)
	}
	if !acquired {
		return AdvanceResult{}, ErrAdvanceInProgress
	}
	defer func() {
		if err := a.lock.Release(context.Background(), id, token); err != nil {
			util.LoggerFromContext(ctx).Warn("release advance lock", "book_id", id, "err", err)
		}
	}()

	// Re-read under the lock: the cursor may have moved while we waited.
	book, ok, err = a.store.GetBook(id)
	if err != nil {
		return AdvanceResult{}, err
	}
	if !ok {
		return AdvanceResult{}, ErrBookNotFound
	}
	if book.Status == domain.StatusCompleted || book.ProcessedPages >= book.TotalPages {
		return noopAdvance(book), nil
	}

	workdir, err := os.MkdirTemp("", "readshelf-advance-*")
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workdir)

	pdfPath := filepath.Join(workdir, "book.pdf")
	if err := a.fetchObject(ctx, book.FileKey, pdfPath); err != nil {
		return AdvanceResult{}, fmt.Errorf("fetch permanent copy: %w", err)
	}

	from := book.ProcessedPages + 1
	to := book.ProcessedPages + a.previewPages
	if to > book.TotalPages {
		to = book.TotalPages
	}
	added := a.extractPageRange(ctx, pdfPath, workdir, from, to)

	content := joinContent(book.Content, added)
	words := countWords(content)
	status := domain.StatusProcessing
	if to == book.TotalPages {
		status = domain.StatusCompleted
	}
	applied, err := a.store.AdvanceContent(id, book.ProcessedPages, content, words, to, status)
	if err != nil {
		return AdvanceResult{}, err
	}
	if !applied {
		return AdvanceResult{}, ErrAdvanceInProgress
	}
	return AdvanceResult{
		AddedText:      added,
		ProcessedPages: to,
		TotalPages:     book.TotalPages,
		Words:          words,
		Status:         status,
	}, nil
}

func noopAdvance(book domain.Book) AdvanceResult {
	return AdvanceResult{
		ProcessedPages: book.ProcessedPages,
		TotalPages:     book.TotalPages,
		Words:          book.Words,
		Status:         book.Status,
	}
}

// extractPageRange extracts pages from..to (inclusive, 1-based). Per-page
// failures degrade to empty text so one bad page cannot sink the batch.
func (a *App) extractPageRange(ctx context.Context, pdfPath, workdir string, from, to int) string {
	var pages []string
	for page := from; page <= to; page++ {
		text := a.extractPage(ctx, pdfPath, workdir, page)
		if strings.TrimSpace(text) != "" {
			pages = append(pages, strings.TrimSpace(text))
		}
	}
	return strings.Join(pages, "\n\n")
}

// extractPage prefers the embedded text layer; thin layers (scanned pages)
// fall through to render + OCR.
func (a *App) extractPage(ctx context.Context, pdfPath, workdir string, page int) string {
	logger := util.LoggerFromContext(ctx)
	native, err := a.meta.PageText(pdfPath, page)
	if err != nil {
		logger.Warn("native page text", "page", page, "err", err)
		native = ""
	}
	if utf8.RuneCountInString(native) >= a.minNativeRunes {
		return native
	}

	imgPath, err := a.renderer.RenderPage(ctx, pdfPath, page, workdir)
	if err != nil {
		logger.Warn("render page", "page", page, "err", err)
		return native
	}
	defer os.Remove(imgPath)
	img, err := os.ReadFile(imgPath)
	if err != nil {
		logger.Warn("read page image", "page", page, "err", err)
		return native
	}
	res, err := a.ocr.Recognize(ctx, img)
	if err != nil {
		logger.Warn("ocr page", "page", page, "engine", a.ocr.Name(), "err", err)
		return native
	}
	if strings.TrimSpace(res.Text) == "" {
		return native
	}
	return res.Text
}

func (a *App) putFile(ctx context.Context, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return a.objects.Put(ctx, key, f, info.Size(), contentType)
}

func (a *App) fetchObject(ctx context.Context, key, dest string) error {
	rc, err := a.objects.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = spoolFile(dest, rc)
	return err
}

func spoolFile(dest string, r io.Reader) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, r)
}

func joinContent(existing, added string) string {
	switch {
	case existing == "":
		return added
	case added == "":
		return existing
	default:
		return existing + "\n\n" + added
	}
}

// countWords is the whitespace-token count the words field always mirrors.
func countWords(content string) int {
	return len(strings.Fields(content))
}
