package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"readshelf/pkg/domain"
)

// MemoryStore keeps catalog state in-process. It backs tests and local
// development without a Postgres instance.
type MemoryStore struct {
	mu      sync.RWMutex
	books   map[string]domain.Book
	folders map[string]domain.Folder // key: folder ID
	names   map[string]string        // folder name -> ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:   make(map[string]domain.Book),
		folders: make(map[string]domain.Folder),
		names:   make(map[string]string),
	}
}

// SaveBook stores or replaces a book record.
func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Folder = m.folderNameLocked(b.FolderID)
	if b.Chapters == nil {
		b.Chapters = []domain.Chapter{}
	}
	m.books[b.ID] = b
	return nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns books newest first.
func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// DeleteBook removes a book record.
func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	return nil
}

// AdvanceContent applies a page-advance batch guarded by the previously
// observed cursor value.
func (m *MemoryStore) AdvanceContent(id string, prevProcessed int, content string, words int, processed int, status domain.BookStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok || b.ProcessedPages != prevProcessed {
		return false, nil
	}
	b.Content = content
	b.Words = words
	b.ProcessedPages = processed
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return true, nil
}

// IncrementDownloads bumps the download counter.
func (m *MemoryStore) IncrementDownloads(id string) (domain.Book, bool, error) {
	return m.increment(id, func(b *domain.Book) { b.Downloads++ })
}

// IncrementTTSHits bumps the text-to-speech counter.
func (m *MemoryStore) IncrementTTSHits(id string) (domain.Book, bool, error) {
	return m.increment(id, func(b *domain.Book) { b.TTSHits++ })
}

func (m *MemoryStore) increment(id string, apply func(*domain.Book)) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	apply(&b)
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return b, true, nil
}

// CreateFolder inserts a folder; duplicates map to ErrFolderExists.
func (m *MemoryStore) CreateFolder(f domain.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.names[f.Name]; exists {
		return ErrFolderExists
	}
	m.folders[f.ID] = f
	m.names[f.Name] = f.ID
	return nil
}

// GetFolderByName looks up a folder by name.
func (m *MemoryStore) GetFolderByName(name string) (domain.Folder, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.names[name]
	if !ok {
		return domain.Folder{}, false, nil
	}
	return m.folders[id], true, nil
}

// ListFolders returns folders ordered by creation time.
func (m *MemoryStore) ListFolders() ([]domain.Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Folder, 0, len(m.folders))
	for _, f := range m.folders {
		res = append(res, f)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// DeleteFolderByName removes a folder unless a book still references it.
func (m *MemoryStore) DeleteFolderByName(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.names[name]
	if !ok {
		return false, nil
	}
	for _, b := range m.books {
		if b.FolderID == id {
			return true, ErrFolderInUse
		}
	}
	delete(m.folders, id)
	delete(m.names, name)
	return true, nil
}

func (m *MemoryStore) folderNameLocked(folderID string) string {
	if strings.TrimSpace(folderID) == "" {
		return domain.DefaultFolderName
	}
	if f, ok := m.folders[folderID]; ok {
		return f.Name
	}
	return domain.DefaultFolderName
}
