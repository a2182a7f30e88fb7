package store

import (
	"errors"

	"readshelf/pkg/domain"
)

// Conflict errors surfaced to handlers as 409s.
var (
	ErrFolderExists = errors.New("folder already exists")
	ErrFolderInUse  = errors.New("folder is referenced by books")
)

// Store defines persistence operations for books and folders.
type Store interface {
	// books
	SaveBook(domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	DeleteBook(id string) error

	// AdvanceContent writes the outcome of one page-advance batch. The write
	// is conditional on the cursor still holding prevProcessed; it reports
	// false without mutating anything when another writer got there first.
	AdvanceContent(id string, prevProcessed int, content string, words int, processed int, status domain.BookStatus) (bool, error)

	// counters, incremented atomically in the database
	IncrementDownloads(id string) (domain.Book, bool, error)
	IncrementTTSHits(id string) (domain.Book, bool, error)

	// folders
	CreateFolder(domain.Folder) error
	GetFolderByName(name string) (domain.Folder, bool, error)
	ListFolders() ([]domain.Folder, error)
	DeleteFolderByName(name string) (bool, error)
}
