package domain

import "time"

type BookStatus string

const (
	StatusProcessing BookStatus = "processing"
	StatusCompleted  BookStatus = "completed"
)

// DefaultFolderName is the implicit folder every book belongs to when no
// explicit folder is assigned. It is never persisted as a Folder row.
const DefaultFolderName = "All"

// Chapter is one entry of a book's table of contents, taken from the PDF
// outline when the document carries one.
type Chapter struct {
	Title string `json:"title"`
	Page  int    `json:"page"`
}

// Book is the catalog record for one uploaded document.
type Book struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	CoverKey       string     `json:"-"`
	FileKey        string     `json:"-"`
	FolderID       string     `json:"-"`
	Folder         string     `json:"folder"`
	Downloads      int64      `json:"downloads"`
	TTSHits        int64      `json:"ttsHits"`
	Content        string     `json:"content"`
	Chapters       []Chapter  `json:"chapters"`
	Words          int        `json:"words"`
	TotalPages     int        `json:"totalPages"`
	ProcessedPages int        `json:"processedPages"`
	Status         BookStatus `json:"status"`
	Summary        string     `json:"summary,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Folder is a named grouping of books.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
