package ocr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParsePaddleOCRJSONWithOCRResults(t *testing.T) {
	raw := []byte(`{
  "ocrResults": [
    {
      "page_index": 0,
      "prunedResult": {
        "rec_texts": ["first line", "second line"],
        "rec_scores": [0.90, 0.70]
      }
    },
    {
      "page_index": 1,
      "prunedResult": {
        "rec_texts": ["third line"],
        "rec_scores": [0.80]
      }
    }
  ]
}`)
	pages, err := parsePaddleOCRJSON(raw)
	if err != nil {
		t.Fatalf("parsePaddleOCRJSON() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("len(pages) = %d, want 2", len(pages))
	}
	if pages[0].Page != 1 || strings.TrimSpace(pages[0].Text) != "first line\nsecond line" {
		t.Fatalf("page[0] = %+v, want page=1 with both lines", pages[0])
	}
	if pages[0].AvgScore < 0.79 || pages[0].AvgScore > 0.81 {
		t.Fatalf("page[0].AvgScore = %f, want about 0.8", pages[0].AvgScore)
	}
	if pages[1].Page != 2 || strings.TrimSpace(pages[1].Text) != "third line" {
		t.Fatalf("page[1] = %+v, want page=2 text=third line", pages[1])
	}
}

func TestParsePaddleOCRJSONFallbackToSinglePage(t *testing.T) {
	raw := []byte(`{"result":{"rec_texts":["Only one page text"]}}`)
	pages, err := parsePaddleOCRJSON(raw)
	if err != nil {
		t.Fatalf("parsePaddleOCRJSON() error = %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("len(pages) = %d, want 1", len(pages))
	}
	if pages[0].Page != 1 || strings.TrimSpace(pages[0].Text) != "Only one page text" {
		t.Fatalf("page[0] = %+v, want page=1 text=Only one page text", pages[0])
	}
}

func TestParsePaddleOCRJSONEmpty(t *testing.T) {
	if _, err := parsePaddleOCRJSON([]byte(`{}`)); err == nil {
		t.Fatalf("expected error for empty response")
	}
}

func TestPaddleClientRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"rec_texts":["hello","world"],"rec_scores":[0.9,0.7]}}`))
	}))
	defer srv.Close()

	client := NewPaddleClient(srv.URL, 0)
	res, err := client.Recognize(context.Background(), []byte("fake-png"))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Text != "hello\nworld" {
		t.Fatalf("Text = %q, want %q", res.Text, "hello\nworld")
	}
	if res.AvgScore < 0.79 || res.AvgScore > 0.81 {
		t.Fatalf("AvgScore = %f, want about 0.8", res.AvgScore)
	}
}

func TestPaddleClientRecognizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewPaddleClient(srv.URL, 0)
	if _, err := client.Recognize(context.Background(), []byte("img")); err == nil {
		t.Fatalf("expected error on 500 response")
	}
}
