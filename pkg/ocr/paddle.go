package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const defaultPaddleTimeout = 60 * time.Second

// PaddleClient talks to a PaddleOCR serving endpoint over HTTP.
type PaddleClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewPaddleClient constructs a client for the given OCR service base URL.
func NewPaddleClient(endpoint string, timeout time.Duration) *PaddleClient {
	if timeout <= 0 {
		timeout = defaultPaddleTimeout
	}
	return &PaddleClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the provider in logs and page metadata.
func (c *PaddleClient) Name() string { return "paddleocr" }

// Recognize submits one encoded page image and returns the recognized text.
func (c *PaddleClient) Recognize(ctx context.Context, image []byte) (Result, error) {
	payload, err := json.Marshal(map[string]any{
		"file":     base64.StdEncoding.EncodeToString(image),
		"fileType": 1,
	})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("ocr service error: %s", resp.Status)
	}
	pages, err := parsePaddleOCRJSON(body)
	if err != nil {
		return Result{}, err
	}
	return flattenPages(pages), nil
}

type pageResult struct {
	Page     int
	Text     string
	AvgScore float64
}

type paddleResponse struct {
	OCRResults []struct {
		PageIndex    *int `json:"page_index"`
		PrunedResult struct {
			RecTexts  []string  `json:"rec_texts"`
			RecScores []float64 `json:"rec_scores"`
		} `json:"prunedResult"`
	} `json:"ocrResults"`
	Result struct {
		RecTexts  []string  `json:"rec_texts"`
		RecScores []float64 `json:"rec_scores"`
	} `json:"result"`
}

// parsePaddleOCRJSON decodes the serving response. Multi-page responses carry
// ocrResults with per-page pruned results; single-image responses fall back
// to a bare result object.
func parsePaddleOCRJSON(raw []byte) ([]pageResult, error) {
	var decoded paddleResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	if len(decoded.OCRResults) == 0 {
		if len(decoded.Result.RecTexts) == 0 {
			return nil, fmt.Errorf("ocr response carries no recognized text")
		}
		return []pageResult{{
			Page:     1,
			Text:     strings.Join(decoded.Result.RecTexts, "\n"),
			AvgScore: meanScore(decoded.Result.RecScores),
		}}, nil
	}
	pages := make([]pageResult, 0, len(decoded.OCRResults))
	for i, entry := range decoded.OCRResults {
		page := i + 1
		if entry.PageIndex != nil {
			page = *entry.PageIndex + 1
		}
		pages = append(pages, pageResult{
			Page:     page,
			Text:     strings.Join(entry.PrunedResult.RecTexts, "\n"),
			AvgScore: meanScore(entry.PrunedResult.RecScores),
		})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })
	return pages, nil
}

func flattenPages(pages []pageResult) Result {
	var parts []string
	var scoreSum float64
	var scored int
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			parts = append(parts, p.Text)
		}
		if p.AvgScore > 0 {
			scoreSum += p.AvgScore
			scored++
		}
	}
	res := Result{Text: strings.Join(parts, "\n")}
	if scored > 0 {
		res.AvgScore = scoreSum / float64(scored)
	}
	return res
}

func meanScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}
