package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
)

// DefaultOCRLanguage targets Vietnamese documents, the primary corpus.
const DefaultOCRLanguage = "vie"

// renderDPI trades render time for recognition quality on dense scans.
const renderDPI = 300

// OCREngine recovers per-page text from a document with no usable text
// layer.
type OCREngine interface {
	ExtractPages(ctx context.Context, filePath string) ([]string, error)
}

// TesseractOCR renders PDF pages with MuPDF and recognizes them with
// Tesseract.
type TesseractOCR struct {
	language string
	logger   *slog.Logger
}

func NewTesseractOCR(language string, logger *slog.Logger) *TesseractOCR {
	if language == "" {
		language = DefaultOCRLanguage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TesseractOCR{language: language, logger: logger.With("component", "ocr")}
}

func (t *TesseractOCR) ExtractPages(ctx context.Context, filePath string) ([]string, error) {
	doc, err := fitz.New(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open document for rendering: %w", err)
	}
	defer doc.Close()

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("failed to set OCR language %q: %w", t.language, err)
	}

	numPages := doc.NumPage()
	t.logger.InfoContext(ctx, "Starting OCR pass", "path", filePath, "pages", numPages)

	pages := make([]string, 0, numPages)
	for i := 0; i < numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImageDPI(i, renderDPI)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
			return nil, fmt.Errorf("failed to load page %d into OCR: %w", i+1, err)
		}

		text, err := client.Text()
		if err != nil {
			return nil, fmt.Errorf("OCR recognition failed on page %d: %w", i+1, err)
		}
		pages = append(pages, text)

		t.logger.DebugContext(ctx, "OCR page complete", "page", i+1, "text_length", len(text))
	}
	return pages, nil
}
