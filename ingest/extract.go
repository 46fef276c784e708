package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"code.sajari.com/docconv/v2"
	"github.com/ledongthuc/pdf"

	"github.com/Ohnim102/hust-chatbot-retriever-service/schema"
)

// minTextLayerChars is the probe threshold: a PDF whose text layer yields
// fewer non-whitespace characters than this is treated as a scanned document
// and routed through OCR.
const minTextLayerChars = 20

const (
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeXlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeHTML = "text/html"
)

// Extractor turns files into raw page documents. PDF extraction reads the
// embedded text layer first and falls back to OCR for image-only scans.
type Extractor struct {
	ocr    OCREngine
	logger *slog.Logger
}

func NewExtractor(ocr OCREngine, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{ocr: ocr, logger: logger.With("component", "extractor")}
}

func (e *Extractor) extractPDF(ctx context.Context, filePath string) ([]schema.Document, error) {
	pages, err := e.pdfTextLayer(filePath)
	if err != nil {
		e.logger.WarnContext(ctx, "PDF text layer unreadable, trying OCR", "path", filePath, "error", err)
		return e.extractScannedPDF(ctx, filePath)
	}

	nonWhitespace := 0
	for _, page := range pages {
		for _, r := range page {
			if !strings.ContainsRune(" \t\r\n", r) {
				nonWhitespace++
			}
		}
	}
	if nonWhitespace < minTextLayerChars {
		e.logger.InfoContext(ctx, "PDF has no usable text layer, falling back to OCR",
			"path", filePath, "text_layer_chars", nonWhitespace)
		return e.extractScannedPDF(ctx, filePath)
	}

	docs := make([]schema.Document, 0, len(pages))
	for i, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: page,
			Metadata: map[string]any{
				"source":      filePath,
				"page":        i + 1,
				"total_pages": len(pages),
			},
		})
	}
	return docs, nil
}

func (e *Extractor) pdfTextLayer(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF file %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF file %s: %w", filePath, err)
	}

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader for %s: %w", filePath, err)
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single broken page does not invalidate the probe.
			e.logger.Warn("Failed to read PDF page text", "page", i, "error", err)
			pages = append(pages, "")
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// extractScannedPDF renders every page and runs OCR. The recovered text for
// page N is framed by a "=== Page N ===" marker so downstream chunking keeps
// a page-boundary signal.
func (e *Extractor) extractScannedPDF(ctx context.Context, filePath string) ([]schema.Document, error) {
	if e.ocr == nil {
		return nil, fmt.Errorf("%w: no OCR engine configured for %s", ErrExtractionFailed, filePath)
	}

	pageTexts, err := e.ocr.ExtractPages(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: OCR failed for %s: %w", ErrExtractionFailed, filePath, err)
	}

	var sb strings.Builder
	for i, text := range pageTexts {
		fmt.Fprintf(&sb, "\n=== Page %d ===\n%s\n", i+1, text)
	}

	e.logger.InfoContext(ctx, "Recovered text via OCR", "path", filePath, "pages", len(pageTexts))
	return []schema.Document{{
		PageContent: sb.String(),
		Metadata:    map[string]any{"source": filePath, "total_pages": len(pageTexts)},
	}}, nil
}

func (e *Extractor) extractWithDocconv(filePath, mimeType string) ([]schema.Document, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	result, err := docconv.Convert(f, mimeType, true)
	if err != nil {
		return nil, fmt.Errorf("%w: conversion failed for %s: %w", ErrExtractionFailed, filePath, err)
	}
	if strings.TrimSpace(result.Body) == "" {
		return nil, fmt.Errorf("%w: no text content in %s", ErrExtractionFailed, filePath)
	}

	return []schema.Document{{
		PageContent: result.Body,
		Metadata:    map[string]any{"source": filePath},
	}}, nil
}

func (e *Extractor) extractPlainText(filePath string) ([]schema.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}
	return []schema.Document{{
		PageContent: string(data),
		Metadata:    map[string]any{"source": filePath},
	}}, nil
}
