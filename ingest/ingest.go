// Package ingest turns uploaded files into cleaned, chunked documents in the
// vector store. Supported inputs are PDF (with OCR fallback for scans),
// DOCX, XLSX/XLS, HTML/HTM and plain text.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ohnim102/hust-chatbot-retriever-service/schema"
	"github.com/Ohnim102/hust-chatbot-retriever-service/textnorm"
	"github.com/Ohnim102/hust-chatbot-retriever-service/textsplitter"
	"github.com/Ohnim102/hust-chatbot-retriever-service/vectorstores"
)

var (
	ErrUnsupportedFileType = errors.New("ingest: unsupported file type")
	ErrExtractionFailed    = errors.New("ingest: text extraction failed")
	ErrEmptyDocument       = errors.New("ingest: document produced no usable chunks")
)

// Default chunk geometry for prose uploads.
const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 150
)

// Options controls the chunk geometry of one ingestion run. Callers supply
// it explicitly; there is no ambient default.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

type Ingestor struct {
	extractor *Extractor
	store     vectorstores.VectorStore
	logger    *slog.Logger
}

func NewIngestor(extractor *Extractor, store vectorstores.VectorStore, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		extractor: extractor,
		store:     store,
		logger:    logger.With("component", "ingestor"),
	}
}

// Ingest extracts, chunks, normalizes and stores one file. All chunks share
// docID so the file can later be removed as a unit. The returned count is
// the number of chunks written, including the synthetic file-name chunk.
func (ing *Ingestor) Ingest(ctx context.Context, docID, filePath string, opts Options) (int, error) {
	start := time.Now()

	docs, err := ing.extract(ctx, filePath)
	if err != nil {
		return 0, err
	}

	splitter, err := textsplitter.NewRecursiveCharacter(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk options: %w", err)
	}
	chunks, err := splitter.SplitDocuments(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("chunking failed for %s: %w", filePath, err)
	}

	chunks = prependFileNameChunk(docs[0].Metadata, chunks)
	chunks = cleanChunks(chunks)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyDocument, filePath)
	}

	ids, err := ing.store.AddDocuments(ctx, docID, chunks)
	if err != nil {
		return len(ids), fmt.Errorf("failed to store chunks for %s: %w", filePath, err)
	}

	ing.logger.InfoContext(ctx, "File ingested",
		"doc_id", docID,
		"path", filePath,
		"chunks", len(ids),
		"chunk_size", opts.ChunkSize,
		"chunk_overlap", opts.ChunkOverlap,
		"duration", time.Since(start))
	return len(ids), nil
}

func (ing *Ingestor) extract(ctx context.Context, filePath string) ([]schema.Document, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return ing.extractor.extractPDF(ctx, filePath)
	case ".docx":
		return ing.extractor.extractWithDocconv(filePath, mimeDocx)
	case ".xlsx", ".xls":
		return ing.extractor.extractWithDocconv(filePath, mimeXlsx)
	case ".html", ".htm":
		return ing.extractor.extractWithDocconv(filePath, mimeHTML)
	case ".txt":
		return ing.extractor.extractPlainText(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filePath)
	}
}

// prependFileNameChunk inserts the synthetic "Tên file" chunk at position 0.
// Matching against the file name itself is often the strongest retrieval
// signal for short queries.
func prependFileNameChunk(metadata map[string]any, chunks []schema.Document) []schema.Document {
	source, _ := metadata["source"].(string)
	fileChunk := schema.Document{
		PageContent: textnorm.FileNameChunk(source),
		Metadata:    maps.Clone(metadata),
	}
	return append([]schema.Document{fileChunk}, chunks...)
}

// cleanChunks normalizes each chunk, drops those failing the acceptability
// filter and strips volatile metadata. Normalization happens here, after
// splitting, so paragraph and line breaks are still visible to the separator
// cascade. The file-name pseudo-chunk bypasses both passes.
func cleanChunks(chunks []schema.Document) []schema.Document {
	kept := chunks[:0]
	for _, chunk := range chunks {
		if !textnorm.IsFileNameChunk(chunk.PageContent) {
			chunk.PageContent = textnorm.Normalize(chunk.PageContent)
			if !textnorm.IsAcceptable(chunk.PageContent) {
				continue
			}
		}
		textnorm.SanitizeMetadata(chunk.Metadata)
		kept = append(kept, chunk)
	}
	return kept
}
