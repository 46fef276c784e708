package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	embedfake "github.com/Ohnim102/hust-chatbot-retriever-service/embeddings/fake"
	"github.com/Ohnim102/hust-chatbot-retriever-service/schema"
	"github.com/Ohnim102/hust-chatbot-retriever-service/textnorm"
	storefake "github.com/Ohnim102/hust-chatbot-retriever-service/vectorstores/fake"
)

func newTestIngestor(t *testing.T) (*Ingestor, *storefake.Store) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := storefake.New(embedfake.New(16), schema.CollectionRAG)
	return NewIngestor(NewExtractor(nil, logger), store, logger), store
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestTextFile(t *testing.T) {
	ctx := context.Background()
	ingestor, store := newTestIngestor(t)

	content := strings.Repeat("Trường Đại học Bách Khoa Hà Nội tuyển sinh năm học mới với nhiều ngành đào tạo. ", 10)
	path := writeTempFile(t, "tuyensinh.txt", content)

	count, err := ingestor.Ingest(ctx, "doc-42", path, Options{ChunkSize: 200, ChunkOverlap: 20})
	require.NoError(t, err)
	require.Greater(t, count, 1)

	docs := store.Documents()
	require.Len(t, docs, count)

	// Synthetic file-name chunk sits at position 0 and shares the doc_id.
	assert.Equal(t, textnorm.FileNamePrefix+"tuyensinh.txt", docs[0].PageContent)
	for _, doc := range docs {
		assert.Equal(t, "doc-42", doc.Metadata["doc_id"])
		assert.Equal(t, path, doc.Metadata["source"])
	}
}

func TestIngestRoundTrip(t *testing.T) {
	ctx := context.Background()
	ingestor, store := newTestIngestor(t)

	path := writeTempFile(t, "hocphi.txt",
		"Học phí chương trình chuẩn là 24 triệu đồng một năm học. "+
			strings.Repeat("Thông tin chi tiết được công bố trong đề án tuyển sinh hằng năm của nhà trường. ", 5))

	_, err := ingestor.Ingest(ctx, "doc-hp", path, Options{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap})
	require.NoError(t, err)

	results, err := store.SimilaritySearchWithScores(ctx, "Học phí chương trình chuẩn là 24 triệu đồng một năm học.", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, path, results[0].Document.Metadata["source"])
}

func TestIngestSplitsOnParagraphBreaks(t *testing.T) {
	ctx := context.Background()
	ingestor, store := newTestIngestor(t)

	para1 := "Đoạn một mô tả điều kiện xét tuyển thẳng dành cho học sinh đạt giải quốc gia."
	para2 := "Đoạn hai mô tả mức học phí và chính sách miễn giảm cho sinh viên diện chính sách."
	path := writeTempFile(t, "xettuyen.txt", para1+"\n\n"+para2)

	// Both paragraphs fit a chunk individually but not together, so the
	// paragraph break must be the split point.
	count, err := ingestor.Ingest(ctx, "doc-para", path, Options{ChunkSize: 150, ChunkOverlap: 0})
	require.NoError(t, err)
	require.Equal(t, 3, count)

	docs := store.Documents()
	assert.Equal(t, para1, docs[1].PageContent)
	assert.Equal(t, para2, docs[2].PageContent)
}

type fakeOCR struct {
	pages []string
	err   error
}

func (f *fakeOCR) ExtractPages(_ context.Context, _ string) ([]string, error) {
	return f.pages, f.err
}

func TestIngestScannedPDF(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	store := storefake.New(embedfake.New(16), schema.CollectionRAG)

	// Three pages of recovered text, as a scanner-produced PDF would yield.
	ocr := &fakeOCR{pages: []string{
		"Trang đầu tiên của tài liệu tuyển sinh với thông tin về các ngành đào tạo chính quy.",
		"Trang thứ hai mô tả chi tiết về học phí và các chính sách học bổng của nhà trường.",
		"Trang cuối cùng liệt kê thông tin liên hệ của phòng tuyển sinh và công tác sinh viên.",
	}}
	ingestor := NewIngestor(NewExtractor(ocr, logger), store, logger)

	// Junk bytes: no parseable text layer, so the probe routes through OCR.
	path := writeTempFile(t, "scan.pdf", "\x00\x01\x02 not a real pdf")

	count, err := ingestor.Ingest(ctx, "doc-scan", path, Options{ChunkSize: 200, ChunkOverlap: 20})
	require.NoError(t, err)
	require.Greater(t, count, 1)

	docs := store.Documents()
	assert.Equal(t, textnorm.FileNamePrefix+"scan.pdf", docs[0].PageContent)
	joined := ""
	for _, doc := range docs {
		assert.Equal(t, "doc-scan", doc.Metadata["doc_id"])
		joined += doc.PageContent + " "
	}
	assert.Contains(t, joined, "=== Page 3 ===")
}

func TestIngestOCRFailureIsFatal(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := storefake.New(embedfake.New(16), schema.CollectionRAG)
	ocr := &fakeOCR{err: errors.New("tesseract not installed")}
	ingestor := NewIngestor(NewExtractor(ocr, logger), store, logger)

	path := writeTempFile(t, "scan.pdf", "\x00\x01 broken")

	_, err := ingestor.Ingest(context.Background(), "doc-1", path, Options{ChunkSize: 200, ChunkOverlap: 20})
	assert.ErrorIs(t, err, ErrExtractionFailed)

	count, _ := store.Stats(context.Background())
	assert.Zero(t, count)
}

func TestIngestUnsupportedExtension(t *testing.T) {
	ingestor, store := newTestIngestor(t)
	path := writeTempFile(t, "slides.pptx", "not supported")

	_, err := ingestor.Ingest(context.Background(), "doc-1", path, Options{ChunkSize: 100, ChunkOverlap: 0})
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	count, _ := store.Stats(context.Background())
	assert.Zero(t, count, "nothing may be written before type validation")
}

func TestIngestRejectsInvalidChunkOptions(t *testing.T) {
	ingestor, _ := newTestIngestor(t)
	path := writeTempFile(t, "a.txt", "một vài từ đủ dài để không bị loại bỏ ngay lập tức")

	_, err := ingestor.Ingest(context.Background(), "doc-1", path, Options{ChunkSize: 0, ChunkOverlap: 0})
	assert.Error(t, err)
}

func TestCleanChunks(t *testing.T) {
	chunks := []schema.Document{
		{PageContent: textnorm.FileNamePrefix + "x.pdf", Metadata: map[string]any{"creator": "scanner"}},
		{PageContent: "quá ngắn", Metadata: map[string]any{}},
		{PageContent: "Đây là một đoạn văn bản đủ dài và có ý nghĩa để được giữ lại trong kho.", Metadata: map[string]any{"moddate": "2024"}},
	}

	cleaned := cleanChunks(chunks)
	require.Len(t, cleaned, 2)
	assert.True(t, textnorm.IsFileNameChunk(cleaned[0].PageContent))
	assert.NotContains(t, cleaned[0].Metadata, "creator")
	assert.NotContains(t, cleaned[1].Metadata, "moddate")
}
