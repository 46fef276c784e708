// Package aggregate groups scored retrieval hits by their source document
// and renders them as the context block of a generation prompt.
package aggregate

import (
	"fmt"
	"strings"

	"github.com/Ohnim102/hust-chatbot-retriever-service/vectorstores"
)

// DefaultMinScore is the relevance cutoff: matches scoring below it are
// dropped from the rendered context and never surfaced to the caller.
const DefaultMinScore = 0.54

const (
	defaultTitle  = "Untitled"
	defaultAuthor = "Unknown Author"
)

// SourceMetadata carries the document-level fields shown alongside matches.
type SourceMetadata struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	TotalPages   int64  `json:"total_pages"`
	CreationDate string `json:"creationdate"`
}

// Match is one retrieved chunk of a source document.
type Match struct {
	PageContent string  `json:"page_content"`
	Score       float32 `json:"score"`
	Page        int64   `json:"page"`
}

// AggregatedSource holds every match of one query that came from the same
// source file, in retrieval order.
type AggregatedSource struct {
	Source   string         `json:"source"`
	Metadata SourceMetadata `json:"metadata"`
	Matches  []Match        `json:"matches"`
}

// GroupBySource buckets matches by their metadata source path. Sources keep
// first-seen order and matches keep retrieval order within each source, so
// rendering downstream is stable for a given result set.
func GroupBySource(matches []vectorstores.DocumentWithScore) []AggregatedSource {
	var sources []AggregatedSource
	index := make(map[string]int)

	for _, match := range matches {
		source := metadataString(match.Document.Metadata, "source", "unknown_source")
		i, seen := index[source]
		if !seen {
			i = len(sources)
			index[source] = i
			sources = append(sources, AggregatedSource{
				Source: source,
				Metadata: SourceMetadata{
					Title:        metadataString(match.Document.Metadata, "title", defaultTitle),
					Author:       metadataString(match.Document.Metadata, "author", defaultAuthor),
					TotalPages:   metadataInt(match.Document.Metadata, "total_pages"),
					CreationDate: metadataString(match.Document.Metadata, "creationdate", ""),
				},
			})
		}
		sources[i].Matches = append(sources[i].Matches, Match{
			PageContent: match.Document.PageContent,
			Score:       match.Score,
			Page:        metadataInt(match.Document.Metadata, "page"),
		})
	}
	return sources
}

// ContextString renders the sources as the Vietnamese context block fed to
// the model. A source contributes a header and body only when at least one
// of its matches clears minScore; sources with no qualifying match are
// omitted entirely.
func ContextString(sources []AggregatedSource, minScore float32) string {
	var sb strings.Builder

	for _, source := range sources {
		qualifying := make([]Match, 0, len(source.Matches))
		for _, match := range source.Matches {
			if match.Score >= minScore {
				qualifying = append(qualifying, match)
			}
		}
		if len(qualifying) == 0 {
			continue
		}

		fmt.Fprintf(&sb, "Nguồn tài liệu: %s\n", source.Source)
		fmt.Fprintf(&sb, "Tiêu đề: %s\n", source.Metadata.Title)
		sb.WriteString("Nội dung tài liệu:\n")
		for _, match := range qualifying {
			fmt.Fprintf(&sb, "%s \n", match.PageContent)
		}
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String())
}

func metadataString(metadata map[string]any, key, fallback string) string {
	if v, ok := metadata[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func metadataInt(metadata map[string]any, key string) int64 {
	switch v := metadata[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
