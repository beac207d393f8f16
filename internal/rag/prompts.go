package rag

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/vectorindex"
)

const systemPrompt = `You are a news assistant. Answer clearly and concisely.
When article excerpts are provided, base your answer only on them and mention
which articles support it. When no excerpts are provided, answer from general
knowledge and say so if the question concerns recent events you cannot verify.`

const groundedTemplate = `Use the following news article excerpts to answer the question.

%s

Question: %s`

// buildContextBlock renders retrieved chunks as numbered excerpts.
func buildContextBlock(results []vectorindex.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s\n%s", i+1, r.Payload.Title, r.Payload.Content)
	}
	return b.String()
}

// groundedPrompt wraps the question with retrieved context.
func groundedPrompt(question string, results []vectorindex.Result) string {
	return fmt.Sprintf(groundedTemplate, buildContextBlock(results), question)
}

// sourcesFromResults converts retrieval hits into citations.
func sourcesFromResults(results []vectorindex.Result) []models.Source {
	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, models.Source{
			Title: r.Payload.Title,
			Link:  r.Payload.Link,
			Score: r.Score,
		})
	}
	return sources
}
