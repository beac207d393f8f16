package llm

import (
	"context"
	"fmt"
	"strings"
)

const classifyPrompt = `You are a classifier for a news question-answering service.
Decide whether the user's message is asking about news, current events, politics,
economy, sports, technology, science, or other reported happenings.

Answer with exactly one word: "yes" or "no".

Message: %s
Answer:`

const expandPrompt = `Rewrite the user's news question as a short search query for a news article
index. Add helpful synonyms, expand abbreviations, and name the entities
involved. Return ONLY the rewritten query, nothing else.

Question: %s
Query:`

// IsNewsRelated asks the model whether the question is about news or current
// events. Anything other than an affirmative answer counts as no.
func IsNewsRelated(ctx context.Context, g Generator, question string) (bool, error) {
	answer, err := g.Generate(ctx, []ChatMessage{
		{Role: "user", Content: fmt.Sprintf(classifyPrompt, question)},
	}, Options{Temperature: 0, MaxTokens: 5})
	if err != nil {
		return false, fmt.Errorf("classify question: %w", err)
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "yes"), nil
}

// ExpandQuery rewrites the question into a retrieval-friendly search query.
// The rewrite is advisory: on error the caller should fall back to the
// original question rather than fail the request.
func ExpandQuery(ctx context.Context, g Generator, question string) (string, error) {
	expanded, err := g.Generate(ctx, []ChatMessage{
		{Role: "user", Content: fmt.Sprintf(expandPrompt, question)},
	}, Options{Temperature: 0.3, MaxTokens: 100})
	if err != nil {
		return "", fmt.Errorf("expand query: %w", err)
	}
	return strings.TrimSpace(expanded), nil
}
