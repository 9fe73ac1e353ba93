package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (c *scriptedCompleter) Complete(_ context.Context, _ string, prompt string, opts llm.CompletionOptions) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	if opts.Temperature != translationTemperature {
		return "", errors.New("unexpected temperature")
	}
	return c.reply(prompt)
}

func stringPointer(value string) *string {
	return &value
}

func TestTranslatePostingsParsesLabelledReply(t *testing.T) {
	completer := &scriptedCompleter{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "fallar") {
			return "", errors.New("model timeout")
		}
		return "TITLE: Strawberry harvest\n\nDESCRIPTION: Pick strawberries\non the farm\n\nLOCATION: Durham\n\nPAY: $15 per hour", nil
	}}
	translator := NewTranslator(completer, nil)

	postings := []PostingWithCount{
		{JobPosting: JobPosting{ID: "a", Title: "Cosecha de fresas", Description: "Recoger fresas", Location: stringPointer("Durham"), PayRate: stringPointer("$15 por hora")}, ApplicationCount: 2},
		{JobPosting: JobPosting{ID: "b", Title: "Va a fallar", Description: "Nada"}},
	}
	translated := translator.TranslatePostings(context.Background(), postings, LanguageEnglish)
	require.Len(t, translated, 2)

	assert.Equal(t, "Strawberry harvest", translated[0].Title)
	assert.Equal(t, "Pick strawberries\non the farm", translated[0].Description)
	assert.Equal(t, "$15 per hour", *translated[0].PayRate)
	assert.Nil(t, translated[0].Requirements)
	assert.Equal(t, 2, translated[0].ApplicationCount)

	assert.Equal(t, "Va a fallar", translated[1].Title, "failed translations fall back to the original text")
	assert.Equal(t, "Cosecha de fresas", postings[0].Title, "input slice must not be modified")
	assert.Contains(t, completer.prompts[0]+completer.prompts[1], "TITLE: Cosecha de fresas")
}

func TestTranslatePostingsPassThrough(t *testing.T) {
	postings := []PostingWithCount{{JobPosting: JobPosting{ID: "a", Title: "Cosecha"}}}

	var disabled *llm.Client
	assert.Equal(t, postings, NewTranslator(disabled, nil).TranslatePostings(context.Background(), postings, LanguageEnglish))

	completer := &scriptedCompleter{reply: func(string) (string, error) { return "TITLE: Harvest", nil }}
	assert.Equal(t, postings, NewTranslator(completer, nil).TranslatePostings(context.Background(), postings, LanguageSpanish))
	assert.Empty(t, completer.prompts)
}
