package jobs

import (
	"context"
	"regexp"
	"strings"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/llm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	LanguageEnglish = "en"
	LanguageSpanish = "es"

	translationSystemPrompt = "You are a translator. Translate the following text from Spanish to English. " +
		"Maintain the same format with TITLE:, DESCRIPTION:, etc. labels. Return ONLY the translation."
	translationTemperature = 0.3
	translationMaxTokens   = 800
	translationConcurrency = 4
)

var (
	titlePattern        = regexp.MustCompile(`TITLE:\s*(.+)`)
	descriptionPattern  = regexp.MustCompile(`(?s)DESCRIPTION:\s*(.+?)(?:\n\n|LOCATION:|PAY:|REQUIREMENTS:|$)`)
	locationPattern     = regexp.MustCompile(`LOCATION:\s*(.+)`)
	payPattern          = regexp.MustCompile(`PAY:\s*(.+)`)
	requirementsPattern = regexp.MustCompile(`REQUIREMENTS:\s*(.+)`)
)

// Completer returns a single model reply. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, opts llm.CompletionOptions) (string, error)
}

// Translator renders postings in the reader's language. Postings are written
// in Spanish, so only English needs a model call.
type Translator struct {
	completer Completer
	logger    *zap.Logger
}

// NewTranslator builds a Translator. A nil completer makes every call a
// pass-through.
func NewTranslator(completer Completer, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client, ok := completer.(*llm.Client); ok && !client.Enabled() {
		completer = nil
	}
	return &Translator{completer: completer, logger: logger}
}

// TranslatePostings returns postings with their text fields translated into
// target. Any posting that cannot be translated is returned unchanged.
func (t *Translator) TranslatePostings(ctx context.Context, postings []PostingWithCount, target string) []PostingWithCount {
	translated := make([]PostingWithCount, len(postings))
	copy(translated, postings)
	if t == nil || t.completer == nil || target != LanguageEnglish {
		return translated
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(translationConcurrency)
	for index := range translated {
		index := index
		group.Go(func() error {
			translated[index].JobPosting = t.translatePosting(groupCtx, translated[index].JobPosting)
			return nil
		})
	}
	_ = group.Wait()
	return translated
}

func (t *Translator) translatePosting(ctx context.Context, posting JobPosting) JobPosting {
	source := labelledFields(posting)
	reply, err := t.completer.Complete(ctx, translationSystemPrompt, source, llm.CompletionOptions{
		Temperature: translationTemperature,
		MaxTokens:   translationMaxTokens,
	})
	if err != nil {
		t.logger.Warn("job translation failed", zap.String("posting_id", posting.ID), zap.Error(err))
		return posting
	}
	if strings.TrimSpace(reply) == "" {
		return posting
	}

	result := posting
	result.Title = firstMatch(titlePattern, reply, posting.Title)
	result.Description = firstMatch(descriptionPattern, reply, posting.Description)
	result.Location = optionalMatch(locationPattern, reply, posting.Location)
	result.PayRate = optionalMatch(payPattern, reply, posting.PayRate)
	result.Requirements = optionalMatch(requirementsPattern, reply, posting.Requirements)
	return result
}

func labelledFields(posting JobPosting) string {
	fields := []string{
		"TITLE: " + posting.Title,
		"DESCRIPTION: " + posting.Description,
	}
	if posting.Location != nil {
		fields = append(fields, "LOCATION: "+*posting.Location)
	}
	if posting.PayRate != nil {
		fields = append(fields, "PAY: "+*posting.PayRate)
	}
	if posting.Requirements != nil {
		fields = append(fields, "REQUIREMENTS: "+*posting.Requirements)
	}
	return strings.Join(fields, "\n\n")
}

func firstMatch(pattern *regexp.Regexp, text, fallback string) string {
	match := pattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return fallback
	}
	if value := strings.TrimSpace(match[1]); value != "" {
		return value
	}
	return fallback
}

func optionalMatch(pattern *regexp.Regexp, text string, fallback *string) *string {
	if fallback == nil {
		return nil
	}
	value := firstMatch(pattern, text, *fallback)
	return &value
}
