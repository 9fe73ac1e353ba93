package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/llm"
	"go.uber.org/zap"
)

const (
	opSummarizeChannel = "chat.summarize_channel"

	summarySystemPrompt = "You are a precise assistant. Return only the plain text summary in the exact format requested, with no extra commentary."
	unknownAuthorName   = "Unknown"
)

// SummarizeChannel streams a week-by-week summary of the channel's recent
// messages to emit. Returning an error from emit or cancelling ctx stops
// the stream.
func (s *Service) SummarizeChannel(ctx context.Context, userID, channelID string, emit func(delta string) error) error {
	channel, err := s.channelForMember(ctx, opSummarizeChannel, userID, channelID)
	if err != nil {
		return err
	}
	if s.summarizer == nil {
		return apperr.New(opSummarizeChannel, "llm_unavailable", apperr.KindUnavailable, llm.ErrUnavailable)
	}

	since := s.now().Add(-s.summaryWindow)
	var messages []Message
	err = s.db.WithContext(ctx).
		Preload("Author").
		Where("channel_id = ? AND created_at >= ?", channel.ID, since).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		s.logError(opSummarizeChannel, "query_failed", err, zap.String("channel_id", channel.ID))
		return apperr.New(opSummarizeChannel, "query_failed", apperr.KindInternal, err)
	}

	err = s.summarizer.Stream(ctx, summarySystemPrompt, summaryPrompt(messages), emit)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, llm.ErrUnavailable):
		return apperr.New(opSummarizeChannel, "llm_unavailable", apperr.KindUnavailable, err)
	default:
		s.logError(opSummarizeChannel, "stream_failed", err, zap.String("channel_id", channel.ID))
		return apperr.New(opSummarizeChannel, "stream_failed", apperr.KindUnavailable, err)
	}
}

func summaryPrompt(messages []Message) string {
	var builder strings.Builder
	builder.WriteString("Summarize discussions week by week for the past four weeks that contain messages from a channel. ")
	builder.WriteString("Include the author's first name, date, and discussion summary.\n")
	builder.WriteString("Only include weeks that have messages when you are considering what constitutes the past four weeks. ")
	builder.WriteString("List the weeks and their summaries in chronological order.\n")
	builder.WriteString("Use concise language. Make each discussion summary 1-2 sentences.\n\n")
	builder.WriteString("Format your response in this way:\n")
	builder.WriteString("Week <number> (<start date> - <end date>)\n")
	builder.WriteString("1-2 sentence summary of the discussion\n\n")
	builder.WriteString("Here is an example response for one week:\n")
	builder.WriteString("Week 1 (Oct 27, 2025 - Nov 2, 2025)\n")
	builder.WriteString("John and Jane compared their favorite pizza slices in New York City.\n\n")
	builder.WriteString("Here are the messages:\n")
	for _, message := range messages {
		author := unknownAuthorName
		if message.Author != nil && message.Author.DisplayName != "" {
			author = message.Author.DisplayName
		}
		fmt.Fprintf(&builder, "%s %s: %s\n", author, message.CreatedAt.UTC().Format(time.RFC3339), message.Content)
	}
	return builder.String()
}
