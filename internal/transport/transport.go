package transport

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Sender delivers a formatted message to a chat user.
type Sender interface {
	Send(ctx context.Context, userID int64, text string) error
}

// LogSender writes messages to the log instead of a chat. It backs dry runs.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("alert", zap.Int64("user_id", userID), zap.String("text", text))
	return nil
}

// SplitText breaks text into chunks of at most limit bytes, preferring line
// boundaries and never splitting a UTF-8 sequence.
func SplitText(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit+1], '\n')
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
