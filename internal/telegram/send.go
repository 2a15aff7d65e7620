// internal/telegram/send.go
package telegram

import (
	"context"
	"strings"
	"unicode/utf8"
)

const (
	// safeMessageLength leaves headroom under Telegram's 4096 limit for
	// markdown escaping and split markers.
	safeMessageLength = 3800
	// splitThreshold is the longest text still sent as two messages;
	// anything bigger becomes a summary plus a file attachment.
	splitThreshold = 7500
	// summaryLength is how much of an oversized text is shown inline.
	summaryLength = 1500
)

// SafeSend delivers text of any length. Short texts go out directly, medium
// texts are split in two at a newline, and oversized texts become a summary
// with the full content attached as a markdown file. When messageID is
// non-zero the first part edits that message instead of sending a new one.
// Returns the id of the first delivered message.
func (c *Client) SafeSend(ctx context.Context, chatID, messageID int64, text, fileName string) (int64, error) {
	if len(text) <= safeMessageLength {
		return c.sendOrEdit(ctx, chatID, messageID, text)
	}

	if len(text) <= splitThreshold {
		split := FindSplitPoint(text, safeMessageLength)
		part1 := strings.TrimRight(text[:split], " \n") + "\n\n_(continued...)_"
		part2 := "_(continued)_\n\n" + strings.TrimLeft(text[split:], " \n")

		id, err := c.sendOrEdit(ctx, chatID, messageID, part1)
		if err != nil {
			return 0, err
		}
		if _, err := c.SendMessage(ctx, chatID, part2); err != nil {
			return id, err
		}
		return id, nil
	}

	summary := strings.TrimRight(text[:runeBoundary(text, summaryLength)], " \n") + "\n\n_...full content attached_"
	id, err := c.sendOrEdit(ctx, chatID, messageID, summary)
	if err != nil {
		return 0, err
	}

	if fileName == "" {
		fileName = "content"
	}
	if err := c.SendDocument(ctx, chatID, fileName+".md", "Full content", []byte(text)); err != nil {
		return id, err
	}
	return id, nil
}

func (c *Client) sendOrEdit(ctx context.Context, chatID, messageID int64, text string) (int64, error) {
	if messageID != 0 {
		return messageID, c.EditMessage(ctx, chatID, messageID, text)
	}
	return c.SendMessage(ctx, chatID, text)
}

// FindSplitPoint picks a split position near target, preferring a paragraph
// break, then any newline, within a window around the target.
func FindSplitPoint(text string, target int) int {
	searchStart := target - 500
	if searchStart < 0 {
		searchStart = 0
	}
	searchEnd := target + 200
	if searchEnd > len(text) {
		searchEnd = len(text)
	}

	window := text[searchStart:searchEnd]
	if i := strings.LastIndex(window, "\n\n"); i != -1 {
		return searchStart + i
	}
	if i := strings.LastIndex(window, "\n"); i != -1 {
		return searchStart + i
	}
	return runeBoundary(text, target)
}

// runeBoundary backs i off to the start of the rune it points into, so
// slicing at the result never produces invalid UTF-8.
func runeBoundary(text string, i int) int {
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
