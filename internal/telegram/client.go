// internal/telegram/client.go
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the Telegram Bot API over long-polling HTTP.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	offset     int64
}

func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: "https://api.telegram.org",
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// --- Bot API types ---

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type Message struct {
	MessageID      int64    `json:"message_id"`
	From           *User    `json:"from,omitempty"`
	Chat           Chat     `json:"chat"`
	Text           string   `json:"text"`
	ReplyToMessage *Message `json:"reply_to_message,omitempty"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from,omitempty"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type updatesResponse struct {
	OK     bool     `json:"ok"`
	Result []Update `json:"result"`
}

type messageResponse struct {
	OK          bool    `json:"ok"`
	Result      Message `json:"result"`
	Description string  `json:"description"`
}

type getMeResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		Username string `json:"username"`
	} `json:"result"`
}

type sendRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id,omitempty"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// GetMe returns the bot's username, confirming the token works.
func (c *Client) GetMe(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "getMe", nil)
	if err != nil {
		return "", err
	}

	var result getMeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}
	if !result.OK || result.Result.Username == "" {
		return "", fmt.Errorf("getMe returned ok=%v username=%q", result.OK, result.Result.Username)
	}
	return result.Result.Username, nil
}

// GetUpdates long-polls for new updates, advancing the internal offset.
func (c *Client) GetUpdates(ctx context.Context) ([]Update, error) {
	body, err := c.get(ctx, "getUpdates", url.Values{
		"offset":  {fmt.Sprint(c.offset)},
		"timeout": {"30"},
	})
	if err != nil {
		return nil, err
	}

	var result updatesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram API returned ok=false")
	}

	for _, u := range result.Result {
		if u.UpdateID >= c.offset {
			c.offset = u.UpdateID + 1
		}
	}
	return result.Result, nil
}

// SendMessage sends markdown text and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	return c.postMessage(ctx, "sendMessage", sendRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "Markdown",
	})
}

// SendMessageWithKeyboard sends text with an inline keyboard attached.
func (c *Client) SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, kb *InlineKeyboardMarkup) (int64, error) {
	return c.postMessage(ctx, "sendMessage", sendRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "Markdown",
		ReplyMarkup: kb,
	})
}

// EditMessage replaces a previously sent message's text.
func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := c.postMessage(ctx, "editMessageText", sendRequest{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		ParseMode: "Markdown",
	})
	return err
}

// AnswerCallback acknowledges an inline keyboard press.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload, err := json.Marshal(map[string]string{
		"callback_query_id": callbackID,
		"text":              text,
	})
	if err != nil {
		return err
	}
	_, err = c.post(ctx, "answerCallbackQuery", "application/json", bytes.NewReader(payload))
	return err
}

// SendDocument uploads content as a named file attachment.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename, caption string, content []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", fmt.Sprint(chatID)); err != nil {
		return err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	_, err = c.post(ctx, "sendDocument", w.FormDataContentType(), &buf)
	return err
}

func (c *Client) postMessage(ctx context.Context, method string, req sendRequest) (int64, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	body, err := c.post(ctx, method, "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}

	var result messageResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("unmarshal response: %w", err)
	}
	if !result.OK {
		return 0, fmt.Errorf("%s failed: %s", method, result.Description)
	}
	return result.Result.MessageID, nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, method, contentType string, body io.Reader) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram API error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
