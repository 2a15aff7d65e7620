// internal/events/client.go
// Fire-and-forget webhook notifications for discussion lifecycle events.
package events

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"
)

const (
	EventDiscussionStarted   = "discussion_started"
	EventDiscussionConverged = "discussion_converged"
	EventDebateStarted       = "debate_started"
	EventDebateFinished      = "debate_finished"
)

// Event is the webhook payload.
type Event struct {
	Type      string            `json:"type"`
	Source    string            `json:"source"`
	Timestamp int64             `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
}

// Client posts events to a configured endpoint. A client with an empty
// endpoint is disabled and drops everything.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 2 * time.Second, // short timeout for fire-and-forget
		},
	}
}

func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

// Emit sends an event asynchronously. Delivery is best-effort.
func (c *Client) Emit(eventType string, data map[string]string) {
	if !c.Enabled() {
		return
	}
	event := Event{
		Type:      eventType,
		Source:    "agora",
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
	go c.send(event)
}

func (c *Client) send(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("[events] failed to marshal event: %v", err)
		return
	}

	resp, err := c.httpClient.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		// Connection failures are expected when no listener is running
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[events] event rejected with status %d", resp.StatusCode)
	}
}

// DiscussionStarted emits a discussion_started event.
func (c *Client) DiscussionStarted(chatID int64, topic string) {
	c.Emit(EventDiscussionStarted, map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
		"topic":   truncate(topic, 200),
	})
}

// DiscussionConverged emits a discussion_converged event.
func (c *Client) DiscussionConverged(chatID int64, reason string, rounds int, score float64) {
	c.Emit(EventDiscussionConverged, map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
		"reason":  reason,
		"rounds":  strconv.Itoa(rounds),
		"score":   strconv.FormatFloat(score, 'f', 1, 64),
	})
}

// DebateStarted emits a debate_started event.
func (c *Client) DebateStarted(chatID int64, topic string) {
	c.Emit(EventDebateStarted, map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
		"topic":   truncate(topic, 200),
	})
}

// DebateFinished emits a debate_finished event.
func (c *Client) DebateFinished(chatID int64, winner string, proTotal, conTotal float64) {
	c.Emit(EventDebateFinished, map[string]string{
		"chat_id":   strconv.FormatInt(chatID, 10),
		"winner":    winner,
		"pro_total": strconv.FormatFloat(proTotal, 'f', 1, 64),
		"con_total": strconv.FormatFloat(conTotal, 'f', 1, 64),
	})
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
