package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	SubmitSubject = "listings.submit"
	StatusSubject = "listings.status"
)

type Client struct {
	conn *nats.Conn
}

func NewClient(url string) (*Client, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn}, nil
}

// PublishSubmission asks a listening queue to list the folder.
func (c *Client) PublishSubmission(msg *SubmissionMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal submission message: %w", err)
	}

	if err := c.conn.Publish(SubmitSubject, data); err != nil {
		return fmt.Errorf("failed to publish submission: %w", err)
	}

	return nil
}

// PublishStatus announces a job state change.
func (c *Client) PublishStatus(msg *StatusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}

	if err := c.conn.Publish(StatusSubject, data); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}

	return nil
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
