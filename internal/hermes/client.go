package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/scribe/internal/ingest"
)

// SubjectImportCompleted is published once per successful import. The
// subscription gate and the analysis pipeline consume it.
const SubjectImportCompleted = "scribe.import.completed"

// ImportCompleted is the payload on SubjectImportCompleted.
type ImportCompleted struct {
	ConversationID   string `json:"conversation_id"`
	Platform         string `json:"platform"`
	Format           string `json:"format"`
	MessageCount     int    `json:"message_count"`
	ParticipantCount int    `json:"participant_count"`
	MediaCount       int    `json:"media_count"`
	Skipped          int    `json:"skipped"`
	HasMedia         bool   `json:"has_media"`
	Streamed         bool   `json:"streamed"`
}

// NewImportCompleted summarises a finished import.
func NewImportCompleted(res *ingest.Result) ImportCompleted {
	nc := res.Conversation
	return ImportCompleted{
		ConversationID:   nc.Conversation.ID,
		Platform:         string(nc.Conversation.SourcePlatform),
		Format:           string(res.Report.Format),
		MessageCount:     nc.Conversation.MessageCount,
		ParticipantCount: len(nc.Participants),
		MediaCount:       len(nc.Media),
		Skipped:          res.Report.Skipped,
		HasMedia:         nc.HasMedia(),
		Streamed:         res.Report.Streamed,
	}
}

const closeFlushTimeout = 5 * time.Second

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("scribe"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// PublishImportCompleted announces a finished import.
func (c *Client) PublishImportCompleted(res *ingest.Result) error {
	if err := c.Publish(SubjectImportCompleted, NewImportCompleted(res)); err != nil {
		return fmt.Errorf("publish %s: %w", SubjectImportCompleted, err)
	}
	return nil
}

// Close flushes pending events and drains the connection.
func (c *Client) Close() error {
	if err := c.conn.FlushTimeout(closeFlushTimeout); err != nil {
		c.logger.Warn("nats flush before close failed", "error", err)
	}
	if err := c.conn.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
