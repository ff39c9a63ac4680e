package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// buildLogEvent is the wire shape consumed from the build-log topic.
type buildLogEvent struct {
	BuildID    string   `json:"build_id"`
	AgentID    string   `json:"agent_id"`
	ProjectID  string   `json:"project_id"`
	Success    bool     `json:"success"`
	Output     string   `json:"output"`
	Errors     []string `json:"errors"`
	DurationMS int64    `json:"duration_ms"`
	Timestamp  int64    `json:"timestamp"`
}

// KafkaBuildLogConsumer reads JSON-encoded build-log events off a topic and
// converts+stores each one through FromBuildLog, giving the ingest bridge a
// streaming front door alongside its direct-call path. Grounded on the
// teacher's orchestrator Kafka consumer: one reader processing messages one
// at a time, commit-after-success.
type KafkaBuildLogConsumer struct {
	Reader *kafka.Reader
	Store  func(ctx context.Context, in BuildLog) error
	Logger zerolog.Logger
}

// NewKafkaBuildLogConsumer builds a reader for the given brokers/topic/group.
func NewKafkaBuildLogConsumer(brokers []string, topic, groupID string, store func(ctx context.Context, in BuildLog) error, logger zerolog.Logger) *KafkaBuildLogConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaBuildLogConsumer{Reader: reader, Store: store, Logger: logger}
}

// Run consumes until ctx is cancelled, committing each message only after
// Store succeeds.
func (c *KafkaBuildLogConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch build log message: %w", err)
		}
		var ev buildLogEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.Logger.Warn().Err(err).Msg("ingest: dropping malformed build log event")
			if err := c.Reader.CommitMessages(ctx, msg); err != nil {
				c.Logger.Warn().Err(err).Msg("ingest: commit failed for malformed event")
			}
			continue
		}
		bl := BuildLog{
			BuildID: ev.BuildID, AgentID: ev.AgentID, ProjectID: ev.ProjectID,
			Success: ev.Success, Output: ev.Output, Errors: ev.Errors,
			DurationMS: ev.DurationMS, Timestamp: ev.Timestamp,
		}
		if err := c.Store(ctx, bl); err != nil {
			c.Logger.Warn().Err(err).Str("build_id", bl.BuildID).Msg("ingest: store failed, leaving uncommitted for redelivery")
			continue
		}
		if err := c.Reader.CommitMessages(ctx, msg); err != nil {
			c.Logger.Warn().Err(err).Msg("ingest: commit failed")
		}
	}
}

func (c *KafkaBuildLogConsumer) Close() error { return c.Reader.Close() }
