package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/mail-tracker/internal/pkg/logger"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
)

// SQSAPI is the subset of the SQS client used by Consumer.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer reads SNS envelopes from an SQS queue subscribed to the SES
// notification topic and hands them to the tracker, as an alternative to
// the HTTP webhook.
type Consumer struct {
	sqsClient  SQSAPI
	queueURL   string
	tracker    *mailtracker.Tracker
	errBackoff time.Duration
	done       chan struct{}
	stopped    chan struct{}
}

func NewConsumer(sqsClient SQSAPI, queueURL string, tracker *mailtracker.Tracker) *Consumer {
	return &Consumer{
		sqsClient:  sqsClient,
		queueURL:   queueURL,
		tracker:    tracker,
		errBackoff: 5 * time.Second,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	logger.Info("SQS notification consumer started", "queue", c.queueURL)
	go c.poll(ctx)
}

// Stop ends polling and waits for the in-flight batch to finish.
func (c *Consumer) Stop() {
	close(c.done)
	<-c.stopped
}

func (c *Consumer) poll(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("SQS receive error", "queue", c.queueURL, "error", err)
			select {
			case <-time.After(c.errBackoff):
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, msg := range out.Messages {
			c.handle(ctx, aws.ToString(msg.Body))
			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}
}

// handle processes one queue message. Every outcome is final, so the
// message is deleted afterwards regardless.
func (c *Consumer) handle(ctx context.Context, body string) {
	ack, err := c.tracker.HandleEnvelope(ctx, []byte(body))
	switch {
	case errors.Is(err, mailtracker.ErrUnknownTopic), errors.Is(err, mailtracker.ErrUnsupportedEnvelopeType):
		logger.Warn("SQS dropped notification", "queue", c.queueURL, "error", err)
	case err != nil:
		logger.Error("SQS notification failed", "queue", c.queueURL, "error", err)
	default:
		logger.Debug("SQS notification handled", "ack", ack)
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	_, err := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Warn("SQS delete failed", "queue", c.queueURL, "error", err)
	}
}
