package events

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/mail-tracker/internal/domain"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
)

// SQSAPI is the subset of the SQS client used by SQSPublisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends each event as a JSON message to an SQS queue. Sends
// happen in the background so request handlers are not held up by AWS.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewSQSPublisher creates a publisher for queueURL.
func NewSQSPublisher(client SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL, timeout: 5 * time.Second}
}

// Dispatch queues evt for sending.
func (p *SQSPublisher) Dispatch(_ context.Context, evt domain.Event) {
	body, err := encode(evt)
	if err != nil {
		logger.Error("events: sqs publish skipped", "error", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(evt.Type))},
			},
		})
		if err != nil {
			logger.Error("events: publishing to SQS failed", "type", string(evt.Type), "hash", evt.MessageHash, "error", err)
		}
	}()
}

// Wait blocks until every queued send has finished.
func (p *SQSPublisher) Wait() { p.wg.Wait() }
