// Package awsqueue implements the job queue on Amazon SQS.
package awsqueue

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/reposage/reposage/internal/core/queue"
	"github.com/reposage/reposage/internal/core/vector"
)

// SQSAPI is the slice of the SQS client this package uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Queue is an SQS-backed job queue. It targets a FIFO queue and groups
// messages by repository so each repository's jobs process in push
// order while different repositories proceed in parallel.
type Queue struct {
	client   SQSAPI
	queueURL string
	logger   *slog.Logger
}

var _ queue.Queue = (*Queue)(nil)

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// NewQueue creates a Queue for the given SQS queue URL.
func NewQueue(client SQSAPI, queueURL string, opts ...QueueOption) *Queue {
	q := &Queue{
		client:   client,
		queueURL: queueURL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue sends one job. The deduplication ID is the webhook delivery
// ID when present, so SQS drops redelivered events inside its window.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	dedup := job.DeliveryID
	if dedup == "" {
		dedup = fmt.Sprintf("%x", sha256.Sum256(body))
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(q.queueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(vector.NamespaceForRepository(job.Repository)),
		MessageDeduplicationId: aws.String(dedup),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	q.logger.InfoContext(ctx, "enqueued job",
		slog.String("repository", job.Repository),
		slog.String("commit_sha", job.CommitSHA),
		slog.String("delivery_id", job.DeliveryID))
	return nil
}

// Receive long-polls for up to maxMessages jobs. Messages whose body
// does not parse as a job are acknowledged and dropped so a poison
// message cannot wedge the queue.
func (q *Queue) Receive(ctx context.Context, maxMessages int32, wait time.Duration) ([]queue.Message, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     int32(wait.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]queue.Message, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		var job queue.Job
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
			q.logger.WarnContext(ctx, "dropping unparseable message",
				slog.String("error", err.Error()))
			if delErr := q.Delete(ctx, aws.ToString(msg.ReceiptHandle)); delErr != nil {
				return nil, delErr
			}
			continue
		}
		messages = append(messages, queue.Message{
			Job:           job,
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}

	return messages, nil
}

// Delete acknowledges one message.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
