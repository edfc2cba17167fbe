package awsqueue

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposage/reposage/internal/core/queue"
)

type stubSQS struct {
	sent     []*sqs.SendMessageInput
	received *sqs.ReceiveMessageOutput
	deleted  []string
}

func (s *stubSQS) SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.sent = append(s.sent, input)
	return &sqs.SendMessageOutput{}, nil
}

func (s *stubSQS) ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if s.received == nil {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	return s.received, nil
}

func (s *stubSQS) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	s.deleted = append(s.deleted, aws.ToString(input.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestEnqueueGroupsByRepository(t *testing.T) {
	stub := &stubSQS{}
	q := NewQueue(stub, "https://sqs.example/queue.fifo")

	err := q.Enqueue(t.Context(), queue.Job{
		Repository: "acme/widgets",
		CommitSHA:  "abc123",
		DeliveryID: "delivery-1",
	})
	require.NoError(t, err)

	require.Len(t, stub.sent, 1)
	sent := stub.sent[0]
	assert.Equal(t, "acme--widgets", aws.ToString(sent.MessageGroupId))
	assert.Equal(t, "delivery-1", aws.ToString(sent.MessageDeduplicationId))
	assert.Contains(t, aws.ToString(sent.MessageBody), `"commit_sha":"abc123"`)
}

func TestEnqueueDeduplicationFallback(t *testing.T) {
	stub := &stubSQS{}
	q := NewQueue(stub, "https://sqs.example/queue.fifo")

	job := queue.Job{Repository: "acme/widgets", CommitSHA: "abc123"}
	require.NoError(t, q.Enqueue(t.Context(), job))
	require.NoError(t, q.Enqueue(t.Context(), job))

	require.Len(t, stub.sent, 2)
	first := aws.ToString(stub.sent[0].MessageDeduplicationId)
	assert.NotEmpty(t, first)
	assert.Equal(t, first, aws.ToString(stub.sent[1].MessageDeduplicationId))
}

func TestReceiveParsesJobs(t *testing.T) {
	stub := &stubSQS{
		received: &sqs.ReceiveMessageOutput{
			Messages: []types.Message{
				{
					Body:          aws.String(`{"repository":"acme/widgets","commit_sha":"abc123"}`),
					ReceiptHandle: aws.String("rh-1"),
				},
				{
					Body:          aws.String(`not json`),
					ReceiptHandle: aws.String("rh-2"),
				},
			},
		},
	}
	q := NewQueue(stub, "https://sqs.example/queue.fifo")

	messages, err := q.Receive(t.Context(), 10, 20*time.Second)
	require.NoError(t, err)

	require.Len(t, messages, 1)
	assert.Equal(t, "acme/widgets", messages[0].Job.Repository)
	assert.Equal(t, "rh-1", messages[0].ReceiptHandle)

	// The poison message is acknowledged, not redelivered forever.
	assert.Equal(t, []string{"rh-2"}, stub.deleted)
}

func TestDelete(t *testing.T) {
	stub := &stubSQS{}
	q := NewQueue(stub, "https://sqs.example/queue.fifo")

	require.NoError(t, q.Delete(t.Context(), "rh-9"))
	assert.Equal(t, []string{"rh-9"}, stub.deleted)
}
