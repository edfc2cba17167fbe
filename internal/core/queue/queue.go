// Package queue defines the ingestion job contract between the webhook
// receiver and the background worker.
package queue

import (
	"context"
	"time"
)

// Job is one unit of indexing work. A job with FromRev set is an
// incremental sync over the commit range FromRev..CommitSHA; without it
// the worker performs a full ingestion at CommitSHA.
type Job struct {
	Repository string `json:"repository"`
	CloneURL   string `json:"clone_url"`
	Ref        string `json:"ref"`
	CommitSHA  string `json:"commit_sha"`
	FromRev    string `json:"from_rev,omitempty"`
	Pusher     string `json:"pusher,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

// Message is a received job plus the handle needed to acknowledge it.
type Message struct {
	Job           Job
	ReceiptHandle string
}

// Queue moves jobs between the receiver and the worker. Delivery is
// at-least-once; consumers must tolerate duplicates.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Receive(ctx context.Context, maxMessages int32, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}
