// Package webhook validates and deduplicates Git push events before
// they become ingestion jobs.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/reposage/reposage/internal/core/queue"
)

// DefaultBranch is the ref accepted when none is configured.
const DefaultBranch = "refs/heads/main"

// zeroSHA is the "before" value GitHub sends for a newly created branch.
const zeroSHA = "0000000000000000000000000000000000000000"

var (
	// ErrInvalidSignature means the HMAC check failed.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload means the body is not a valid push payload.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// Outcome is what happened to one delivery.
type Outcome string

const (
	// OutcomeEnqueued means a job was queued.
	OutcomeEnqueued Outcome = "enqueued"
	// OutcomeDuplicate means the delivery ID was seen before.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event or branch is out of scope.
	OutcomeIgnored Outcome = "ignored"
)

// PushEvent is the slice of the GitHub push payload the receiver needs.
type PushEvent struct {
	Ref        string `json:"ref"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// Ledger claims delivery IDs; a false return means duplicate.
type Ledger interface {
	Record(ctx context.Context, deliveryID string) (bool, error)
}

// Enqueuer accepts ingestion jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Receiver turns verified push deliveries into queue jobs.
type Receiver struct {
	secret []byte
	branch string
	ledger Ledger
	queue  Enqueuer
	logger *slog.Logger
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithBranch overrides the accepted ref.
func WithBranch(ref string) ReceiverOption {
	return func(r *Receiver) {
		r.branch = ref
	}
}

// WithReceiverLogger sets the logger.
func WithReceiverLogger(logger *slog.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// NewReceiver creates a Receiver for the given shared secret.
func NewReceiver(secret string, ledger Ledger, enqueuer Enqueuer, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		secret: []byte(secret),
		branch: DefaultBranch,
		ledger: ledger,
		queue:  enqueuer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VerifySignature checks the X-Hub-Signature-256 header against the
// body in constant time.
func (r *Receiver) VerifySignature(body []byte, header string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, r.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// HandlePush processes one delivery. The signature is checked before
// anything is parsed; events off the configured branch are ignored
// after verification so probing with valid secrets still leaks nothing.
func (r *Receiver) HandlePush(ctx context.Context, event, deliveryID, signature string, body []byte) (Outcome, error) {
	if !r.VerifySignature(body, signature) {
		return "", ErrInvalidSignature
	}
	if event != "push" {
		return OutcomeIgnored, nil
	}

	var payload PushEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPayload, err)
	}
	if payload.Repository.FullName == "" || payload.After == "" {
		return "", fmt.Errorf("%w: missing repository or commit", ErrInvalidPayload)
	}
	if payload.Ref != r.branch {
		r.logger.DebugContext(ctx, "ignoring off-branch push",
			slog.String("ref", payload.Ref),
			slog.String("repository", payload.Repository.FullName))
		return OutcomeIgnored, nil
	}

	// Deliveries without an ID (manual replays, non-GitHub senders) get
	// a generated one so the job stays traceable end to end.
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	fresh, err := r.ledger.Record(ctx, deliveryID)
	if err != nil {
		return "", fmt.Errorf("failed to check delivery: %w", err)
	}
	if !fresh {
		r.logger.InfoContext(ctx, "duplicate delivery",
			slog.String("delivery_id", deliveryID))
		return OutcomeDuplicate, nil
	}

	job := queue.Job{
		Repository: payload.Repository.FullName,
		CloneURL:   payload.Repository.CloneURL,
		Ref:        payload.Ref,
		CommitSHA:  payload.After,
		Pusher:     payload.Pusher.Name,
		DeliveryID: deliveryID,
	}
	if payload.Before != "" && payload.Before != zeroSHA {
		job.FromRev = payload.Before
	}

	if err := r.queue.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	r.logger.InfoContext(ctx, "enqueued push",
		slog.String("repository", job.Repository),
		slog.String("commit_sha", job.CommitSHA),
		slog.String("pusher", job.Pusher))
	return OutcomeEnqueued, nil
}
