package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposage/reposage/internal/core/queue"
)

const testSecret = "hook-secret"

type memLedger struct {
	seen map[string]bool
	err  error
}

func (m *memLedger) Record(ctx context.Context, deliveryID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[deliveryID] {
		return false, nil
	}
	m.seen[deliveryID] = true
	return true, nil
}

type memQueue struct {
	jobs []queue.Job
	err  error
}

func (m *memQueue) Enqueue(ctx context.Context, job queue.Job) error {
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushBody(ref, before, after string) []byte {
	return fmt.Appendf(nil, `{
		"ref": %q,
		"before": %q,
		"after": %q,
		"repository": {"full_name": "acme/alpha", "clone_url": "https://github.com/acme/alpha.git"},
		"pusher": {"name": "dev"}
	}`, ref, before, after)
}

func TestHandlePushEnqueuesJob(t *testing.T) {
	ledger := &memLedger{}
	q := &memQueue{}
	r := NewReceiver(testSecret, ledger, q)

	body := pushBody("refs/heads/main", "aaa111", "bbb222")
	outcome, err := r.HandlePush(t.Context(), "push", "delivery-1", sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEnqueued, outcome)

	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, "acme/alpha", job.Repository)
	assert.Equal(t, "https://github.com/acme/alpha.git", job.CloneURL)
	assert.Equal(t, "refs/heads/main", job.Ref)
	assert.Equal(t, "bbb222", job.CommitSHA)
	assert.Equal(t, "aaa111", job.FromRev)
	assert.Equal(t, "dev", job.Pusher)
	assert.Equal(t, "delivery-1", job.DeliveryID)
}

func TestHandlePushNewBranchHasNoFromRev(t *testing.T) {
	q := &memQueue{}
	r := NewReceiver(testSecret, &memLedger{}, q)

	body := pushBody("refs/heads/main", zeroSHA, "bbb222")
	outcome, err := r.HandlePush(t.Context(), "push", "delivery-1", sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEnqueued, outcome)

	require.Len(t, q.jobs, 1)
	assert.Empty(t, q.jobs[0].FromRev)
}

func TestHandlePushDeduplicatesDeliveries(t *testing.T) {
	q := &memQueue{}
	r := NewReceiver(testSecret, &memLedger{}, q)
	body := pushBody("refs/heads/main", "aaa111", "bbb222")

	outcome, err := r.HandlePush(t.Context(), "push", "delivery-1", sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEnqueued, outcome)

	outcome, err = r.HandlePush(t.Context(), "push", "delivery-1", sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Len(t, q.jobs, 1)
}

func TestHandlePushRejectsBadSignature(t *testing.T) {
	q := &memQueue{}
	r := NewReceiver(testSecret, &memLedger{}, q)
	body := pushBody("refs/heads/main", "aaa111", "bbb222")

	for _, sig := range []string{"", "sha256=deadbeef", "sha1=abc", sign([]byte("other body"))} {
		_, err := r.HandlePush(t.Context(), "push", "delivery-1", sig, body)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	}
	assert.Empty(t, q.jobs)
}

func TestHandlePushIgnoresOtherEventsAndBranches(t *testing.T) {
	q := &memQueue{}
	r := NewReceiver(testSecret, &memLedger{}, q)

	body := pushBody("refs/heads/main", "aaa111", "bbb222")
	outcome, err := r.HandlePush(t.Context(), "ping", "delivery-1", sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	body = pushBody("refs/heads/feature/x", "aaa111", "bbb222")
	outcome, err = r.HandlePush(t.Context(), "push", "delivery-2", sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	assert.Empty(t, q.jobs)
}

func TestHandlePushGeneratesDeliveryID(t *testing.T) {
	q := &memQueue{}
	r := NewReceiver(testSecret, &memLedger{}, q)

	body := pushBody("refs/heads/main", "aaa111", "bbb222")
	outcome, err := r.HandlePush(t.Context(), "push", "", sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEnqueued, outcome)

	require.Len(t, q.jobs, 1)
	assert.NotEmpty(t, q.jobs[0].DeliveryID)
}

func TestHandlePushConfiguredBranch(t *testing.T) {
	q := &memQueue{}
	r := NewReceiver(testSecret, &memLedger{}, q, WithBranch("refs/heads/develop"))

	body := pushBody("refs/heads/develop", "aaa111", "bbb222")
	outcome, err := r.HandlePush(t.Context(), "push", "delivery-1", sign(body), body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEnqueued, outcome)
}

func TestHandlePushRejectsMalformedPayload(t *testing.T) {
	r := NewReceiver(testSecret, &memLedger{}, &memQueue{})

	body := []byte(`{not json`)
	_, err := r.HandlePush(t.Context(), "push", "delivery-1", sign(body), body)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	body = []byte(`{"ref": "refs/heads/main", "after": ""}`)
	_, err = r.HandlePush(t.Context(), "push", "delivery-1", sign(body), body)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestHandlePushSurfacesEnqueueFailure(t *testing.T) {
	q := &memQueue{err: fmt.Errorf("queue unavailable")}
	r := NewReceiver(testSecret, &memLedger{}, q)

	body := pushBody("refs/heads/main", "aaa111", "bbb222")
	_, err := r.HandlePush(t.Context(), "push", "delivery-1", sign(body), body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to enqueue job")
}
