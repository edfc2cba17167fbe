package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposage/reposage/internal/core/ingest"
	"github.com/reposage/reposage/internal/core/queue"
)

// stubQueue hands out pre-loaded batches and cancels the run context
// once drained so Run terminates.
type stubQueue struct {
	batches [][]queue.Message
	deleted []string
	cancel  context.CancelFunc
}

func (q *stubQueue) Enqueue(ctx context.Context, job queue.Job) error { return nil }

func (q *stubQueue) Receive(ctx context.Context, maxMessages int32, wait time.Duration) ([]queue.Message, error) {
	if len(q.batches) == 0 {
		q.cancel()
		return nil, nil
	}
	batch := q.batches[0]
	q.batches = q.batches[1:]
	return batch, nil
}

func (q *stubQueue) Delete(ctx context.Context, receiptHandle string) error {
	q.deleted = append(q.deleted, receiptHandle)
	return nil
}

type stubCheckout struct {
	dir     string
	head    string
	changes []ingest.Change
	diffErr error
	closed  bool
}

func (c *stubCheckout) Dir() string  { return c.dir }
func (c *stubCheckout) Head() string { return c.head }

func (c *stubCheckout) DiffRange(ctx context.Context, fromRev, toRev string) ([]ingest.Change, error) {
	if c.diffErr != nil {
		return nil, c.diffErr
	}
	return c.changes, nil
}

func (c *stubCheckout) Close() error {
	c.closed = true
	return nil
}

type stubCloner struct {
	checkout *stubCheckout
	err      error
	url      string
	ref      string
}

func (c *stubCloner) Clone(ctx context.Context, url, ref string) (Checkout, error) {
	c.url, c.ref = url, ref
	if c.err != nil {
		return nil, c.err
	}
	return c.checkout, nil
}

type stubIngester struct {
	ingestParams *ingest.Params
	syncParams   *ingest.Params
	syncChanges  []ingest.Change
	activatedRef string
	result       *ingest.Result
	err          error
}

func (s *stubIngester) IngestRepository(ctx context.Context, params ingest.Params) (*ingest.Result, error) {
	s.ingestParams = &params
	return s.result, s.err
}

func (s *stubIngester) Sync(ctx context.Context, params ingest.Params, changes []ingest.Change) (*ingest.Result, error) {
	s.syncParams = &params
	s.syncChanges = changes
	return s.result, s.err
}

func (s *stubIngester) Activate(ctx context.Context, repository, ref string) error {
	s.activatedRef = ref
	return nil
}

func runOnce(t *testing.T, jobs []queue.Job, cloner Cloner, ingester Ingester) *stubQueue {
	t.Helper()
	messages := make([]queue.Message, 0, len(jobs))
	for i, job := range jobs {
		messages = append(messages, queue.Message{Job: job, ReceiptHandle: fmt.Sprintf("rh-%d", i)})
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	q := &stubQueue{batches: [][]queue.Message{messages}, cancel: cancel}

	w := NewWorker(q, cloner, ingester)
	require.NoError(t, w.Run(ctx))
	return q
}

func fullJob() queue.Job {
	return queue.Job{
		Repository: "acme/widgets",
		CloneURL:   "https://github.com/acme/widgets.git",
		Ref:        "refs/heads/main",
		CommitSHA:  "bbb222",
	}
}

func TestRunFullIngestActivatesAndDeletes(t *testing.T) {
	co := &stubCheckout{dir: "/tmp/co", head: "bbb222"}
	cloner := &stubCloner{checkout: co}
	ing := &stubIngester{result: &ingest.Result{ProcessedFiles: 3}}

	q := runOnce(t, []queue.Job{fullJob()}, cloner, ing)

	assert.Equal(t, "https://github.com/acme/widgets.git", cloner.url)
	assert.Equal(t, "bbb222", cloner.ref)

	require.NotNil(t, ing.ingestParams)
	assert.Equal(t, "acme/widgets", ing.ingestParams.Repository)
	assert.Equal(t, "bbb222", ing.ingestParams.Ref)
	assert.Equal(t, "/tmp/co", ing.ingestParams.Dir)
	assert.False(t, ing.ingestParams.Live)

	assert.Equal(t, "bbb222", ing.activatedRef)
	assert.Equal(t, []string{"rh-0"}, q.deleted)
	assert.True(t, co.closed)
}

func TestRunSyncGoesLiveWithoutActivation(t *testing.T) {
	job := fullJob()
	job.FromRev = "aaa111"

	changes := []ingest.Change{{Op: ingest.OpModify, Path: "a.py"}}
	co := &stubCheckout{dir: "/tmp/co", head: "bbb222", changes: changes}
	ing := &stubIngester{result: &ingest.Result{ProcessedFiles: 1}}

	q := runOnce(t, []queue.Job{job}, &stubCloner{checkout: co}, ing)

	require.NotNil(t, ing.syncParams)
	assert.True(t, ing.syncParams.Live)
	assert.Equal(t, changes, ing.syncChanges)
	assert.Nil(t, ing.ingestParams)
	assert.Empty(t, ing.activatedRef)
	assert.Equal(t, []string{"rh-0"}, q.deleted)
}

func TestRunDiffFailureFallsBackToFullIngest(t *testing.T) {
	job := fullJob()
	job.FromRev = "aaa111"

	co := &stubCheckout{dir: "/tmp/co", head: "bbb222", diffErr: fmt.Errorf("missing history")}
	ing := &stubIngester{result: &ingest.Result{ProcessedFiles: 3}}

	runOnce(t, []queue.Job{job}, &stubCloner{checkout: co}, ing)

	assert.Nil(t, ing.syncParams)
	require.NotNil(t, ing.ingestParams)
	assert.Equal(t, "bbb222", ing.activatedRef)
}

func TestRunUncleanIngestIsNotActivatedOrDeleted(t *testing.T) {
	co := &stubCheckout{dir: "/tmp/co", head: "bbb222"}
	ing := &stubIngester{result: &ingest.Result{ProcessedFiles: 2, FailedFiles: 1}}

	q := runOnce(t, []queue.Job{fullJob()}, &stubCloner{checkout: co}, ing)

	assert.Empty(t, ing.activatedRef)
	assert.Empty(t, q.deleted)
}

func TestRunCloneFailureLeavesMessage(t *testing.T) {
	cloner := &stubCloner{err: fmt.Errorf("auth denied")}
	ing := &stubIngester{}

	q := runOnce(t, []queue.Job{fullJob()}, cloner, ing)

	assert.Nil(t, ing.ingestParams)
	assert.Empty(t, q.deleted)
}

func TestRunDropsMalformedJob(t *testing.T) {
	job := fullJob()
	job.CloneURL = ""
	cloner := &stubCloner{checkout: &stubCheckout{}}
	ing := &stubIngester{}

	q := runOnce(t, []queue.Job{job}, cloner, ing)

	assert.Empty(t, cloner.url)
	assert.Nil(t, ing.ingestParams)
	assert.Equal(t, []string{"rh-0"}, q.deleted)
}

func TestCloneRef(t *testing.T) {
	assert.Equal(t, "bbb222", cloneRef(queue.Job{CommitSHA: "bbb222", Ref: "refs/heads/main"}))
	assert.Equal(t, "main", cloneRef(queue.Job{Ref: "refs/heads/main"}))
	assert.Equal(t, "HEAD", cloneRef(queue.Job{}))
}
