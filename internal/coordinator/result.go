package coordinator

import (
	"fmt"

	"github.com/dreamware/segstart/internal/cluster"
	"github.com/dreamware/segstart/internal/protocol"
)

// FailedSegmentResult records why one segment did not start.
type FailedSegmentResult struct {
	Reason     string
	Segment    cluster.Segment
	ReasonCode protocol.ReasonCode
}

// StartSegmentsResult accumulates the outcome of one Dispatch call. It is
// only mutated from the dispatching goroutine.
type StartSegmentsResult struct {
	succeeded []cluster.Segment
	failed    []FailedSegmentResult
}

func NewStartSegmentsResult() *StartSegmentsResult {
	return &StartSegmentsResult{}
}

// AddSuccess appends seg to the started list. No de-duplication is done.
func (r *StartSegmentsResult) AddSuccess(seg cluster.Segment) {
	r.succeeded = append(r.succeeded, seg)
}

// AddFailure appends a failure record. No de-duplication is done.
func (r *StartSegmentsResult) AddFailure(seg cluster.Segment, reason string, code protocol.ReasonCode) {
	r.failed = append(r.failed, FailedSegmentResult{Segment: seg, Reason: reason, ReasonCode: code})
}

// Succeeded returns a copy of the started segments in the order recorded.
func (r *StartSegmentsResult) Succeeded() []cluster.Segment {
	return append([]cluster.Segment(nil), r.succeeded...)
}

// Failed returns a copy of the failure records in the order recorded.
func (r *StartSegmentsResult) Failed() []FailedSegmentResult {
	return append([]FailedSegmentResult(nil), r.failed...)
}

func (r *StartSegmentsResult) NumSucceeded() int { return len(r.succeeded) }

func (r *StartSegmentsResult) NumFailed() int { return len(r.failed) }

// verify checks that every requested segment was recorded exactly once.
func (r *StartSegmentsResult) verify(requested []cluster.Segment) error {
	mismatch := func(detail string) error {
		return &InvariantError{
			Detail:    detail,
			Requested: len(requested),
			Succeeded: len(r.succeeded),
			Failed:    len(r.failed),
		}
	}
	if len(r.succeeded)+len(r.failed) != len(requested) {
		return mismatch("outcome count differs from request count")
	}

	seen := make(map[int]int, len(requested))
	for _, s := range r.succeeded {
		seen[s.DbID]++
	}
	for _, f := range r.failed {
		seen[f.Segment.DbID]++
	}
	for _, s := range requested {
		if n := seen[s.DbID]; n != 1 {
			return mismatch(fmt.Sprintf("dbid %d recorded %d times", s.DbID, n))
		}
	}
	return nil
}
