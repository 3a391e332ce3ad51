package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that a crawl, page, or queue does not exist.
	ErrNotFound = errors.New("not found")
	// ErrLeaseNotFound reports an acknowledge on an unknown or expired lease.
	ErrLeaseNotFound = errors.New("lease not found")
	// ErrConditionFailed is returned by conditional store writes whose predicate did not hold.
	ErrConditionFailed = errors.New("condition failed")
	// ErrQueueNotFound is returned by queue services for unknown queue names or URLs.
	ErrQueueNotFound = fmt.Errorf("queue %w", ErrNotFound)
	// ErrReceiptNotFound is returned by queue services for stale delivery handles.
	ErrReceiptNotFound = errors.New("receipt handle not found")
	// ErrInvalidArgument reports caller input that fails validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ProvisioningError reports that a crawl's queues could not be created.
type ProvisioningError struct {
	CrawlID string
	Step    string
	Err     error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision queues for crawl %s: %s: %v", e.CrawlID, e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// TransientIOError wraps an unexpected failure from an external capability.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientIOError unless it is nil or already a
// not-found condition.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &TransientIOError{Op: op, Err: err}
}

// PurgeError reports queues that could not be purged during a hard stop.
type PurgeError struct {
	CrawlID string
	Err     error
}

func (e *PurgeError) Error() string {
	return fmt.Sprintf("purge queues for crawl %s: %v", e.CrawlID, e.Err)
}

func (e *PurgeError) Unwrap() error { return e.Err }
