package syncer

import (
	"fmt"
	"net/http"
	"slices"
)

// Outcome is the result class of replaying one entry.
type Outcome int

const (
	// Success means the backend accepted the entry; it is removed.
	Success Outcome = iota
	// TerminalClientError means retrying can never succeed; the entry is removed
	// and the reason logged.
	TerminalClientError
	// RetryableFailure stops the run and leaves the entry queued.
	RetryableFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TerminalClientError:
		return "terminal_client_error"
	case RetryableFailure:
		return "retryable_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Removes reports whether the entry leaves the outbox.
func (o Outcome) Removes() bool {
	return o == Success || o == TerminalClientError
}

// Result pairs an outcome with a human-readable reason.
type Result struct {
	Outcome Outcome
	Status  int
	Reason  string
}

// DefaultRetryableStatuses are 4xx responses that indicate a transient
// condition rather than a bad entry.
var DefaultRetryableStatuses = []int{
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusRequestTimeout,
	http.StatusTooEarly,
	http.StatusTooManyRequests,
}

// Classifier maps replay results to outcomes.
type Classifier struct {
	retryable []int
}

// NewClassifier builds a classifier. A nil slice selects DefaultRetryableStatuses.
// 400 and 409 are always terminal and are ignored if listed.
func NewClassifier(retryable []int) Classifier {
	if retryable == nil {
		retryable = DefaultRetryableStatuses
	}
	out := make([]int, 0, len(retryable))
	for _, code := range retryable {
		if code == http.StatusBadRequest || code == http.StatusConflict {
			continue
		}
		out = append(out, code)
	}
	slices.Sort(out)
	return Classifier{retryable: slices.Compact(out)}
}

// Classify uses the default retryable statuses.
func Classify(status int, err error) Result {
	return NewClassifier(nil).Classify(status, err)
}

// Classify decides what happens to an entry after a replay attempt. err is the
// transport error, if any; status is ignored when err is non-nil.
func (c Classifier) Classify(status int, err error) Result {
	switch {
	case err != nil:
		return Result{Outcome: RetryableFailure, Reason: "network error: " + err.Error()}
	case status >= 200 && status < 300:
		return Result{Outcome: Success, Status: status, Reason: http.StatusText(status)}
	case status == http.StatusBadRequest || status == http.StatusConflict:
		return Result{Outcome: TerminalClientError, Status: status, Reason: statusReason(status)}
	case status >= 400 && status < 500:
		if _, found := slices.BinarySearch(c.retryable, status); found {
			return Result{Outcome: RetryableFailure, Status: status, Reason: statusReason(status)}
		}
		return Result{Outcome: TerminalClientError, Status: status, Reason: statusReason(status)}
	case status >= 500:
		return Result{Outcome: RetryableFailure, Status: status, Reason: "server error: " + statusReason(status)}
	default:
		return Result{Outcome: RetryableFailure, Status: status, Reason: "unexpected " + statusReason(status)}
	}
}

func statusReason(status int) string {
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("status %d %s", status, text)
	}
	return fmt.Sprintf("status %d", status)
}
