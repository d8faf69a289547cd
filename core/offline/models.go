package offline

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound             = errors.New("queue item not found")
	ErrUnknownStore         = errors.New("unknown store")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrLockLost             = errors.New("sync lock lost")
	// ErrRejected is matched by submission errors where the remote side refused the item itself.
	ErrRejected = errors.New("rejected by remote")

	msgOffline        = "cannot sync while offline"
	msgLockNotAcquire = "sync skipped: lock held by another process"
	msgInProgress     = "sync already in progress"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (op Operation) IsValid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type (
	// QueueItem is one pending local mutation awaiting remote submission.
	QueueItem struct {
		ID            string          `json:"id"`
		StoreName     string          `json:"store_name"`
		Operation     Operation       `json:"operation"`
		EntityID      string          `json:"entity_id,omitempty"`
		Data          json.RawMessage `json:"data"`
		Attempts      int             `json:"attempts"`
		LastError     string          `json:"last_error,omitempty"`
		LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
		CreatedAt     time.Time       `json:"created_at"`
	}

	// Attempt records one failed submission of a QueueItem.
	Attempt struct {
		Attempts    int
		Error       string
		AttemptedAt time.Time
	}

	// SyncError is one error recorded during a run.
	// Store-level errors (queue reads) have no ItemID.
	SyncError struct {
		StoreName string    `json:"store_name,omitempty"`
		ItemID    string    `json:"item_id,omitempty"`
		Operation Operation `json:"operation,omitempty"`
		Message   string    `json:"message"`
	}

	// SyncResult is the aggregate report of one coordinator run.
	SyncResult struct {
		Status       Status      `json:"status"`
		SyncedCount  int         `json:"synced_count"`
		FailedCount  int         `json:"failed_count"`
		SkippedCount int         `json:"skipped_count"`
		Errors       []SyncError `json:"errors"`
		StartedAt    time.Time   `json:"started_at"`
		FinishedAt   time.Time   `json:"finished_at"`
	}

	// Run is a finished drain, as handed to the RunObservers.
	Run struct {
		ID       string     `json:"id"`
		LockName string     `json:"lock_name"`
		Forced   bool       `json:"forced"`
		Result   SyncResult `json:"result"`
		// Exhausted holds the items that failed in this run and just reached the alert threshold or the retry cap.
		Exhausted []QueueItem `json:"-"`
	}

	// Snapshot is the last status broadcast by a Coordinator.
	Snapshot struct {
		Status     Status      `json:"status"`
		Progress   int         `json:"progress"`
		Online     bool        `json:"online"`
		LastResult *SyncResult `json:"last_result,omitempty"`
	}
)

func newResult(status Status, msgs ...string) SyncResult {
	res := SyncResult{Status: status, Errors: make([]SyncError, 0, len(msgs))}
	for _, msg := range msgs {
		res.Errors = append(res.Errors, SyncError{Message: msg})
	}
	return res
}

func (res *SyncResult) addError(item QueueItem, err error) {
	res.Errors = append(res.Errors, SyncError{
		StoreName: item.StoreName,
		ItemID:    item.ID,
		Operation: item.Operation,
		Message:   err.Error(),
	})
}

func (res *SyncResult) addStoreError(storeName string, err error) {
	res.Errors = append(res.Errors, SyncError{StoreName: storeName, Message: err.Error()})
}

// HasStoreErrors reports whether a queue read failed during the run.
func (res SyncResult) HasStoreErrors() bool {
	for _, e := range res.Errors {
		if e.ItemID == "" && e.StoreName != "" {
			return true
		}
	}
	return false
}

func (res SyncResult) Duration() time.Duration {
	if res.StartedAt.IsZero() || res.FinishedAt.IsZero() {
		return 0
	}
	return res.FinishedAt.Sub(res.StartedAt)
}
