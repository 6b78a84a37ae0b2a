package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type TransferStatus int

const (
	PENDING TransferStatus = iota
	TRANSFERRING
	COMPLETED
	SKIPPED
	FAILED
)

type TransferDirection int

const (
	SENDING TransferDirection = iota
	RECEIVING
)

func (d TransferDirection) String() string {
	if d == SENDING {
		return "sending"
	}
	return "receiving"
}

type FileTransfer struct {
	File             FileRecord
	Direction        TransferDirection
	Status           TransferStatus
	BytesTransferred uint64
	StartTime        time.Time
	LastUpdateTime   time.Time
	Error            error
	speed            float64
	Progress         float64
}

// Tracker keeps per-file progress for one session. Files move through it one
// at a time, but the cancel path may read it concurrently.
type Tracker struct {
	mu              sync.Mutex
	activeTransfers map[string]*FileTransfer
	log             *logrus.Entry
	now             func() time.Time
}

func NewTracker(log *logrus.Entry) *Tracker {
	return &Tracker{
		activeTransfers: make(map[string]*FileTransfer),
		log:             log,
		now:             time.Now,
	}
}

func (tr *Tracker) CreateTransfer(info FileRecord, direction TransferDirection) string {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	transferKey := fmt.Sprintf("%s:%s", direction, info.Name)
	now := tr.now()
	tr.activeTransfers[transferKey] = &FileTransfer{
		File:           info,
		Direction:      direction,
		Status:         PENDING,
		StartTime:      now,
		LastUpdateTime: now,
	}
	return transferKey
}

// UpdateTransferProgress records the running byte count and returns the
// percentage done, which is what the UI's progress bar shows.
func (tr *Tracker) UpdateTransferProgress(transferID string, bytesTransferred uint64) (int, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	transfer, exists := tr.activeTransfers[transferID]
	if !exists {
		return 0, fmt.Errorf("transfer not found %s", transferID)
	}

	now := tr.now()
	if timediff := now.Sub(transfer.LastUpdateTime).Seconds(); timediff > 0 {
		transfer.speed = float64(bytesTransferred-transfer.BytesTransferred) / timediff
	}
	transfer.LastUpdateTime = now
	transfer.BytesTransferred = bytesTransferred
	transfer.Progress = percent(bytesTransferred, transfer.File.Size)
	transfer.Status = TRANSFERRING
	tr.log.WithFields(logrus.Fields{
		"file":     transfer.File.Name,
		"progress": fmt.Sprintf("%.2f%%", transfer.Progress),
	}).Debug("transfer progress")
	return int(transfer.Progress), nil
}

func (tr *Tracker) CompleteTransfer(transferID string) error {
	return tr.finish(transferID, COMPLETED, nil)
}

func (tr *Tracker) SkipTransfer(transferID string) error {
	return tr.finish(transferID, SKIPPED, nil)
}

func (tr *Tracker) FailTransfer(transferID string, err error) error {
	return tr.finish(transferID, FAILED, err)
}

func (tr *Tracker) finish(transferID string, status TransferStatus, cause error) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	transfer, exists := tr.activeTransfers[transferID]
	if !exists {
		return fmt.Errorf("transfer not found %s", transferID)
	}
	transfer.LastUpdateTime = tr.now()
	transfer.Status = status
	transfer.Error = cause
	if status == COMPLETED {
		transfer.Progress = 100
	}
	tr.log.WithFields(logrus.Fields{
		"file":      transfer.File.Name,
		"direction": transfer.Direction.String(),
		"status":    int(status),
	}).Debug("transfer finished")
	return nil
}

// Stats returns the elapsed time and average throughput in megabits per
// second for a finished transfer.
func (tr *Tracker) Stats(transferID string) (elapsed time.Duration, mbps float64, err error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	transfer, exists := tr.activeTransfers[transferID]
	if !exists {
		return 0, 0, fmt.Errorf("transfer not found %s", transferID)
	}
	elapsed = transfer.LastUpdateTime.Sub(transfer.StartTime)
	if secs := elapsed.Seconds(); secs > 0 {
		mbps = 8 * (float64(transfer.File.Size) / 1_000_000) / secs
	}
	return elapsed, mbps, nil
}

// Get returns a copy of a transfer's state.
func (tr *Tracker) Get(transferID string) (FileTransfer, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	transfer, exists := tr.activeTransfers[transferID]
	if !exists {
		return FileTransfer{}, false
	}
	return *transfer, true
}

func percent(done, total uint64) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}
