package restore

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/restore_backend/utils"
)

// QueueStatus is what a polling client sees for its request.
type QueueStatus struct {
	Request       ClientRequest
	Position      int
	TotalQueue    int
	EstimatedTime int
}

// Summary describes the queue as a whole.
type Summary struct {
	Pending          int     `json:"pending"`
	Processing       bool    `json:"processing"`
	TrackedRequests  int     `json:"tracked_requests"`
	AverageSeconds   float64 `json:"average_seconds"`
	EstimatorSamples int     `json:"estimator_samples"`
	CredentialReady  bool    `json:"credential_ready"`
}

// Manager is the entry point used by the HTTP layer: it creates requests,
// enqueues them and answers status queries.
type Manager struct {
	store *RequestStore
	queue *FIFOQueue
	est   *Estimator
	creds *CredentialHolder
}

func NewManager(store *RequestStore, queue *FIFOQueue, est *Estimator, creds *CredentialHolder) *Manager {
	return &Manager{store: store, queue: queue, est: est, creds: creds}
}

// Ready reports whether submissions can be accepted.
func (m *Manager) Ready() bool {
	return m.creds == nil || m.creds.Ready()
}

func (m *Manager) Submit(username, ip string) (QueueStatus, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return QueueStatus{}, fmt.Errorf("%w: username is required", utils.ErrValidation)
	}
	req := m.store.Create(username, ip)
	pos, total, err := m.queue.Push(req.ID)
	if err != nil {
		return QueueStatus{}, err
	}
	return QueueStatus{
		Request:       req,
		Position:      pos,
		TotalQueue:    total,
		EstimatedTime: m.est.Estimate(pos),
	}, nil
}

// Status reads the record and then the queue. A queued record that is no
// longer pending has been popped and is waiting for MarkProcessing, so it is
// reported as processing.
func (m *Manager) Status(id string) (QueueStatus, error) {
	req, err := m.store.Get(id)
	if err != nil {
		return QueueStatus{}, err
	}
	pos, total := m.queue.Locate(id)
	if req.Status == StatusQueued && pos == 0 {
		req.Status = StatusProcessing
	}
	return QueueStatus{
		Request:       req,
		Position:      pos,
		TotalQueue:    total,
		EstimatedTime: m.est.Estimate(pos),
	}, nil
}

func (m *Manager) Summary() Summary {
	return Summary{
		Pending:          m.queue.PendingCount(),
		Processing:       m.queue.Inflight() != "",
		TrackedRequests:  m.store.Len(),
		AverageSeconds:   m.est.AverageSeconds(),
		EstimatorSamples: m.est.Samples(),
		CredentialReady:  m.Ready(),
	}
}
