package ingestion

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	PageStatusPending = "pending"
	PageStatusDirect  = "direct"
	PageStatusVision  = "vision"
	PageStatusSkipped = "skipped"
	PageStatusFailed  = "failed"
)

const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobSnapshot is the externally visible state of one ingestion run.
type JobSnapshot struct {
	JobID             string         `json:"job_id"`
	DocumentID        string         `json:"document_id"`
	Status            string         `json:"status"`
	TotalPages        int            `json:"total_pages"`
	SuccessfulPages   int            `json:"successful_pages"`
	FailedPages       int            `json:"failed_pages"`
	DirectPages       int            `json:"direct_pages"`
	VisionPages       int            `json:"vision_pages"`
	SkippedPages      int            `json:"skipped_pages"`
	APISavingsPercent float64        `json:"api_savings_percent"`
	PageStatus        map[int]string `json:"page_status"`
	Error             string         `json:"error,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        *time.Time     `json:"finished_at,omitempty"`
}

type job struct {
	mu   sync.Mutex
	snap JobSnapshot
}

func (j *job) setPage(page int, status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev := j.snap.PageStatus[page]
	j.snap.PageStatus[page] = status

	if prev == status {
		return
	}
	switch status {
	case PageStatusDirect:
		j.snap.DirectPages++
		j.snap.SuccessfulPages++
	case PageStatusVision:
		j.snap.VisionPages++
		j.snap.SuccessfulPages++
	case PageStatusSkipped:
		j.snap.SkippedPages++
		j.snap.SuccessfulPages++
	case PageStatusFailed:
		j.snap.FailedPages++
	}
	j.recalcSavings()
}

func (j *job) recalcSavings() {
	if j.snap.TotalPages > 0 {
		j.snap.APISavingsPercent = float64(j.snap.DirectPages) / float64(j.snap.TotalPages) * 100
	}
}

func (j *job) finish(errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.snap.FinishedAt = &now
	if errMsg != "" {
		j.snap.Status = JobStatusFailed
		j.snap.Error = errMsg
		return
	}
	j.snap.Status = JobStatusCompleted
}

func (j *job) snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.snap
	out.PageStatus = make(map[int]string, len(j.snap.PageStatus))
	for k, v := range j.snap.PageStatus {
		out.PageStatus[k] = v
	}
	return out
}

// JobStore tracks ingestion runs in memory. Jobs are transient; a restart
// loses history but never chunk data.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*job)}
}

func (s *JobStore) create(documentID string, totalPages int) *job {
	j := &job{snap: JobSnapshot{
		JobID:      uuid.NewString(),
		DocumentID: documentID,
		Status:     JobStatusRunning,
		TotalPages: totalPages,
		PageStatus: make(map[int]string, totalPages),
		StartedAt:  time.Now(),
	}}
	for p := 1; p <= totalPages; p++ {
		j.snap.PageStatus[p] = PageStatusPending
	}

	s.mu.Lock()
	s.jobs[j.snap.JobID] = j
	s.mu.Unlock()
	return j
}

func (s *JobStore) Get(jobID string) (JobSnapshot, bool) {
	s.mu.RLock()
	j, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return JobSnapshot{}, false
	}
	return j.snapshot(), true
}
