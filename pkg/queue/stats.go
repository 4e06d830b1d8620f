package queue

import (
	"encoding/json"
	"time"
)

// Stats holds the counters of one queue.
// Total, Completed and Failed only grow; the rest describe current contents.
// Failed counts failed attempts, so a message retried twice adds two.
type Stats struct {
	Total                 int64
	Pending               int64
	Processing            int64
	Completed             int64
	Failed                int64
	DeadLetter            int64
	AverageProcessingTime time.Duration
}

// ErrorRate returns failed / (completed + failed), or 0 before anything finished
func (s Stats) ErrorRate() float64 {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 0
	}
	return float64(s.Failed) / float64(finished)
}

// recordCompletion folds one processing time into the running average
func (s *Stats) recordCompletion(d time.Duration) {
	s.Completed++
	s.AverageProcessingTime = (s.AverageProcessingTime*time.Duration(s.Completed-1) + d) / time.Duration(s.Completed)
}

// MarshalJSON reports durations in seconds and includes the error rate
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Total                 int64   `json:"total_messages"`
		Pending               int64   `json:"pending_messages"`
		Processing            int64   `json:"processing_messages"`
		Completed             int64   `json:"completed_messages"`
		Failed                int64   `json:"failed_messages"`
		DeadLetter            int64   `json:"dead_letter_messages"`
		AverageProcessingTime float64 `json:"average_processing_time"`
		ErrorRate             float64 `json:"error_rate"`
	}{
		Total:                 s.Total,
		Pending:               s.Pending,
		Processing:            s.Processing,
		Completed:             s.Completed,
		Failed:                s.Failed,
		DeadLetter:            s.DeadLetter,
		AverageProcessingTime: s.AverageProcessingTime.Seconds(),
		ErrorRate:             s.ErrorRate(),
	})
}
