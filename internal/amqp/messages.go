package amqp

import (
	"encoding/json"
	"time"
)

// SummaryUpdatedMessage announces that a run wrote its monthly averages.
type SummaryUpdatedMessage struct {
	RunID     string    `json:"run_id"`
	SummaryID string    `json:"summary_id"`
	Backend   string    `json:"backend"`
	Months    []string  `json:"months"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSummaryUpdatedMessage stamps the message with the current time.
func NewSummaryUpdatedMessage(runID, summaryID, backend string, months []string) *SummaryUpdatedMessage {
	return &SummaryUpdatedMessage{
		RunID:     runID,
		SummaryID: summaryID,
		Backend:   backend,
		Months:    months,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SummaryUpdatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
