package types

import (
	"time"
)

// Completion is the normalized output of any provider adapter
type Completion struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model,omitempty"`
}

// Attempt records one provider/model try made by the Router
type Attempt struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RouterResponse is exchanged between Router and Orchestrator. It is either a
// full success with text or a contingency answer, never partially filled.
type RouterResponse struct {
	Success     bool      `json:"success"`
	Text        string    `json:"text"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	TokensUsed  int       `json:"tokens_used"`
	Cached      bool      `json:"cached"`
	Contingency bool      `json:"contingency"`
	Attempts    []Attempt `json:"attempts,omitempty"`
}

// AdviseMeta describes how an advisory answer was produced
type AdviseMeta struct {
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	Intent     string `json:"intent"`
	Cached     bool   `json:"cached"`
	SearchUsed bool   `json:"searchUsed"`
	DataStatus string `json:"dataStatus,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

// AdviseResponse is the outbound advisory result
type AdviseResponse struct {
	Success bool       `json:"success"`
	Answer  string     `json:"answer"`
	Meta    AdviseMeta `json:"meta"`
}

// Error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
