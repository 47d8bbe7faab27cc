package api

import "github.com/samcharles93/extractqa/internal/version"

// InferenceRequest is the body of POST /inference. Every example holds one
// context and any number of questions about it. Omitted options take the
// service defaults.
type InferenceRequest struct {
	Data       []Example `json:"data"`
	Impossible *bool     `json:"impossible,omitempty"`
	TopK       *int      `json:"top_k,omitempty"`
	MaxAnsLen  *int      `json:"max_ans_len,omitempty"`
}

type Example struct {
	Questions []string `json:"questions"`
	Context   string   `json:"context"`
}

// ErrorResponse is the body of every 4xx and 5xx answer.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Scorer string `json:"scorer,omitempty"`
}

type VersionResponse = version.Info
