// Package protocol defines the API request/response types.
package protocol

import "encoding/json"

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
}

// Statistics are the difficulty parameters in a DetailsResponse.
type Statistics struct {
	StarRating float64 `json:"star_rating"`
	PP         float64 `json:"pp"`
	BPM        float64 `json:"bpm"`
	AR         float32 `json:"ar"`
	OD         float32 `json:"od"`
	HP         float32 `json:"hp"`
	CS         float32 `json:"cs"`
}

// DetailsResponse is returned by GET /api/beatmaps/{id}/details
type DetailsResponse struct {
	Title      string     `json:"title"`
	Artist     string     `json:"artist"`
	Creator    string     `json:"creator"`
	Version    string     `json:"version"`
	SetID      uint32     `json:"set_id"`
	Statistics Statistics `json:"statistics"`
}

// AnalysisResult is one element of GET /api/beatmaps/{id}/analyze/{mode}.
// Analysis holds a stream or jump payload depending on AnalysisType.
type AnalysisResult struct {
	AnalysisType string          `json:"analysis_type"`
	Analysis     json.RawMessage `json:"analysis"`
}
