// Package server provides the HTTP server for castdrop.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// InitUploadRequest is the HTTP request body for starting a chunked upload.
type InitUploadRequest struct {
	// Filename is the client-side file name, kept for logging.
	Filename string `json:"filename" validate:"omitempty,max=1024"`
	// ContentType is the declared media type.
	ContentType string `json:"contentType" validate:"omitempty,max=255"`
	// Size is the declared file size in bytes.
	Size int64 `json:"size" validate:"required,gt=0"`
}

// InitUploadResponse tells the client how to cut its file.
type InitUploadResponse struct {
	// ID is the upload identifier used in chunk and finalize paths.
	ID string `json:"id"`
	// TotalChunks is the number of chunks to send, indexed from zero.
	TotalChunks int `json:"totalChunks"`
	// ChunkSize is the size of every chunk but the last.
	ChunkSize int64 `json:"chunkSize"`
	// ContentType is the media type the video will be stored with when
	// chunks carry none.
	ContentType string `json:"contentType"`
}

// VideoResponse is returned once a video is stored.
type VideoResponse struct {
	// ID is the video identifier.
	ID string `json:"id"`
	// URL is where the video can be streamed from.
	URL string `json:"url"`
}

// OKResponse acknowledges a request without further data.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
