package modpackhttp

// MessageResponse is the body of the root status endpoint.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx JSON response. Messages are
// fixed strings; paths and names never appear here.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	msgRunning         = "modpack server is running"
	msgInvalidCategory = "invalid directory"
	msgNotFound        = "file not found"
	msgManifestFailed  = "failed to build manifest"
	msgInternal        = "internal server error"
)

// download outcomes used as metric labels
const (
	outcomeOK              = "ok"
	outcomeNotFound        = "not_found"
	outcomeInvalidCategory = "invalid_category"
	outcomeError           = "error"
)
