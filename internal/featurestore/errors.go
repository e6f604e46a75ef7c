package featurestore

import "fmt"

// ServiceError is the error object the feature service embeds in JSON bodies,
// usually alongside an HTTP 200.
type ServiceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *ServiceError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}

// AuthError is returned when no credential could be issued.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "issue token: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// UploadError is returned when the artifact could not be staged. Message holds
// the service's rejection text; Err holds a transport or local cause.
type UploadError struct {
	Message string
	Err     error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return "upload artifact: " + e.Err.Error()
	}
	return "upload artifact: " + e.Message
}

func (e *UploadError) Unwrap() error { return e.Err }

// MergeError is returned when the append job was not accepted. Transport tells a
// network failure apart from a service-side rejection.
type MergeError struct {
	Transport bool
	Err       error
}

func (e *MergeError) Error() string {
	if e.Transport {
		return "append upload: transport: " + e.Err.Error()
	}
	return "append upload: " + e.Err.Error()
}

func (e *MergeError) Unwrap() error { return e.Err }

// PruneError is returned when the delete request did not report any deletions.
// Body is the raw response kept for diagnostics.
type PruneError struct {
	Where string
	Body  string
	Err   error
}

func (e *PruneError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("delete features where %q: %v", e.Where, e.Err)
	}
	return fmt.Sprintf("delete features where %q: no delete results: %s", e.Where, e.Body)
}

func (e *PruneError) Unwrap() error { return e.Err }
