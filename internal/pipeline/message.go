package pipeline

import (
	"errors"
	"fmt"
	"net/url"
)

// UnsupportedMessage answers every feed type outside the configured list. The
// requested type is never echoed back.
const UnsupportedMessage = "Not querying: Waze data"

// StatusLink is the job status URL with the token appended, so the caller can
// open it directly.
func (r AppendResult) StatusLink() string {
	if r.StatusURL == "" {
		return ""
	}
	return r.StatusURL + "?token=" + url.QueryEscape(r.Token.AccessToken)
}

// Message renders the response body for the append endpoint. Failures collapse to a
// generic line; the cause is only logged.
func (r AppendResult) Message() string {
	switch {
	case errors.Is(r.Err, ErrUnsupportedFeed):
		return UnsupportedMessage
	case r.Err != nil:
		return "Append complete"
	}
	return fmt.Sprintf(`[%s] Append complete: <a href="%s" target="_blank">result</a>`, r.ItemID, r.StatusLink())
}

// Message renders the response body for the delete endpoint.
func (r DeleteResult) Message() string {
	if r.Err != nil {
		return "Delete complete"
	}
	return fmt.Sprintf("Delete complete: %d rows deleted.", r.Deleted)
}
