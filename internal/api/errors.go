package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized is returned when the backend rejects the credential (401).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned for a valid credential that may not act on the
	// resource (403). It comes wrapped in a *RemoteError.
	ErrForbidden = errors.New("forbidden")
)

const maxBodyExcerpt = 512

// RemoteError is any failure talking to the backend other than a credential
// rejection: transport errors, timeouts and non-2xx statuses.
type RemoteError struct {
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("remote request failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("remote request failed with status %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("remote request failed with status %d", e.StatusCode)
	}
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Detail extracts a human readable message from a DRF style error body:
// either {"detail": "..."} or {"field": ["msg", ...], ...}.
func (e *RemoteError) Detail() string {
	if e.Body == "" {
		return ""
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(e.Body), &generic); err != nil {
		return strings.TrimSpace(e.Body)
	}

	if raw, ok := generic["detail"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}

	keys := make([]string, 0, len(generic))
	for k := range generic {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		var msgs []string
		if json.Unmarshal(generic[k], &msgs) == nil && len(msgs) > 0 {
			parts = append(parts, k+": "+strings.Join(msgs, " "))
			continue
		}
		var s string
		if json.Unmarshal(generic[k], &s) == nil && s != "" {
			parts = append(parts, k+": "+s)
		}
	}
	return strings.Join(parts, "; ")
}

// IsRemote reports whether err is a RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxBodyExcerpt {
		s = s[:maxBodyExcerpt]
	}
	return s
}
