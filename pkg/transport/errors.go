package transport

import "fmt"

// ConnectivityError signals an unreachable server, a timeout, or an
// unexpected response on a metadata call.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("mattermost unreachable: %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// AuthError signals a rejected token.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mattermost authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// PostError signals a non-201 response from the post or file-upload
// endpoints.
type PostError struct {
	StatusCode int
	Body       string
}

func (e *PostError) Error() string {
	return fmt.Sprintf("mattermost post failed: status %d: %s", e.StatusCode, e.Body)
}
