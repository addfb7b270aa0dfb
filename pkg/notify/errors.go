package notify

import (
	"fmt"
	"strings"
)

// PathNotAllowedError reports a local file reference outside the
// allow-listed directories.
type PathNotAllowedError struct {
	Path string
}

func (e *PathNotAllowedError) Error() string {
	return fmt.Sprintf("path is not allowed: %s", e.Path)
}

// URLNotAllowedError reports a remote file reference outside the
// allow-listed URL prefixes.
type URLNotAllowedError struct {
	URL string
}

func (e *URLNotAllowedError) Error() string {
	return fmt.Sprintf("url is not allowed: %s", e.URL)
}

// AggregateError reports every target a send could not reach. Targets
// that succeeded before or after a failure are unaffected.
type AggregateError struct {
	Failed []string
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("failed to send to channels: %s", strings.Join(e.Failed, ", "))
}

func aggregate(failed []string) error {
	if len(failed) == 0 {
		return nil
	}
	return &AggregateError{Failed: failed}
}
