package api

import (
	"errors"
	"fmt"
)

// Error codes documented by the Torn API.
const (
	CodeUnknown            = 0
	CodeKeyEmpty           = 1
	CodeIncorrectKey       = 2
	CodeWrongType          = 3
	CodeWrongFields        = 4
	CodeTooManyRequests    = 5
	CodeIncorrectID        = 6
	CodePrivateData        = 7
	CodeIPBlock            = 8
	CodeAPIDisabled        = 9
	CodeFederalJail        = 10
	CodeKeyChange          = 11
	CodeKeyRead            = 12
	CodeKeyInactive        = 13
	CodeDailyLimit         = 14
	CodeTemporary          = 15
	CodeAccessLevel        = 16
	CodeBackend            = 17
	CodeKeyPaused          = 18
	CodeMigrateCrimes      = 19
	CodeRaceNotFinished    = 20
	CodeIncorrectCategory  = 21
	CodeV1Only             = 22
	CodeV2Only             = 23
	CodeClosedTemporarily  = 24
)

var errorMessages = map[int]string{
	CodeUnknown:           "unknown error",
	CodeKeyEmpty:          "key is empty",
	CodeIncorrectKey:      "incorrect key",
	CodeWrongType:         "wrong type",
	CodeWrongFields:       "wrong fields",
	CodeTooManyRequests:   "too many requests (max 100 per minute)",
	CodeIncorrectID:       "incorrect ID",
	CodePrivateData:       "incorrect ID-entity relation (private data)",
	CodeIPBlock:           "IP block (temporary ban due to abuse)",
	CodeAPIDisabled:       "API disabled",
	CodeFederalJail:       "key owner is in federal jail",
	CodeKeyChange:         "key change error (once per 60 seconds)",
	CodeKeyRead:           "key read error",
	CodeKeyInactive:       "key temporarily disabled due to owner inactivity",
	CodeDailyLimit:        "daily read limit reached",
	CodeTemporary:         "temporary error",
	CodeAccessLevel:       "access level of this key is not high enough",
	CodeBackend:           "backend error occurred, please try again",
	CodeKeyPaused:         "API key has been paused by the owner",
	CodeMigrateCrimes:     "must be migrated to crimes 2.0",
	CodeRaceNotFinished:   "race not yet finished",
	CodeIncorrectCategory: "incorrect category",
	CodeV1Only:            "selection only available in API v1",
	CodeV2Only:            "selection only available in API v2",
	CodeClosedTemporarily: "closed temporarily",
}

// UpstreamError is a typed failure from the remote API, carrying the
// numeric code from its JSON error envelope. HTTP-level failures use
// code -1 with the status in the message.
type UpstreamError struct {
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("torn api error %d: %s", e.Code, e.Message)
}

func newUpstreamError(code int) *UpstreamError {
	msg, ok := errorMessages[code]
	if !ok {
		msg = fmt.Sprintf("unknown error code %d", code)
	}
	return &UpstreamError{Code: code, Message: msg}
}

// ErrRateLimited is returned by the local pre-flight guard when the
// sliding window for a credential is full. No network call was made.
var ErrRateLimited = errors.New("local rate limit window full")

func upstreamCode(err error) (int, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Code, true
	}
	return 0, false
}

// IsPermission reports a failure a different credential might resolve.
func IsPermission(err error) bool {
	code, ok := upstreamCode(err)
	return ok && (code == CodePrivateData || code == CodeAccessLevel || code == CodeIncorrectKey)
}

// IsRateLimited reports a remote rate-limit signal or the local guard.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	code, ok := upstreamCode(err)
	return ok && code == CodeTooManyRequests
}

// IsTransient reports a backend condition worth retrying later.
func IsTransient(err error) bool {
	code, ok := upstreamCode(err)
	return ok && (code == CodeTemporary || code == CodeBackend || code == CodeClosedTemporarily)
}
