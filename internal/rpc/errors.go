package rpc

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/0xNedAlbo/duncan-scanner/internal/common"
)

// fatalError wraps an error that must not be retried even though the
// underlying message would otherwise classify as retriable.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

var tooManyResultsRe = regexp.MustCompile(`more than \d+ results`)

// IsRangeLimitError checks if the error signals that the queried block range
// was too wide or the result set too large. These are retriable by shrinking
// the span, not by waiting.
func IsRangeLimitError(err error) bool {
	if err == nil {
		return false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		errData := fmt.Sprintf("%v", dataErr.ErrorData())
		if tooManyResultsRe.MatchString(errData) {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "query returned more than") ||
		strings.Contains(errStr, "block range is too wide") ||
		strings.Contains(errStr, "exceed maximum block range") ||
		strings.Contains(errStr, "log response size exceeded") ||
		strings.Contains(errStr, "query timeout exceeded")
}

// ParseSuggestedBlockRange attempts to extract the suggested block range from
// a range-limit error message.
// Expected format: "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc]."
func ParseSuggestedBlockRange(err string) (fromBlock, toBlock uint64, ok bool) {
	if err == "" {
		return 0, 0, false
	}

	re := regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
	matches := re.FindStringSubmatch(err)

	const expectedMatches = 3 // full match + 2 groups
	if len(matches) != expectedMatches {
		return 0, 0, false
	}

	from, err1 := common.ParseUint64orHex(&matches[1])
	to, err2 := common.ParseUint64orHex(&matches[2])

	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return from, to, true
}

// IsFatalError reports whether an error is neither retriable nor a
// range-limit signal. Callers should surface such errors immediately
// instead of adapting their query and trying again.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}
	return !retryableError(err) && !IsRangeLimitError(err)
}

// IsTagUnsupportedError checks whether the error indicates the backend does
// not answer the "safe"/"finalized" block tags.
func IsTagUnsupportedError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "unknown block") ||
		strings.Contains(errStr, "safe block not found") ||
		strings.Contains(errStr, "finalized block not found") ||
		strings.Contains(errStr, "is not available") ||
		strings.Contains(errStr, "not supported")
}
