package video

import (
	"errors"
	"strconv"
	"strings"

	"github.com/maauso/castdrop/internal/storage"
)

// ErrRangeNotSatisfiable is returned when a range starts beyond the object.
var ErrRangeNotSatisfiable = errors.New("video: range not satisfiable")

// RangeError reports an unsatisfiable range together with the object size
// needed for the Content-Range: bytes */size response header.
type RangeError struct {
	Size int64
}

func (e *RangeError) Error() string {
	return ErrRangeNotSatisfiable.Error()
}

// Is lets errors.Is match ErrRangeNotSatisfiable.
func (e *RangeError) Is(target error) bool {
	return target == ErrRangeNotSatisfiable
}

// ParseRange interprets a Range header against an object of size bytes.
//
// It returns nil when the whole object should be served: no header, a
// malformed one, or a multi-range request. Open ranges ("500-") and ranges
// reaching past the end are clamped to the last byte. Suffix ranges ("-500")
// select the final bytes. A start at or beyond size yields a *RangeError.
func ParseRange(header string, size int64) (*storage.ByteRange, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, nil
	}
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, nil
	}

	if first == "" {
		n, err := parseOffset(last)
		if err != nil || n == 0 {
			return nil, nil
		}
		if size == 0 {
			return nil, &RangeError{Size: size}
		}
		return &storage.ByteRange{Start: max(size-n, 0), End: size - 1}, nil
	}

	start, err := parseOffset(first)
	if err != nil {
		return nil, nil
	}
	end := size - 1
	if last != "" {
		end, err = parseOffset(last)
		if err != nil || end < start {
			return nil, nil
		}
	}
	if start >= size {
		return nil, &RangeError{Size: size}
	}
	return &storage.ByteRange{Start: start, End: min(end, size-1)}, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(s, 10, 64)
}
