package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/castdrop/internal/storage"
)

func TestParseRange(t *testing.T) {
	const size = 1000

	tests := []struct {
		name   string
		header string
		want   *storage.ByteRange
	}{
		{"no header", "", nil},
		{"closed range", "bytes=0-99", &storage.ByteRange{Start: 0, End: 99}},
		{"open range", "bytes=500-", &storage.ByteRange{Start: 500, End: 999}},
		{"end clamped", "bytes=900-5000", &storage.ByteRange{Start: 900, End: 999}},
		{"single byte", "bytes=999-999", &storage.ByteRange{Start: 999, End: 999}},
		{"suffix", "bytes=-100", &storage.ByteRange{Start: 900, End: 999}},
		{"suffix larger than object", "bytes=-5000", &storage.ByteRange{Start: 0, End: 999}},
		{"surrounding spaces", " bytes=1-2 ", &storage.ByteRange{Start: 1, End: 2}},
		{"wrong unit", "items=0-10", nil},
		{"garbage", "bytes=abc", nil},
		{"end before start", "bytes=10-5", nil},
		{"empty suffix", "bytes=-0", nil},
		{"multi range", "bytes=0-1,5-6", nil},
		{"signed start", "bytes=+1-5", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, size)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRange_Unsatisfiable(t *testing.T) {
	for _, header := range []string{"bytes=1000-", "bytes=2000-3000"} {
		_, err := ParseRange(header, 1000)
		assert.ErrorIs(t, err, ErrRangeNotSatisfiable, header)

		var rerr *RangeError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, int64(1000), rerr.Size)
	}
}
