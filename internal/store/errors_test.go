package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMapInsertError(t *testing.T) {
	sentinel := errors.New("connection reset")

	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "nil passes through", in: nil, want: nil},
		{name: "plain error passes through", in: sentinel, want: sentinel},
		{
			name: "unique violation maps to sentinel",
			in:   &pq.Error{Code: "23505", Constraint: "deals_canonical_url_key"},
			want: ErrUniqueViolation,
		},
		{
			name: "wrapped unique violation maps too",
			in:   fmt.Errorf("insert deal: %w", &pq.Error{Code: "23505"}),
			want: ErrUniqueViolation,
		},
		{
			name: "other pq codes pass through",
			in:   &pq.Error{Code: "23503"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapInsertError(tc.in)
			if tc.want != nil || tc.in == nil {
				assert.True(t, errors.Is(got, tc.want))
				return
			}
			assert.Equal(t, tc.in, got)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 500))
	assert.Equal(t, "", truncate("", 10))

	long := strings.Repeat("x", 600)
	got := truncate(long, maxErrorMessageLen)
	assert.Len(t, got, maxErrorMessageLen)
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	// Three bytes per rune; a byte-wise cut at 500 lands mid-rune.
	long := strings.Repeat("例", 200)
	got := truncate(long, maxErrorMessageLen)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 498, len(got))
}
