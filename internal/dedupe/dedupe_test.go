package dedupe

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	stored  map[string]bool
	calls   [][]string
	failAt  int
	failErr error
}

func (f *fakeQuerier) ExistingLinks(_ context.Context, links []string) ([]string, error) {
	f.calls = append(f.calls, append([]string(nil), links...))
	if f.failErr != nil && len(f.calls)-1 == f.failAt {
		return nil, f.failErr
	}
	var out []string
	for _, l := range links {
		if f.stored[l] {
			out = append(out, l)
		}
	}
	return out, nil
}

func links(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://example.com/%d", i)
	}
	return out
}

func TestExisting_BatchesCeil(t *testing.T) {
	for _, tc := range []struct{ n, batch, want int }{
		{1, 100, 1}, {100, 100, 1}, {101, 100, 2}, {250, 100, 3}, {7, 3, 3},
	} {
		q := &fakeQuerier{}
		_, err := New(q, tc.batch).Existing(context.Background(), links(tc.n))
		require.NoError(t, err)
		assert.Len(t, q.calls, tc.want, "n=%d batch=%d", tc.n, tc.batch)
	}
}

func TestExisting_DefaultBatchSize(t *testing.T) {
	q := &fakeQuerier{}
	_, err := New(q, 0).Existing(context.Background(), links(61))
	require.NoError(t, err)
	require.Len(t, q.calls, 3)
	assert.Len(t, q.calls[0], 30)
	assert.Len(t, q.calls[2], 1)
}

func TestExisting_EmptyInputNoQuery(t *testing.T) {
	q := &fakeQuerier{}
	got, err := New(q, 10).Existing(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, q.calls)
}

func TestExisting_UnionAcrossBatches(t *testing.T) {
	all := links(5)
	q := &fakeQuerier{stored: map[string]bool{all[0]: true, all[4]: true}}
	got, err := New(q, 2).Existing(context.Background(), all)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{all[0]: true, all[4]: true}, got)
	assert.Equal(t, [][]string{all[0:2], all[2:4], all[4:5]}, q.calls)
}

func TestExisting_ExactMatchOnly(t *testing.T) {
	q := &fakeQuerier{stored: map[string]bool{"https://example.com/a": true}}
	got, err := New(q, 10).Existing(context.Background(), []string{"https://example.com/a/", "https://EXAMPLE.com/a"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExisting_ErrorPropagates(t *testing.T) {
	boom := errors.New("store unavailable")
	q := &fakeQuerier{failAt: 1, failErr: boom}
	got, err := New(q, 2).Existing(context.Background(), links(6))

	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, IsQueryError(err))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, q.calls, 2)

	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 1, qe.Batch)
}

func TestFresh(t *testing.T) {
	q := &fakeQuerier{stored: map[string]bool{"b": true}}
	got, err := New(q, 10).Fresh(context.Background(), []string{"a", "b", "c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, got)
}
