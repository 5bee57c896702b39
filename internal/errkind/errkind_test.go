package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTag_RoundTrip(t *testing.T) {
	base := errors.New("store unreachable")
	tagged := Tag(base, StoreTransient)

	kind, ok := KindOf(tagged)
	require.True(t, ok)
	assert.Equal(t, StoreTransient, kind)
	assert.Equal(t, base.Error(), tagged.Error())
}

func TestTag_Nil(t *testing.T) {
	assert.Nil(t, Tag(nil, Timeout))
}

func TestKindOf_Untagged(t *testing.T) {
	_, ok := KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestKindOf_SurvivesWrapping(t *testing.T) {
	tagged := Tag(errors.New("boom"), WorkerFailure)
	wrapped := fmt.Errorf("running worker: %w", tagged)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, WorkerFailure, kind)
}

func TestTag_UnwrapsToOriginal(t *testing.T) {
	base := errors.New("underlying")
	tagged := Tag(base, Invalid)
	assert.True(t, errors.Is(tagged, base))
}
