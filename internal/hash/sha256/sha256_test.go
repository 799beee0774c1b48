package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashKnownVector(t *testing.T) {
	h := New()
	got, err := h.Hash([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)
}

func TestHashEmptyInput(t *testing.T) {
	h := New()
	got, err := h.Hash(nil)
	require.NoError(t, err)
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", got)
}
