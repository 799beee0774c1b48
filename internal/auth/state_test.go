package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := NewManager("test-signing-key", time.Hour)
	require.NoError(t, err)

	cs := ConnectState{TenantID: uuid.New(), LocationID: uuid.New()}
	token, err := m.IssueState(cs, time.Now())
	require.NoError(t, err)

	got, err := m.VerifyState(token)
	require.NoError(t, err)
	assert.Equal(t, cs, got)
}

func TestVerifyStateRejectsExpired(t *testing.T) {
	t.Parallel()

	m, err := NewManager("test-signing-key", time.Hour)
	require.NoError(t, err)

	token, err := m.IssueState(ConnectState{TenantID: uuid.New(), LocationID: uuid.New()}, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = m.VerifyState(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestVerifyStateRejectsWrongKey(t *testing.T) {
	t.Parallel()

	issuer, err := NewManager("key-one", time.Hour)
	require.NoError(t, err)
	verifier, err := NewManager("key-two", time.Hour)
	require.NoError(t, err)

	token, err := issuer.IssueState(ConnectState{TenantID: uuid.New(), LocationID: uuid.New()}, time.Now())
	require.NoError(t, err)

	_, err = verifier.VerifyState(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestVerifyStateRejectsGarbage(t *testing.T) {
	t.Parallel()

	m, err := NewManager("test-signing-key", time.Hour)
	require.NoError(t, err)

	_, err = m.VerifyState("")
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = m.VerifyState("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidSession)
}
