package auth

import (
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/stretchr/testify/require"
)

const testSecret = "unit_test_secret_key_for_relay"

func Test_Verify_Valid_Token(t *testing.T) {
	req := require.New(t)
	verifier := NewVerifier(testSecret)

	// Given a freshly signed token
	token, err := verifier.GenerateToken(domain.Identity("user-42"), "Ada", time.Minute)
	req.NoError(err)

	// When the credential is verified
	identity, displayName, err := verifier.Verify(token)

	// Then the trusted identity and display name are extracted
	req.NoError(err)
	req.Equal(domain.Identity("user-42"), identity)
	req.Equal("Ada", displayName)
}

func Test_Verify_Missing_Credential(t *testing.T) {
	req := require.New(t)
	verifier := NewVerifier(testSecret)

	_, _, err := verifier.Verify("")

	req.ErrorIs(err, errors.ErrMissingCredential)
}

func Test_Verify_Expired_Token(t *testing.T) {
	req := require.New(t)
	verifier := NewVerifier(testSecret)

	// Given a token that expired one minute ago
	token, err := verifier.GenerateToken(domain.Identity("user-42"), "Ada", -time.Minute)
	req.NoError(err)

	_, _, err = verifier.Verify(token)

	req.ErrorIs(err, errors.ErrInvalidCredential)
}

func Test_Verify_Wrong_Secret(t *testing.T) {
	req := require.New(t)

	// Given a token signed under another server's secret
	other := NewVerifier("a_completely_different_secret")
	token, err := other.GenerateToken(domain.Identity("user-42"), "Ada", time.Minute)
	req.NoError(err)

	_, _, err = NewVerifier(testSecret).Verify(token)

	req.ErrorIs(err, errors.ErrInvalidCredential)
}

func Test_Verify_Malformed_Token(t *testing.T) {
	req := require.New(t)
	verifier := NewVerifier(testSecret)

	_, _, err := verifier.Verify("not-a-jwt")

	req.ErrorIs(err, errors.ErrInvalidCredential)
}
