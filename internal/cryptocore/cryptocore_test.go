package cryptocore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeKeyWrapRoundTrip(t *testing.T) {
	aliceID, err := GenerateIdentity()
	require.NoError(t, err)
	bobID, err := GenerateIdentity()
	require.NoError(t, err)

	alice := NewState(aliceID)
	alice.SetPeerPublic(bobID.Public)
	bob := NewState(bobID)
	bob.SetPeerPublic(aliceID.Public)

	key, err := DeriveSessionKey()
	require.NoError(t, err)

	sealed, err := alice.WrapSessionKey(key)
	require.NoError(t, err)

	opened, err := bob.UnwrapSessionKey(sealed)
	require.NoError(t, err)
	require.Equal(t, *key, *opened)
}

func TestSealOpenRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	s := NewState(id)
	key, err := DeriveSessionKey()
	require.NoError(t, err)
	s.SetSessionKey(key)

	ad := []byte("envelope-binding")
	nonce, ct, err := s.Seal([]byte("hello bob"), ad, 0)
	require.NoError(t, err)

	pt, err := s.Open(nonce, ct, ad)
	require.NoError(t, err)
	require.Equal(t, "hello bob", string(pt))
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	id, _ := GenerateIdentity()
	s := NewState(id)
	key, _ := DeriveSessionKey()
	s.SetSessionKey(key)

	ad := []byte("ad")
	nonce, ct, err := s.Seal([]byte("secret"), ad, 0)
	require.NoError(t, err)
	ct[0] ^= 0xFF

	_, err = s.Open(nonce, ct, ad)
	require.Error(t, err)
}

func TestNonceCounterNeverReused(t *testing.T) {
	id, _ := GenerateIdentity()
	s := NewState(id)
	seen := map[uint64]bool{}
	for i := 0; i < 1000; i++ {
		n, ok := s.NextNonce()
		require.True(t, ok)
		require.False(t, seen[n])
		seen[n] = true
	}
}

func TestNextNonceRefusesPastLimit(t *testing.T) {
	id, _ := GenerateIdentity()
	s := NewState(id)
	s.nonce = MaxNonce
	_, ok := s.NextNonce()
	require.True(t, ok)
	_, ok = s.NextNonce()
	require.False(t, ok)
}

func TestFingerprintStable(t *testing.T) {
	id, _ := GenerateIdentity()
	a := Fingerprint(id.Public)
	b := Fingerprint(id.Public)
	require.Equal(t, a, b)
	require.Len(t, a, 16)
}

func TestSignAndVerifyPublicKey(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	sig := id.SignPublicKey()
	require.True(t, VerifyPublicKey(id.SigningPublic, id.Public[:], sig))
}

func TestVerifyPublicKeyRejectsTamperedKey(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	sig := id.SignPublicKey()
	tampered := *id.Public
	tampered[0] ^= 0xFF
	require.False(t, VerifyPublicKey(id.SigningPublic, tampered[:], sig))
}

func TestVerifyPublicKeyRejectsWrongSigningKey(t *testing.T) {
	alice, err := GenerateIdentity()
	require.NoError(t, err)
	bob, err := GenerateIdentity()
	require.NoError(t, err)

	sig := alice.SignPublicKey()
	require.False(t, VerifyPublicKey(bob.SigningPublic, alice.Public[:], sig))
}
