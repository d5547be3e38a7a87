package crypto

import (
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallerProofRoundTrip(t *testing.T) {
	body := []byte(`{"match_id":"m-1","outcome":"player1","amount":500}`)

	sig, err := SignCallerProof(testKeyHex, "POST", "/api/markets/m-1/bets", "1756000000", body)
	require.NoError(t, err)

	got, err := RecoverCallerProof("POST", "/api/markets/m-1/bets", "1756000000", body, sig)
	require.NoError(t, err)

	pk, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(pk.PublicKey), got)
}

func TestCallerProofBindsEveryField(t *testing.T) {
	body := []byte(`{"result":"draw"}`)
	sig, err := SignCallerProof(testKeyHex, "POST", "/api/escrows/m-1/resolve", "1756000000", body)
	require.NoError(t, err)

	pk, err := ethcrypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	signer := ethcrypto.PubkeyToAddress(pk.PublicKey)

	cases := []struct {
		name      string
		method    string
		path      string
		timestamp string
		body      []byte
	}{
		{"method", "GET", "/api/escrows/m-1/resolve", "1756000000", body},
		{"path", "POST", "/api/escrows/m-2/resolve", "1756000000", body},
		{"timestamp", "POST", "/api/escrows/m-1/resolve", "1756000001", body},
		{"body", "POST", "/api/escrows/m-1/resolve", "1756000000", []byte(`{"result":"win"}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RecoverCallerProof(tc.method, tc.path, tc.timestamp, tc.body, sig)
			if err == nil {
				assert.NotEqual(t, signer, got, "tampered %s must not recover the signer", tc.name)
			}
		})
	}
}

func TestRecoverCallerProofRejectsMalformedSignature(t *testing.T) {
	_, err := RecoverCallerProof("GET", "/", "0", nil, "0xzz")
	assert.Error(t, err)

	_, err = RecoverCallerProof("GET", "/", "0", nil, "0xabcd")
	assert.Error(t, err)
}

func TestCallerDigestEmptyBody(t *testing.T) {
	// GET requests sign an empty body; the digest must still be stable.
	d1 := CallerDigest("GET", "/api/markets/m-1", "1756000000", nil)
	d2 := CallerDigest("GET", "/api/markets/m-1", "1756000000", []byte{})
	assert.Equal(t, d1, d2)
}
