package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Caller proofs authenticate API requests as a wallet. The wallet signs
//
//	method|path|timestamp|keccak256(body)
//
// with an EIP-191 personal-sign, and the server recovers the address from
// the signature. The timestamp bounds replay; the body hash binds the proof
// to the exact payload.

// CallerDigest returns the personal-sign digest of a request proof.
func CallerDigest(method, path, timestamp string, body []byte) []byte {
	bodyHash := hex.EncodeToString(ethcrypto.Keccak256(body))
	msg := method + "|" + path + "|" + timestamp + "|0x" + bodyHash
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return ethcrypto.Keccak256([]byte(prefixed))
}

// SignCallerProof signs a request proof with the given hex private key and
// returns the 0x-prefixed 65-byte signature. Mainly used by clients and
// tests; the server only recovers.
func SignCallerProof(privateKeyHex, method, path, timestamp string, body []byte) (string, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("crypto/identity: invalid private key: %w", err)
	}

	sig, err := ethcrypto.Sign(CallerDigest(method, path, timestamp, body), pk)
	if err != nil {
		return "", fmt.Errorf("crypto/identity: sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverCallerProof recovers the wallet address that signed a request
// proof.
func RecoverCallerProof(method, path, timestamp string, body []byte, signatureHex string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/identity: decode signature: %w", err)
	}
	if len(raw) != 65 {
		return common.Address{}, errors.New("crypto/identity: signature must be 65 bytes")
	}

	sig := make([]byte, 65)
	copy(sig, raw)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(CallerDigest(method, path, timestamp, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/identity: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
