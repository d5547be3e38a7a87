package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// --------------------------------------------------------------------------
// Typed-data hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// SettlementReceipt(string nonce,string matchId,string kind,address recipient,uint256 amount,uint256 issuedAt)
	receiptTypeHash = ethcrypto.Keccak256(
		[]byte("SettlementReceipt(string nonce,string matchId,string kind,address recipient,uint256 amount,uint256 issuedAt)"),
	)
)

// Signer produces EIP-712 signatures over settlement receipts with the
// service signing key. Receipts carry the signature to downstream treasury
// systems, which verify it before moving funds.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain id the receipts are scoped to.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = buildDomainSeparator("Matchbook Settlement", "1", chainID)
	return s, nil
}

// Address returns the address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignReceipt signs the receipt's typed digest and returns the receipt with
// the 65-byte signature attached.
func (s *Signer) SignReceipt(r domain.SettlementReceipt) (domain.SettlementReceipt, error) {
	digest := s.receiptDigest(r)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return r, fmt.Errorf("crypto/signer: sign receipt %s: %w: %v", r.Nonce, domain.ErrSigningFailed, err)
	}

	// go-ethereum returns v in {0,1}; typed-data consumers expect {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	r.Signature = sig
	return r, nil
}

// VerifyReceipt recovers the address that signed the receipt. Callers
// compare it against the expected service signing address.
func (s *Signer) VerifyReceipt(r domain.SettlementReceipt) (common.Address, error) {
	return RecoverReceiptSigner(r, s.chainID)
}

// RecoverReceiptSigner recovers the signing address from a receipt produced
// for the given chain id.
func RecoverReceiptSigner(r domain.SettlementReceipt, chainID int) (common.Address, error) {
	if len(r.Signature) != 65 {
		return common.Address{}, errors.New("crypto/signer: receipt signature must be 65 bytes")
	}

	sig := make([]byte, 65)
	copy(sig, r.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := receiptDigest(r, buildDomainSeparator("Matchbook Settlement", "1", chainID))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover receipt %s: %w", r.Nonce, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (s *Signer) receiptDigest(r domain.SettlementReceipt) []byte {
	return receiptDigest(r, s.domainSep)
}

// receiptDigest computes the EIP-712 digest of a receipt:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func receiptDigest(r domain.SettlementReceipt, domainSep []byte) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			receiptTypeHash,
			ethcrypto.Keccak256([]byte(r.Nonce)),
			ethcrypto.Keccak256([]byte(r.MatchID)),
			ethcrypto.Keccak256([]byte(r.Kind)),
			common.LeftPadBytes(r.Recipient.Bytes(), 32),
			bigIntTo32Bytes(new(big.Int).SetUint64(r.Amount)),
			bigIntTo32Bytes(big.NewInt(r.IssuedAt.Unix())),
		),
	)
	return ethcrypto.Keccak256(
		concatBytes([]byte{0x19, 0x01}, domainSep, structHash),
	)
}

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
