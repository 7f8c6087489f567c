package clob

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// L1 auth: an EIP-712 attestation signed by the wallet key, used only to
// create or derive API credentials.

const clobAuthMessage = "This message attests that I control the given wallet"

var (
	clobAuthDomainNameHash    = crypto.Keccak256Hash([]byte("ClobAuthDomain"))
	clobAuthDomainVersionHash = crypto.Keccak256Hash([]byte("1"))
	clobAuthTypeHash          = crypto.Keccak256Hash([]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"))

	bytes32Ty = mustABIType("bytes32")
	addressTy = mustABIType("address")
	uint256Ty = mustABIType("uint256")
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

func buildClobEip712Signature(privateKey *ecdsa.PrivateKey, signer common.Address, chainID int64, timestamp int64, nonce uint64) (string, error) {
	domainEnc, err := abi.Arguments{
		{Type: bytes32Ty}, {Type: bytes32Ty}, {Type: bytes32Ty}, {Type: uint256Ty},
	}.Pack(
		crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId)")),
		clobAuthDomainNameHash,
		clobAuthDomainVersionHash,
		big.NewInt(chainID),
	)
	if err != nil {
		return "", err
	}
	domainSeparator := crypto.Keccak256Hash(domainEnc)

	// EIP-712 encodes dynamic types as keccak256(value).
	structEnc, err := abi.Arguments{
		{Type: bytes32Ty}, {Type: addressTy}, {Type: bytes32Ty}, {Type: uint256Ty}, {Type: bytes32Ty},
	}.Pack(
		clobAuthTypeHash,
		signer,
		crypto.Keccak256Hash([]byte(fmt.Sprintf("%d", timestamp))),
		new(big.Int).SetUint64(nonce),
		crypto.Keccak256Hash([]byte(clobAuthMessage)),
	)
	if err != nil {
		return "", err
	}
	structHash := crypto.Keccak256Hash(structEnc)

	raw := make([]byte, 0, 2+32+32)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator.Bytes()...)
	raw = append(raw, structHash.Bytes()...)
	digest := crypto.Keccak256Hash(raw)

	sig, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig), nil
}

// L2 auth: HMAC over timestamp+method+path+body with the API secret, matching
// @polymarket/clob-client canonicalization.

func buildPolyHmacSignature(secret string, timestamp int64, method, requestPath string, body []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(32 + len(method) + len(requestPath) + len(body))
	fmt.Fprintf(&sb, "%d", timestamp)
	sb.WriteString(method)
	sb.WriteString(requestPath)
	if body != nil {
		sb.Write(body)
	}

	decoded, err := base64.StdEncoding.DecodeString(sanitizeBase64Secret(secret))
	if err != nil {
		return "", fmt.Errorf("decode base64 secret: %w", err)
	}

	mac := hmac.New(sha256.New, decoded)
	_, _ = mac.Write([]byte(sb.String()))

	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	// URL-safe base64, keeping the '=' suffix.
	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}

// sanitizeBase64Secret accepts base64url secrets and drops stray characters,
// matching @polymarket/clob-client behavior.
func sanitizeBase64Secret(secret string) string {
	secret = strings.TrimSpace(secret)
	secret = strings.ReplaceAll(secret, "-", "+")
	secret = strings.ReplaceAll(secret, "_", "/")

	var b strings.Builder
	b.Grow(len(secret))
	for i := 0; i < len(secret); i++ {
		c := secret[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '+' || c == '/' || c == '=':
			b.WriteByte(c)
		}
	}
	out := b.String()
	if rem := len(out) % 4; rem != 0 {
		out += strings.Repeat("=", 4-rem)
	}
	return out
}
