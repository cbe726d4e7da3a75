package signer

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"bridge-backend/internal/apperrors"
	"bridge-backend/internal/config"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Throwaway key for tests only.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestSigner(t *testing.T, maxTxUSD float64) *Signer {
	t.Helper()
	s, err := New(config.SignerConfig{PrivateKey: testKeyHex, MaxTxUSD: maxTxUSD}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestNewRejectsMissingOrInvalidKey(t *testing.T) {
	if _, err := New(config.SignerConfig{MaxTxUSD: 100}, nil); err == nil {
		t.Fatal("expected error for missing key")
	}
	if _, err := New(config.SignerConfig{PrivateKey: "zz", MaxTxUSD: 100}, nil); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestSignMintRecoversToSignerAddress(t *testing.T) {
	s := newTestSigner(t, 50000)
	wallet := common.HexToAddress("0xAbC0000000000000000000000000000000000001")
	gateway := common.HexToAddress("0xdeadbeef00000000000000000000000000000000")
	reference := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")

	auth, err := s.SignMint(56, gateway, reference, wallet, 500)
	if err != nil {
		t.Fatalf("SignMint failed: %v", err)
	}
	if auth.Operation != OperationMint {
		t.Fatalf("operation = %s, want MINT", auth.Operation)
	}
	if len(auth.Signature) != 65 {
		t.Fatalf("signature length = %d, want 65", len(auth.Signature))
	}
	if v := auth.Signature[64]; v != 27 && v != 28 {
		t.Fatalf("v = %d, want 27 or 28", v)
	}
	if want := USDToTokenAmount(500); auth.TokenAmount.Cmp(want) != 0 {
		t.Fatalf("token amount = %s, want %s", auth.TokenAmount, want)
	}

	// Recover over the prefixed digest the way the gateway's ecrecover
	// does.
	digest := MessageHash(auth.Operation, auth.SubjectWallet, auth.TokenAmount, auth.Nonce, auth.ExpiryTime, auth.ReferenceHash)
	sig := make([]byte, 65)
	copy(sig, auth.Signature)
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(digest), sig)
	if err != nil {
		t.Fatalf("SigToPub failed: %v", err)
	}
	if recovered := crypto.PubkeyToAddress(*pub); recovered != s.Address() {
		t.Fatalf("recovered %s, want %s", recovered.Hex(), s.Address().Hex())
	}
}

func TestSignRejectsOutOfRangeAmounts(t *testing.T) {
	s := newTestSigner(t, 1000)
	wallet := common.HexToAddress("0xAbC0000000000000000000000000000000000001")

	_, err := s.SignMint(56, common.Address{}, common.Hash{}, wallet, 1001)
	if !errors.Is(err, apperrors.ErrLimitExceeded) {
		t.Fatalf("over-ceiling error = %v, want limit_exceeded", err)
	}
	for _, usd := range []float64{0, -5} {
		if _, err := s.SignRedeem(56, common.Address{}, common.Hash{}, wallet, usd); !errors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("amount %.2f error = %v, want validation", usd, err)
		}
	}
}

func TestNoncesAreUnique(t *testing.T) {
	samples := 1_000_000
	if testing.Short() {
		samples = 10_000
	}

	seen := make(map[[32]byte]struct{}, samples)
	for i := 0; i < samples; i++ {
		nonce, err := newNonce()
		if err != nil {
			t.Fatalf("nonce draw %d failed: %v", i, err)
		}
		if _, dup := seen[nonce]; dup {
			t.Fatalf("nonce repeated after %d draws", i)
		}
		seen[nonce] = struct{}{}
	}
}

func TestSignedAuthorizationsCarryFreshNonces(t *testing.T) {
	s := newTestSigner(t, 50000)
	wallet := common.HexToAddress("0xAbC0000000000000000000000000000000000001")

	seen := make(map[[32]byte]bool)
	for i := 0; i < 200; i++ {
		auth, err := s.SignMint(56, common.Address{}, common.Hash{}, wallet, 100)
		if err != nil {
			t.Fatalf("SignMint %d failed: %v", i, err)
		}
		if seen[auth.Nonce] {
			t.Fatalf("nonce repeated after %d signatures", i)
		}
		seen[auth.Nonce] = true
	}
}

func TestAuthorizationExpirySetFromConfig(t *testing.T) {
	s, err := New(config.SignerConfig{PrivateKey: testKeyHex, MaxTxUSD: 1000, AuthValidityHrs: 2}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	wallet := common.HexToAddress("0xAbC0000000000000000000000000000000000001")
	auth, err := s.SignMint(56, common.Address{}, common.Hash{}, wallet, 100)
	if err != nil {
		t.Fatalf("SignMint failed: %v", err)
	}

	lifetime := time.Until(auth.ExpiryTime)
	if lifetime < time.Hour || lifetime > 2*time.Hour {
		t.Fatalf("expiry lifetime = %s, want about 2h", lifetime)
	}
}

func TestMessageHashBindsEveryField(t *testing.T) {
	wallet := common.HexToAddress("0xAbC0000000000000000000000000000000000001")
	other := common.HexToAddress("0xAbC0000000000000000000000000000000000002")
	amount := big.NewInt(1)
	var nonce, nonce2 [32]byte
	nonce2[0] = 1
	expiry := time.Unix(1700000000, 0)
	reference := common.HexToHash("0x01")

	base := MessageHash(OperationMint, wallet, amount, nonce, expiry, reference)
	variants := [][]byte{
		MessageHash(OperationRedeem, wallet, amount, nonce, expiry, reference),
		MessageHash(OperationMint, other, amount, nonce, expiry, reference),
		MessageHash(OperationMint, wallet, big.NewInt(2), nonce, expiry, reference),
		MessageHash(OperationMint, wallet, amount, nonce2, expiry, reference),
		MessageHash(OperationMint, wallet, amount, nonce, expiry.Add(time.Second), reference),
		MessageHash(OperationMint, wallet, amount, nonce, expiry, common.HexToHash("0x02")),
	}
	for i, variant := range variants {
		if string(variant) == string(base) {
			t.Fatalf("variant %d did not change the digest", i)
		}
	}
}

func TestUSDToTokenAmount(t *testing.T) {
	cases := []struct {
		usd  float64
		want string
	}{
		{1, "1000000000000000000"},
		{500, "500000000000000000000"},
		{0.5, "500000000000000000"},
	}
	for _, tc := range cases {
		if got := USDToTokenAmount(tc.usd); got.String() != tc.want {
			t.Fatalf("USDToTokenAmount(%v) = %s, want %s", tc.usd, got, tc.want)
		}
	}
}
