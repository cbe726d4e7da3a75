package signer

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bridge-backend/internal/apperrors"
	"bridge-backend/internal/config"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Operation tags a signed authorization as a mint or a redeem. The tag is
// part of the signed message so an authorization can never be replayed
// against the other gateway entrypoint.
type Operation string

const (
	OperationMint   Operation = "MINT"
	OperationRedeem Operation = "REDEEM"
)

// tokenDecimals is the fixed-point scale of the gateway token (18).
var tokenUnit = new(big.Float).SetFloat64(1e18)

// SignedAuthorization is the ephemeral, single-use authorization consumed
// by the on-chain gateway. It is never persisted by the signer; the
// orchestrators serialize what they need onto their own records.
type SignedAuthorization struct {
	Operation      Operation      `json:"operation"`
	ChainID        int            `json:"chain_id"`
	GatewayAddress common.Address `json:"gateway_address"`
	SubjectWallet  common.Address `json:"subject_wallet"`
	TokenAmount    *big.Int       `json:"token_amount"`
	Nonce          [32]byte       `json:"-"`
	ExpiryTime     time.Time      `json:"expiry_time"`
	ReferenceHash  common.Hash    `json:"reference_hash"`
	Signature      []byte         `json:"-"`
	SignerAddress  common.Address `json:"signer_address"`
}

// NonceHex returns the nonce as a 0x-prefixed hex string.
func (a *SignedAuthorization) NonceHex() string {
	return hexutil.Encode(a.Nonce[:])
}

// PayloadJSON serializes the authorization for audit storage on the
// receipt/request row. The signature is included; the nonce is public
// once submitted on-chain, so neither field is sensitive.
func (a *SignedAuthorization) PayloadJSON() string {
	payload := map[string]interface{}{
		"operation":      a.Operation,
		"chain_id":       a.ChainID,
		"gateway":        a.GatewayAddress.Hex(),
		"wallet":         strings.ToLower(a.SubjectWallet.Hex()),
		"token_amount":   a.TokenAmount.String(),
		"nonce":          a.NonceHex(),
		"expiry_time":    a.ExpiryTime.Unix(),
		"reference_hash": a.ReferenceHash.Hex(),
		"signature":      hexutil.Encode(a.Signature),
		"signer":         a.SignerAddress.Hex(),
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

// Signer holds the single operations key and issues signed mint/redeem
// authorizations. It is a pure function of (request, key) plus the fresh
// nonce generated per call; it keeps no state and persists nothing.
type Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	maxTxUSD float64
	validity time.Duration
	logger   *logrus.Logger
}

// New builds a Signer from the operations key in cfg. The key stays in
// memory only and is never logged.
func New(cfg config.SignerConfig, logger *logrus.Logger) (*Signer, error) {
	if cfg.PrivateKey == "" {
		return nil, apperrors.Signing(nil, "operations private key not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, apperrors.Signing(err, "invalid operations private key")
	}
	if logger == nil {
		logger = logrus.New()
	}
	s := &Signer{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		maxTxUSD: cfg.MaxTxUSD,
		validity: cfg.AuthValidity(),
		logger:   logger,
	}
	logger.WithField("signer_address", s.address.Hex()).Info("operations signer initialized")
	return s, nil
}

// Address returns the operations signer address recoverable from every
// issued signature.
func (s *Signer) Address() common.Address { return s.address }

// SignMint issues a single-use mint authorization for the gateway on
// chainID. Fails with LimitExceeded when usdAmount is outside
// (0, maxTxUSD].
func (s *Signer) SignMint(chainID int, gateway common.Address, referenceHash common.Hash, wallet common.Address, usdAmount float64) (*SignedAuthorization, error) {
	return s.sign(OperationMint, chainID, gateway, referenceHash, wallet, usdAmount)
}

// SignRedeem issues a single-use burn authorization, symmetric to
// SignMint.
func (s *Signer) SignRedeem(chainID int, gateway common.Address, referenceHash common.Hash, wallet common.Address, usdAmount float64) (*SignedAuthorization, error) {
	return s.sign(OperationRedeem, chainID, gateway, referenceHash, wallet, usdAmount)
}

func (s *Signer) sign(op Operation, chainID int, gateway common.Address, referenceHash common.Hash, wallet common.Address, usdAmount float64) (*SignedAuthorization, error) {
	if usdAmount <= 0 {
		return nil, apperrors.Validation("amount must be greater than zero")
	}
	if usdAmount > s.maxTxUSD {
		return nil, apperrors.LimitExceeded("amount %.2f exceeds per-transaction ceiling %.2f", usdAmount, s.maxTxUSD)
	}
	if s.key == nil {
		return nil, apperrors.Signing(nil, "operations key unavailable")
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, apperrors.Signing(err, "failed to generate nonce")
	}

	tokenAmount := USDToTokenAmount(usdAmount)
	expiry := time.Now().Add(s.validity)

	digest := MessageHash(op, wallet, tokenAmount, nonce, expiry, referenceHash)

	// EIP-191 personal-message prefix over the 32-byte digest so the
	// gateway can ecrecover the signer address.
	sig, err := crypto.Sign(accounts.TextHash(digest), s.key)
	if err != nil {
		return nil, apperrors.Signing(err, "failed to sign %s authorization", op)
	}
	// Solidity ecrecover expects v in {27, 28}.
	sig[64] += 27

	s.logger.WithFields(logrus.Fields{
		"operation": op,
		"chain_id":  chainID,
		"wallet":    strings.ToLower(wallet.Hex()),
		"usd":       usdAmount,
		"nonce":     hexutil.Encode(nonce[:]),
		"expiry":    expiry.Unix(),
	}).Info("authorization signed")

	return &SignedAuthorization{
		Operation:      op,
		ChainID:        chainID,
		GatewayAddress: gateway,
		SubjectWallet:  wallet,
		TokenAmount:    tokenAmount,
		Nonce:          nonce,
		ExpiryTime:     expiry,
		ReferenceHash:  referenceHash,
		Signature:      sig,
		SignerAddress:  s.address,
	}, nil
}

// newNonce draws a fresh 32-byte nonce from crypto/rand.
func newNonce() ([32]byte, error) {
	var nonce [32]byte
	_, err := rand.Read(nonce[:])
	return nonce, err
}

// MessageHash computes the keccak256 digest the gateway verifies:
// operation tag, lower-cased wallet, fixed-point token amount, nonce,
// expiry unix seconds, reference hash, concatenated in that order.
func MessageHash(op Operation, wallet common.Address, tokenAmount *big.Int, nonce [32]byte, expiry time.Time, referenceHash common.Hash) []byte {
	var buf []byte
	buf = append(buf, []byte(op)...)
	buf = append(buf, []byte(strings.ToLower(wallet.Hex()))...)
	buf = append(buf, []byte(tokenAmount.String())...)
	buf = append(buf, nonce[:]...)
	buf = append(buf, []byte(fmt.Sprintf("%d", expiry.Unix()))...)
	buf = append(buf, referenceHash.Bytes()...)
	return crypto.Keccak256(buf)
}

// USDToTokenAmount converts a USD amount to the 18-decimal token amount.
func USDToTokenAmount(usd float64) *big.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetFloat64(usd), tokenUnit)
	amount, _ := scaled.Int(nil)
	return amount
}
