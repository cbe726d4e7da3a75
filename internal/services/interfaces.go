package services

import (
	"context"
	"math/big"

	"bridge-backend/internal/signer"

	"github.com/ethereum/go-ethereum/common"
)

// AuthorizationSigner issues single-use signed authorizations. Satisfied
// by *signer.Signer; faked in tests.
type AuthorizationSigner interface {
	SignMint(chainID int, gateway common.Address, referenceHash common.Hash, wallet common.Address, usdAmount float64) (*signer.SignedAuthorization, error)
	SignRedeem(chainID int, gateway common.Address, referenceHash common.Hash, wallet common.Address, usdAmount float64) (*signer.SignedAuthorization, error)
	Address() common.Address
}

// GatewaySubmitter is the multi-chain RPC surface. Satisfied by
// *chain.Registry; faked in tests.
type GatewaySubmitter interface {
	EstimateAndSubmitMint(ctx context.Context, chainID int, wallet common.Address, auth *signer.SignedAuthorization) (string, error)
	EstimateAndSubmitRedeem(ctx context.Context, chainID int, wallet common.Address, auth *signer.SignedAuthorization) (string, error)
	IsNonceUsed(ctx context.Context, chainID int, nonce [32]byte) (bool, error)
	GetTokenBalance(ctx context.Context, chainID int, wallet common.Address) (*big.Int, error)
	GatewayAddress(chainID int) (common.Address, error)
}
