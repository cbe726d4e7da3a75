package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bridge-backend/internal/apperrors"
	"bridge-backend/internal/config"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/signer"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Gas safety margins to reduce stuck-transaction risk: estimated gas
// limit is padded by 20%, suggested gas price by a 10% priority premium.
const (
	gasLimitNumerator   = 120
	gasPriceNumerator   = 110
	marginDenominator   = 100
	dialProbeTimeout    = 10 * time.Second
	defaultCallDeadline = 30 * time.Second
)

// binding ties one chain's RPC client to its gateway and token contracts.
type binding struct {
	cfg     config.ChainConfig
	client  *ethclient.Client
	gateway common.Address
	token   common.Address
}

// Registry holds one RPC client and one gateway binding per supported
// chain, and submits signed authorizations to the gateway. Clients are
// safe for concurrent use; the Registry itself holds no mutable state
// after New.
type Registry struct {
	bindings   map[int]*binding
	relayerKey *ecdsa.PrivateKey
	logger     *logrus.Logger
}

// The parsed ABIs are process-wide constants.
var (
	gatewayABI = mustParseABI("gateway", gatewayABIJSON)
	tokenABI   = mustParseABI("token", tokenABIJSON)
)

// NewRegistry dials every enabled chain, probing RPC endpoints in order
// until one answers, and verifies the reported network id matches the
// configured chain id. The relayer key pays gas for gateway submissions.
func NewRegistry(chains map[string]config.ChainConfig, relayerKeyHex string, logger *logrus.Logger) (*Registry, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(relayerKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer key: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	r := &Registry{
		bindings:   make(map[int]*binding),
		relayerKey: key,
		logger:     logger,
	}

	for name, chainCfg := range chains {
		if !chainCfg.Enabled {
			continue
		}
		client, endpoint, err := dialFirst(chainCfg)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to connect to chain %s: %w", name, err)
		}
		r.bindings[chainCfg.ChainID] = &binding{
			cfg:     chainCfg,
			client:  client,
			gateway: common.HexToAddress(chainCfg.GatewayContract),
			token:   common.HexToAddress(chainCfg.TokenContract),
		}
		logger.WithFields(logrus.Fields{
			"chain":    name,
			"chain_id": chainCfg.ChainID,
			"endpoint": endpoint,
			"gateway":  chainCfg.GatewayContract,
		}).Info("chain RPC client connected")
	}

	if len(r.bindings) == 0 {
		return nil, fmt.Errorf("no enabled chains configured")
	}
	return r, nil
}

func dialFirst(chainCfg config.ChainConfig) (*ethclient.Client, string, error) {
	var lastErr error
	for _, endpoint := range chainCfg.RPCEndpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), dialProbeTimeout)
		networkID, err := client.NetworkID(ctx)
		cancel()
		if err != nil {
			client.Close()
			lastErr = err
			continue
		}
		if networkID.Int64() != int64(chainCfg.ChainID) {
			client.Close()
			lastErr = fmt.Errorf("endpoint %s reports network %s, expected %d", endpoint, networkID, chainCfg.ChainID)
			continue
		}
		return client, endpoint, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no RPC endpoints configured")
	}
	return nil, "", lastErr
}

// Close releases all RPC clients.
func (r *Registry) Close() {
	for _, b := range r.bindings {
		b.client.Close()
	}
}

// ChainIDs returns the connected chain ids.
func (r *Registry) ChainIDs() []int {
	ids := make([]int, 0, len(r.bindings))
	for id := range r.bindings {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) bindingFor(chainID int) (*binding, error) {
	b, ok := r.bindings[chainID]
	if !ok {
		return nil, apperrors.Validation("chain %d is not supported", chainID)
	}
	return b, nil
}

// EstimateAndSubmitMint submits an authorized mint to the gateway and
// blocks until one confirmation is observed or ctx expires.
func (r *Registry) EstimateAndSubmitMint(ctx context.Context, chainID int, wallet common.Address, auth *signer.SignedAuthorization) (string, error) {
	return r.submit(ctx, chainID, "executeMint", wallet, auth)
}

// EstimateAndSubmitRedeem submits an authorized burn to the gateway and
// blocks until one confirmation is observed or ctx expires.
func (r *Registry) EstimateAndSubmitRedeem(ctx context.Context, chainID int, wallet common.Address, auth *signer.SignedAuthorization) (string, error) {
	return r.submit(ctx, chainID, "executeRedeem", wallet, auth)
}

func (r *Registry) submit(ctx context.Context, chainID int, method string, wallet common.Address, auth *signer.SignedAuthorization) (string, error) {
	b, err := r.bindingFor(chainID)
	if err != nil {
		return "", err
	}

	start := time.Now()
	defer func() {
		metrics.ChainSubmissionDuration.WithLabelValues(fmt.Sprintf("%d", chainID), method).Observe(time.Since(start).Seconds())
	}()

	// Defensive pre-check. The gateway rejects a reused nonce atomically;
	// this only avoids burning gas on a transaction that must revert.
	used, err := r.IsNonceUsed(ctx, chainID, auth.Nonce)
	if err != nil {
		return "", apperrors.Chain("nonce_check", err, "failed to check nonce on chain %d", chainID)
	}
	if used {
		return "", apperrors.Chain("nonce_check", nil, "nonce already used on chain %d", chainID)
	}

	calldata, err := gatewayABI.Pack(method, wallet, auth.TokenAmount, auth.Nonce, big.NewInt(auth.ExpiryTime.Unix()), [32]byte(auth.ReferenceHash), auth.Signature)
	if err != nil {
		return "", apperrors.Chain("encode", err, "failed to encode %s calldata", method)
	}

	relayer := crypto.PubkeyToAddress(r.relayerKey.PublicKey)

	callCtx, cancel := context.WithTimeout(ctx, defaultCallDeadline)
	defer cancel()

	gasLimit, err := b.client.EstimateGas(callCtx, ethereum.CallMsg{
		From: relayer,
		To:   &b.gateway,
		Data: calldata,
	})
	if err != nil {
		return "", apperrors.Chain("estimate", err, "gas estimation failed for %s on chain %d", method, chainID)
	}
	gasLimit = gasLimit * gasLimitNumerator / marginDenominator

	gasPrice, err := b.client.SuggestGasPrice(callCtx)
	if err != nil {
		return "", apperrors.Chain("estimate", err, "gas price query failed on chain %d", chainID)
	}
	gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(gasPriceNumerator)), big.NewInt(marginDenominator))

	txNonce, err := b.client.PendingNonceAt(callCtx, relayer)
	if err != nil {
		return "", apperrors.Chain("submit", err, "failed to fetch relayer nonce on chain %d", chainID)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    txNonce,
		To:       &b.gateway,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(int64(chainID))), r.relayerKey)
	if err != nil {
		return "", apperrors.Chain("submit", err, "failed to sign transaction for chain %d", chainID)
	}

	if err := b.client.SendTransaction(callCtx, signedTx); err != nil {
		return "", apperrors.Chain("submit", err, "transaction submission failed on chain %d", chainID)
	}

	txHash := signedTx.Hash().Hex()
	r.logger.WithFields(logrus.Fields{
		"chain_id":  chainID,
		"method":    method,
		"tx_hash":   txHash,
		"gas_limit": gasLimit,
		"gas_price": gasPrice.String(),
	}).Info("gateway transaction submitted")

	// Block until one confirmation under the caller's deadline. A slow
	// RPC endpoint must not stall the service beyond ctx.
	waitCtx, waitCancel := context.WithTimeout(ctx, b.cfg.ConfirmDeadline())
	defer waitCancel()
	receipt, err := bind.WaitMined(waitCtx, b.client, signedTx)
	if err != nil {
		return txHash, apperrors.Chain("confirm", err, "confirmation wait failed for %s", txHash)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := r.revertReason(ctx, b, relayer, calldata, receipt.BlockNumber)
		return txHash, apperrors.Chain("revert", nil, "transaction %s reverted: %s", txHash, reason)
	}

	return txHash, nil
}

// revertReason replays the failed call at its block to recover the revert
// string. Best effort; an opaque failure still fails the submission.
func (r *Registry) revertReason(ctx context.Context, b *binding, from common.Address, calldata []byte, blockNumber *big.Int) string {
	callCtx, cancel := context.WithTimeout(ctx, defaultCallDeadline)
	defer cancel()
	_, err := b.client.CallContract(callCtx, ethereum.CallMsg{
		From: from,
		To:   &b.gateway,
		Data: calldata,
	}, blockNumber)
	if err != nil {
		return err.Error()
	}
	return "unknown revert reason"
}

// IsNonceUsed queries the gateway's usedNonces map.
func (r *Registry) IsNonceUsed(ctx context.Context, chainID int, nonce [32]byte) (bool, error) {
	b, err := r.bindingFor(chainID)
	if err != nil {
		return false, err
	}
	callCtx, cancel := context.WithTimeout(ctx, defaultCallDeadline)
	defer cancel()

	calldata, err := gatewayABI.Pack("usedNonces", nonce)
	if err != nil {
		return false, fmt.Errorf("failed to encode usedNonces call: %w", err)
	}
	out, err := b.client.CallContract(callCtx, ethereum.CallMsg{To: &b.gateway, Data: calldata}, nil)
	if err != nil {
		return false, err
	}
	result, err := unpackSingle(gatewayABI, "usedNonces", out)
	if err != nil {
		return false, err
	}
	used, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected usedNonces result type %T", result)
	}
	return used, nil
}

// GetTokenBalance reads the wallet's token balance on chainID.
func (r *Registry) GetTokenBalance(ctx context.Context, chainID int, wallet common.Address) (*big.Int, error) {
	b, err := r.bindingFor(chainID)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, defaultCallDeadline)
	defer cancel()

	calldata, err := tokenABI.Pack("balanceOf", wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to encode balanceOf call: %w", err)
	}
	out, err := b.client.CallContract(callCtx, ethereum.CallMsg{To: &b.token, Data: calldata}, nil)
	if err != nil {
		return nil, apperrors.Chain("balance", err, "balance query failed on chain %d", chainID)
	}
	result, err := unpackSingle(tokenABI, "balanceOf", out)
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", result)
	}
	return balance, nil
}

// GatewayAddress returns the gateway contract for a chain.
func (r *Registry) GatewayAddress(chainID int) (common.Address, error) {
	b, err := r.bindingFor(chainID)
	if err != nil {
		return common.Address{}, err
	}
	return b.gateway, nil
}
