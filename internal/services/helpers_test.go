package services

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/models"
	"bridge-backend/internal/signer"

	"github.com/ethereum/go-ethereum/common"
)

// In-memory fakes over the repository and client interfaces. They apply
// the same conditional-transition semantics as the gorm implementations
// so orchestrator races are observable in tests.

type fakeMintRepo struct {
	mu       sync.Mutex
	receipts map[string]*models.MintReceipt
}

func newFakeMintRepo() *fakeMintRepo {
	return &fakeMintRepo{receipts: make(map[string]*models.MintReceipt)}
}

func (r *fakeMintRepo) Create(ctx context.Context, receipt *models.MintReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.receipts {
		if existing.Provider == receipt.Provider && existing.ProviderEventID == receipt.ProviderEventID {
			return fmt.Errorf("duplicate key value violates unique constraint \"ux_mint_provider_event\"")
		}
	}
	receipt.CreatedAt = time.Now()
	cp := *receipt
	r.receipts[receipt.ID] = &cp
	return nil
}

func (r *fakeMintRepo) GetByID(ctx context.Context, id string) (*models.MintReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt, ok := r.receipts[id]
	if !ok {
		return nil, fmt.Errorf("record not found")
	}
	cp := *receipt
	return &cp, nil
}

func (r *fakeMintRepo) GetByProviderEvent(ctx context.Context, provider, eventID string) (*models.MintReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, receipt := range r.receipts {
		if receipt.Provider == provider && receipt.ProviderEventID == eventID {
			cp := *receipt
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("record not found")
}

func (r *fakeMintRepo) FindByWallet(ctx context.Context, wallet string, page, pageSize int) ([]*models.MintReceipt, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MintReceipt
	for _, receipt := range r.receipts {
		if receipt.UserWallet == wallet {
			cp := *receipt
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeMintRepo) FindByStatus(ctx context.Context, status models.MintReceiptStatus) ([]*models.MintReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MintReceipt
	for _, receipt := range r.receipts {
		if receipt.Status == status {
			cp := *receipt
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeMintRepo) TransitionStatus(ctx context.Context, id string, from, to models.MintReceiptStatus, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt, ok := r.receipts[id]
	if !ok || receipt.Status != from {
		return false, nil
	}
	receipt.Status = to
	receipt.UpdatedAt = time.Now()
	for column, value := range updates {
		switch column {
		case "tx_hash":
			receipt.TxHash = value.(string)
		case "nonce":
			receipt.Nonce = value.(string)
		case "signature_payload":
			receipt.SignaturePayload = value.(string)
		case "error_message":
			receipt.ErrorMessage = value.(string)
		case "minted_at":
			t := value.(time.Time)
			receipt.MintedAt = &t
		case "failed_at":
			if value == nil {
				receipt.FailedAt = nil
			} else {
				t := value.(time.Time)
				receipt.FailedAt = &t
			}
		}
	}
	return true, nil
}

func (r *fakeMintRepo) SumMintedUSD(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0.0
	for _, receipt := range r.receipts {
		if receipt.Status == models.MintStatusMinted {
			total += receipt.USDAmount
		}
	}
	return total, nil
}

type fakeRedeemRepo struct {
	mu       sync.Mutex
	requests map[string]*models.RedeemRequest
}

func newFakeRedeemRepo() *fakeRedeemRepo {
	return &fakeRedeemRepo{requests: make(map[string]*models.RedeemRequest)}
}

func (r *fakeRedeemRepo) Create(ctx context.Context, request *models.RedeemRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	request.CreatedAt = time.Now()
	cp := *request
	r.requests[request.ID] = &cp
	return nil
}

func (r *fakeRedeemRepo) GetByID(ctx context.Context, id string) (*models.RedeemRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("record not found")
	}
	cp := *request
	return &cp, nil
}

func (r *fakeRedeemRepo) FindByWallet(ctx context.Context, wallet string, page, pageSize int) ([]*models.RedeemRequest, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RedeemRequest
	for _, request := range r.requests {
		if request.UserWallet == wallet {
			cp := *request
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (r *fakeRedeemRepo) FindReconciliationRequired(ctx context.Context) ([]*models.RedeemRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RedeemRequest
	for _, request := range r.requests {
		if request.ReconciliationRequired {
			cp := *request
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRedeemRepo) TransitionStatus(ctx context.Context, id string, from, to models.RedeemStatus, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok || request.Status != from {
		return false, nil
	}
	request.Status = to
	request.UpdatedAt = time.Now()
	for column, value := range updates {
		switch column {
		case "burn_tx_hash":
			request.BurnTxHash = value.(string)
		case "payout_id":
			request.PayoutID = value.(string)
		case "payout_status":
			request.PayoutStatus = value.(models.PayoutStatus)
		case "reconciliation_required":
			request.ReconciliationRequired = value.(bool)
		case "error_message":
			request.ErrorMessage = value.(string)
		case "completed_at":
			t := value.(time.Time)
			request.CompletedAt = &t
		case "failed_at":
			t := value.(time.Time)
			request.FailedAt = &t
		}
	}
	return true, nil
}

func (r *fakeRedeemRepo) SumDailyUSD(ctx context.Context, wallet string, since time.Time) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0.0
	for _, request := range r.requests {
		if request.UserWallet != wallet || request.CreatedAt.Before(since) {
			continue
		}
		if request.Status == models.RedeemStatusProcessing || request.Status == models.RedeemStatusCompleted {
			total += request.USDAmount
		}
	}
	return total, nil
}

func (r *fakeRedeemRepo) SumCompletedUSD(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0.0
	for _, request := range r.requests {
		if request.Status == models.RedeemStatusCompleted {
			total += request.USDAmount
		}
	}
	return total, nil
}

type fakeRateStore struct {
	mu      sync.Mutex
	windows []*models.RateWindow
	nextID  uint
}

func newFakeRateStore() *fakeRateStore { return &fakeRateStore{} }

func (s *fakeRateStore) LatestFor(ctx context.Context, windowType, identifier string) (*models.RateWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.RateWindow
	for _, w := range s.windows {
		if w.Type != windowType || w.Identifier != identifier {
			continue
		}
		if latest == nil || w.WindowStart.After(latest.WindowStart) {
			latest = w
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *fakeRateStore) Create(ctx context.Context, window *models.RateWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	window.ID = s.nextID
	cp := *window
	s.windows = append(s.windows, &cp)
	return nil
}

func (s *fakeRateStore) Save(ctx context.Context, window *models.RateWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.windows {
		if w.ID == window.ID {
			cp := *window
			s.windows[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("rate window %d not found", window.ID)
}

func (s *fakeRateStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.windows[:0]
	var deleted int64
	for _, w := range s.windows {
		if w.WindowEnd.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, w)
	}
	s.windows = kept
	return deleted, nil
}

type fakeSnapshotRepo struct {
	mu        sync.Mutex
	snapshots []*models.ReserveSnapshot
}

func newFakeSnapshotRepo() *fakeSnapshotRepo { return &fakeSnapshotRepo{} }

func (r *fakeSnapshotRepo) Create(ctx context.Context, snapshot *models.ReserveSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot.CreatedAt = time.Now()
	cp := *snapshot
	r.snapshots = append(r.snapshots, &cp)
	return nil
}

func (r *fakeSnapshotRepo) Latest(ctx context.Context) (*models.ReserveSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil, nil
	}
	cp := *r.snapshots[len(r.snapshots)-1]
	return &cp, nil
}

func (r *fakeSnapshotRepo) History(ctx context.Context, limit int) ([]*models.ReserveSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ReserveSnapshot
	for i := len(r.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *r.snapshots[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeSnapshotRepo) MarkPublished(ctx context.Context, id, txHash string, blockNumber *uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, snapshot := range r.snapshots {
		if snapshot.ID == id && snapshot.Status == models.ReserveSnapshotCreated {
			snapshot.Status = models.ReserveSnapshotPublished
			snapshot.TxHash = txHash
			snapshot.BlockNumber = blockNumber
			now := time.Now()
			snapshot.PublishedAt = &now
			return nil
		}
	}
	return fmt.Errorf("snapshot %s not in created status", id)
}

type fakeWebhookRepo struct {
	mu     sync.Mutex
	events map[string]*models.WebhookEvent
	nextID uint
}

func newFakeWebhookRepo() *fakeWebhookRepo {
	return &fakeWebhookRepo{events: make(map[string]*models.WebhookEvent)}
}

func webhookKey(provider, eventID string) string { return provider + "/" + eventID }

func (r *fakeWebhookRepo) CreateIfAbsent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := webhookKey(event.Provider, event.EventID)
	if _, exists := r.events[key]; exists {
		return false, nil
	}
	r.nextID++
	event.ID = r.nextID
	event.CreatedAt = time.Now()
	cp := *event
	r.events[key] = &cp
	return true, nil
}

func (r *fakeWebhookRepo) GetByProviderEvent(ctx context.Context, provider, eventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[webhookKey(provider, eventID)]
	if !ok {
		return nil, fmt.Errorf("record not found")
	}
	cp := *event
	return &cp, nil
}

func (r *fakeWebhookRepo) MarkProcessed(ctx context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.ID == id {
			now := time.Now()
			event.ProcessedAt = &now
			event.ProcessingError = processingError
			return nil
		}
	}
	return fmt.Errorf("webhook event %d not found", id)
}

// fakeSigner issues deterministic authorizations without key material.
type fakeSigner struct {
	mu     sync.Mutex
	err    error
	signed int
}

func (s *fakeSigner) sign(op signer.Operation, chainID int, gateway common.Address, referenceHash common.Hash, wallet common.Address, usdAmount float64) (*signer.SignedAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.signed++
	var nonce [32]byte
	nonce[0] = byte(s.signed)
	return &signer.SignedAuthorization{
		Operation:      op,
		ChainID:        chainID,
		GatewayAddress: gateway,
		SubjectWallet:  wallet,
		TokenAmount:    signer.USDToTokenAmount(usdAmount),
		Nonce:          nonce,
		ExpiryTime:     time.Now().Add(24 * time.Hour),
		ReferenceHash:  referenceHash,
		Signature:      []byte{0x01},
	}, nil
}

func (s *fakeSigner) SignMint(chainID int, gateway common.Address, referenceHash common.Hash, wallet common.Address, usdAmount float64) (*signer.SignedAuthorization, error) {
	return s.sign(signer.OperationMint, chainID, gateway, referenceHash, wallet, usdAmount)
}

func (s *fakeSigner) SignRedeem(chainID int, gateway common.Address, referenceHash common.Hash, wallet common.Address, usdAmount float64) (*signer.SignedAuthorization, error) {
	return s.sign(signer.OperationRedeem, chainID, gateway, referenceHash, wallet, usdAmount)
}

func (s *fakeSigner) Address() common.Address { return common.HexToAddress("0x01") }

// fakeGateway records submissions and serves configured balances.
type fakeGateway struct {
	mu           sync.Mutex
	chains       map[int]bool
	balances     map[string]*big.Int
	balanceGates map[string]*balanceGate
	submitErr    error
	submissions  []*signer.SignedAuthorization
}

// balanceGate stalls one wallet's balance reads: the read signals
// entered, then blocks until release is closed.
type balanceGate struct {
	entered chan struct{}
	release chan struct{}
}

func newFakeGateway(chainIDs ...int) *fakeGateway {
	chains := make(map[int]bool)
	for _, id := range chainIDs {
		chains[id] = true
	}
	return &fakeGateway{
		chains:       chains,
		balances:     make(map[string]*big.Int),
		balanceGates: make(map[string]*balanceGate),
	}
}

func (g *fakeGateway) setBalance(wallet common.Address, usd float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[wallet.Hex()] = signer.USDToTokenAmount(usd)
}

func (g *fakeGateway) gateBalance(wallet common.Address, entered, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balanceGates[wallet.Hex()] = &balanceGate{entered: entered, release: release}
}

func (g *fakeGateway) submit(auth *signer.SignedAuthorization) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return "", g.submitErr
	}
	g.submissions = append(g.submissions, auth)
	return fmt.Sprintf("0xtx%02x", len(g.submissions)), nil
}

func (g *fakeGateway) EstimateAndSubmitMint(ctx context.Context, chainID int, wallet common.Address, auth *signer.SignedAuthorization) (string, error) {
	return g.submit(auth)
}

func (g *fakeGateway) EstimateAndSubmitRedeem(ctx context.Context, chainID int, wallet common.Address, auth *signer.SignedAuthorization) (string, error) {
	return g.submit(auth)
}

func (g *fakeGateway) IsNonceUsed(ctx context.Context, chainID int, nonce [32]byte) (bool, error) {
	return false, nil
}

func (g *fakeGateway) GetTokenBalance(ctx context.Context, chainID int, wallet common.Address) (*big.Int, error) {
	g.mu.Lock()
	gate := g.balanceGates[wallet.Hex()]
	balance := big.NewInt(0)
	if b, ok := g.balances[wallet.Hex()]; ok {
		balance = new(big.Int).Set(b)
	}
	g.mu.Unlock()

	if gate != nil {
		gate.entered <- struct{}{}
		<-gate.release
	}
	return balance, nil
}

func (g *fakeGateway) GatewayAddress(chainID int) (common.Address, error) {
	if !g.chains[chainID] {
		return common.Address{}, fmt.Errorf("chain %d not registered", chainID)
	}
	return common.HexToAddress("0xdead"), nil
}

func (g *fakeGateway) submitted() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submissions)
}

// fakePublisher records everything published.
type fakePublisher struct {
	mu              sync.Mutex
	audits          []string
	alerts          []clients.Alert
	reconciliations []interface{}
	attestations    []interface{}
}

func (p *fakePublisher) PublishAudit(subject string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audits = append(p.audits, subject)
	return nil
}

func (p *fakePublisher) PublishAlert(alert clients.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
	return nil
}

func (p *fakePublisher) PublishReconciliation(event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconciliations = append(p.reconciliations, event)
	return nil
}

func (p *fakePublisher) PublishAttestation(event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attestations = append(p.attestations, event)
	return nil
}

type fakePusher struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (p *fakePusher) Broadcast(event StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

// fakePayout succeeds unless err is set; status lookups report the
// configured status, initiated by default.
type fakePayout struct {
	mu            sync.Mutex
	err           error
	status        string
	statusErr     error
	statusQueries int
	requests      []clients.PayoutRequest
}

func (p *fakePayout) InitiatePayout(ctx context.Context, req clients.PayoutRequest) (*clients.PayoutResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, req)
	return &clients.PayoutResponse{PayoutID: fmt.Sprintf("po_%d", len(p.requests)), Status: "initiated"}, nil
}

func (p *fakePayout) GetPayoutStatus(ctx context.Context, payoutID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusQueries++
	if p.statusErr != nil {
		return "", p.statusErr
	}
	if p.status == "" {
		return "initiated", nil
	}
	return p.status, nil
}

func (p *fakePayout) setStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *fakePayout) queriedStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusQueries
}

// fakeReserveClient serves balances by account name.
type fakeReserveClient struct {
	balances map[string]float64
	errs     map[string]error
}

func (c *fakeReserveClient) GetBalance(ctx context.Context, account config.ReserveAccountConfig) (float64, error) {
	if err, ok := c.errs[account.Name]; ok {
		return 0, err
	}
	return c.balances[account.Name], nil
}

// allowAllGuard admits everything.
type allowAllGuard struct{}

func (allowAllGuard) Check(ctx context.Context, windowType, identifier string, limit int, window time.Duration) error {
	return nil
}

// denyGuard rejects everything with the configured error.
type denyGuard struct{ err error }

func (g denyGuard) Check(ctx context.Context, windowType, identifier string, limit int, window time.Duration) error {
	return g.err
}
