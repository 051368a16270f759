// Package chain submits swap transactions through DEX routers and reads their
// receipts back from an EVM node.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/dexarb/internal/contracts"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Backend is the subset of *ethclient.Client the submitter uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial connects to rpcURL and returns the client with the node's chain id.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, *big.Int, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial: %w", err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("chain: chain id: %w", err)
	}
	return client, id, nil
}

// Config holds transaction parameters.
type Config struct {
	ChainID     *big.Int
	GasPriceWei *big.Int
	GasLimit    uint64
	Deadline    time.Duration
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type allowanceKey struct {
	token, spender common.Address
}

// Submitter signs and broadcasts swaps from one wallet. Nonces are assigned
// under a mutex so concurrent orders never collide.
type Submitter struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	dexes   map[string]domain.DEXSpec
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	nonce       uint64
	nonceLoaded bool
	approved    map[allowanceKey]bool

	outMu   sync.Mutex
	pending map[common.Hash]domain.Token // tx -> token expected out
}

// NewSubmitter creates a Submitter for key on the given DEXes.
func NewSubmitter(backend Backend, key *ecdsa.PrivateKey, dexes map[string]domain.DEXSpec, cfg Config, logger *slog.Logger) *Submitter {
	return &Submitter{
		backend:  backend,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		signer:   types.LatestSignerForChainID(cfg.ChainID),
		dexes:    dexes,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "chain")),
		now:      time.Now,
		approved: make(map[allowanceKey]bool),
		pending:  make(map[common.Hash]domain.Token),
	}
}

// Address returns the wallet address.
func (s *Submitter) Address() common.Address { return s.from }

// SubmitSwap approves the router if needed and broadcasts an exact-input swap.
func (s *Submitter) SubmitSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	dex, ok := s.dexes[req.DEX]
	if !ok {
		return "", fmt.Errorf("chain: submit %s: %w: unknown dex %q", req.AttemptID, domain.ErrSubmissionRejected, req.DEX)
	}

	amountIn := contracts.ToUnits(req.AmountIn, req.TokenIn.Decimals)
	minOut := contracts.ToUnits(req.MinAmountOut, req.TokenOut.Decimals)
	if amountIn.Sign() <= 0 {
		return "", fmt.Errorf("chain: submit %s: %w: zero amount", req.AttemptID, domain.ErrSubmissionRejected)
	}
	deadline := big.NewInt(s.now().Add(s.cfg.Deadline).Unix())

	var (
		data []byte
		err  error
	)
	switch dex.Type {
	case domain.DEXTypeUniswapV2:
		path := []common.Address{req.TokenIn.Address, req.TokenOut.Address}
		data, err = contracts.RouterV2.Pack("swapExactTokensForTokens", amountIn, minOut, path, s.from, deadline)
	case domain.DEXTypeAlgebra:
		data, err = contracts.AlgebraRouter.Pack("exactInputSingle", contracts.ExactInputSingleParams{
			TokenIn:          req.TokenIn.Address,
			TokenOut:         req.TokenOut.Address,
			Recipient:        s.from,
			Deadline:         deadline,
			AmountIn:         amountIn,
			AmountOutMinimum: minOut,
			LimitSqrtPrice:   big.NewInt(0),
		})
	default:
		return "", fmt.Errorf("chain: submit %s: %w: dex %s of type %s cannot swap", req.AttemptID, domain.ErrSubmissionRejected, dex.Name, dex.Type)
	}
	if err != nil {
		return "", fmt.Errorf("chain: submit %s: %w: pack: %w", req.AttemptID, domain.ErrSubmissionRejected, err)
	}

	if err := s.ensureAllowance(ctx, req.TokenIn.Address, dex.Router, amountIn); err != nil {
		return "", fmt.Errorf("chain: submit %s: approve: %w", req.AttemptID, err)
	}

	hash, err := s.send(ctx, dex.Router, data)
	if err != nil {
		return "", fmt.Errorf("chain: submit %s: %w", req.AttemptID, err)
	}

	s.outMu.Lock()
	s.pending[hash] = req.TokenOut
	s.outMu.Unlock()

	s.logger.InfoContext(ctx, "swap submitted",
		slog.String("attempt_id", req.AttemptID),
		slog.String("dex", dex.Name),
		slog.String("tx_hash", hash.Hex()),
		slog.String("amount_in", req.AmountIn.String()),
		slog.String("min_out", req.MinAmountOut.String()),
	)
	return hash.Hex(), nil
}

// ensureAllowance sends an unlimited approve when the router allowance is
// below amount. Approvals are remembered for the process lifetime.
func (s *Submitter) ensureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	k := allowanceKey{token: token, spender: spender}
	s.mu.Lock()
	done := s.approved[k]
	s.mu.Unlock()
	if done {
		return nil
	}

	vals, err := contracts.Call(ctx, s.backend, contracts.ERC20, token, "allowance", s.from, spender)
	if err != nil {
		return classifySubmit(err)
	}
	current, err := contracts.BigOut(vals, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	if current.Cmp(amount) < 0 {
		data, err := contracts.ERC20.Pack("approve", spender, maxUint256)
		if err != nil {
			return fmt.Errorf("%w: pack approve: %w", domain.ErrSubmissionRejected, err)
		}
		hash, err := s.send(ctx, token, data)
		if err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "router approved",
			slog.String("token", token.Hex()),
			slog.String("spender", spender.Hex()),
			slog.String("tx_hash", hash.Hex()),
		)
	}

	s.mu.Lock()
	s.approved[k] = true
	s.mu.Unlock()
	return nil
}

// send signs a legacy transaction with the next nonce and broadcasts it.
func (s *Submitter) send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.nonceLoaded {
		n, err := s.backend.PendingNonceAt(ctx, s.from)
		if err != nil {
			return common.Hash{}, fmt.Errorf("%w: nonce: %w", domain.ErrSubmissionRejected, err)
		}
		s.nonce, s.nonceLoaded = n, true
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    s.nonce,
		GasPrice: s.cfg.GasPriceWei,
		Gas:      s.cfg.GasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign: %w", domain.ErrSubmissionRejected, err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		err = classifySubmit(err)
		if errors.Is(err, domain.ErrSubmissionRejected) {
			// The node refused it; reload the nonce next time in case ours drifted.
			s.nonceLoaded = false
		} else {
			// Unknown outcome: the nonce may be consumed.
			s.nonce++
		}
		return common.Hash{}, err
	}
	s.nonce++
	return signed.Hash(), nil
}

var rejectMarkers = []string{
	"nonce too low",
	"nonce too high",
	"invalid nonce",
	"insufficient funds",
	"underpriced",
	"intrinsic gas",
	"exceeds block gas limit",
	"gas limit reached",
	"invalid sender",
	"fee cap",
}

// classifySubmit maps a node error to ErrSubmissionRejected when the node
// definitely refused the transaction and to ErrNetwork otherwise.
func classifySubmit(err error) error {
	msg := strings.ToLower(err.Error())
	for _, m := range rejectMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", domain.ErrSubmissionRejected, err)
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
}

// Receipt returns the mined outcome of txHash. The realized output is the sum
// of ERC20 Transfer logs of the expected out-token to the wallet.
func (s *Submitter) Receipt(ctx context.Context, txHash string) (domain.Receipt, error) {
	hash := common.HexToHash(txHash)
	r, err := s.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return domain.Receipt{}, fmt.Errorf("chain: receipt %s: %w", txHash, domain.ErrReceiptPending)
	}
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: receipt %s: %w: %w", txHash, domain.ErrNetwork, err)
	}

	s.outMu.Lock()
	tokenOut, known := s.pending[hash]
	delete(s.pending, hash)
	s.outMu.Unlock()

	price := r.EffectiveGasPrice
	if price == nil {
		price = s.cfg.GasPriceWei
	}
	gasWei := new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), price)

	out := domain.Receipt{
		TxHash:  txHash,
		Status:  domain.ReceiptReverted,
		GasUsed: r.GasUsed,
		GasCost: contracts.WeiToNative(gasWei),
	}
	if r.Status == types.ReceiptStatusSuccessful {
		out.Status = domain.ReceiptSuccess
		if known {
			out.AmountOut = contracts.FromUnits(TransferredTo(r.Logs, tokenOut.Address, s.from), tokenOut.Decimals)
		}
	}
	return out, nil
}

// TransferredTo sums ERC20 Transfer amounts of token credited to recipient.
func TransferredTo(logs []*types.Log, token, recipient common.Address) *big.Int {
	total := new(big.Int)
	for _, l := range logs {
		if l == nil || l.Address != token || len(l.Topics) != 3 || l.Topics[0] != contracts.TransferTopic {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != recipient {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(l.Data))
	}
	return total
}
