package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/brojonat/nftstake/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is the subset of the Solana RPC API the builder needs.
// Tests substitute an in-memory fake.
type RPCClient interface {
	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetAccountInfoOpts,
	) (*rpc.GetAccountInfoResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetMinimumBalanceForRentExemption(
		ctx context.Context,
		dataSize uint64,
		commitment rpc.CommitmentType,
	) (uint64, error)

	SendRawTransaction(
		ctx context.Context,
		rawTx []byte,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

const (
	// DefaultSubmitMaxRetries is how many times the RPC node rebroadcasts a send.
	DefaultSubmitMaxRetries uint = 3

	defaultReadAttempts uint = 3
	defaultRetryDelay        = 500 * time.Millisecond
)

// ClientConfig configures a Client. Zero values take defaults.
type ClientConfig struct {
	ProgramID        solana.PublicKey
	Endpoint         string // metrics label; a URL is reduced with EndpointLabel
	SubmitMaxRetries *uint // nil means DefaultSubmitMaxRetries; zero disables node rebroadcast
	ReadAttempts     uint
	RetryDelay       time.Duration
}

// Client assembles and submits staking program transactions.
type Client struct {
	rpc              RPCClient
	programID        solana.PublicKey
	endpoint         string
	submitMaxRetries uint
	readAttempts     uint
	retryDelay       time.Duration
	metrics          *metrics.Metrics
	logger           *slog.Logger
}

// NewClient creates a staking client. If m is nil, no metrics are recorded.
func NewClient(rpcClient RPCClient, cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = DefaultProgramID
	}
	if strings.Contains(cfg.Endpoint, "://") {
		cfg.Endpoint = EndpointLabel(cfg.Endpoint)
	}
	if cfg.SubmitMaxRetries == nil {
		retries := DefaultSubmitMaxRetries
		cfg.SubmitMaxRetries = &retries
	}
	if cfg.ReadAttempts == 0 {
		cfg.ReadAttempts = defaultReadAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Client{
		rpc:              rpcClient,
		programID:        cfg.ProgramID,
		endpoint:         cfg.Endpoint,
		submitMaxRetries: *cfg.SubmitMaxRetries,
		readAttempts:     cfg.ReadAttempts,
		retryDelay:       cfg.RetryDelay,
		metrics:          m,
		logger:           logger,
	}
}

// ProgramID returns the staking program this client targets.
func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

// Addresses derives every account for owner and an optional mint.
func (c *Client) Addresses(owner solana.PublicKey, mint *solana.PublicKey) (*Addresses, error) {
	return DeriveAddresses(c.programID, owner, mint)
}

// AccountState is the result of an existence probe.
type AccountState struct {
	Address  solana.PublicKey
	Exists   bool
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// ProbeAccount reports whether address exists on chain, returning its raw data
// when it does. A missing account is not an error.
func (c *Client) ProbeAccount(ctx context.Context, address solana.PublicKey) (*AccountState, error) {
	var result *rpc.GetAccountInfoResult
	err := c.withRetry(ctx, "GetAccountInfo", func() error {
		var err error
		result, err = c.rpc.GetAccountInfo(ctx, address, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: rpc.CommitmentConfirmed,
		})
		return err
	})

	state := &AccountState{Address: address}
	if errors.Is(err, rpc.ErrNotFound) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account info for %s: %w", address, err)
	}
	if result == nil || result.Value == nil {
		return state, nil
	}

	state.Exists = true
	state.Owner = result.Value.Owner
	state.Lamports = result.Value.Lamports
	if result.Value.Data != nil {
		state.Data = result.Value.Data.GetBinary()
	}
	return state, nil
}

// ATAPlan lists the associated token account creations a transaction needs and
// the destination account for each mint.
type ATAPlan struct {
	Instructions        []solana.Instruction
	DestinationAccounts []solana.PublicKey
}

// ATokenAccountsNeedCreate checks ATA(owner, mint) for every mint and, when
// payer differs from owner, ATA(payer, mint) too. Missing accounts get a
// creation instruction paid by payer.
func (c *Client) ATokenAccountsNeedCreate(ctx context.Context, payer, owner solana.PublicKey, mints []solana.PublicKey) (*ATAPlan, error) {
	plan := &ATAPlan{}
	for _, mint := range mints {
		dest, err := AssociatedTokenAddress(owner, mint)
		if err != nil {
			return nil, err
		}
		state, err := c.ProbeAccount(ctx, dest)
		if err != nil {
			return nil, err
		}
		if !state.Exists {
			plan.Instructions = append(plan.Instructions, NewCreateAssociatedTokenAccountInstruction(payer, owner, mint))
		}
		plan.DestinationAccounts = append(plan.DestinationAccounts, dest)

		if payer.Equals(owner) {
			continue
		}
		payerATA, err := AssociatedTokenAddress(payer, mint)
		if err != nil {
			return nil, err
		}
		state, err = c.ProbeAccount(ctx, payerATA)
		if err != nil {
			return nil, err
		}
		if !state.Exists {
			plan.Instructions = append(plan.Instructions, NewCreateAssociatedTokenAccountInstruction(payer, payer, mint))
		}
	}
	return plan, nil
}

// BuiltTransaction is an unsigned transaction plus what went into it.
type BuiltTransaction struct {
	Action               Action
	Transaction          *solana.Transaction
	Addresses            *Addresses
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
	InitializesPool      bool
}

// BuildTransaction dispatches to the builder for action. mint is ignored for init.
func (c *Client) BuildTransaction(ctx context.Context, action Action, owner solana.PublicKey, mint *solana.PublicKey) (*BuiltTransaction, error) {
	switch action {
	case ActionInit:
		return c.BuildInitUserPoolTx(ctx, owner)
	case ActionStake, ActionWithdraw:
		if mint == nil || mint.IsZero() {
			return nil, ErrMintRequired
		}
		if action == ActionStake {
			return c.BuildStakeTx(ctx, owner, *mint)
		}
		return c.BuildWithdrawTx(ctx, owner, *mint)
	}
	return nil, ErrUnknownAction
}

// BuildInitUserPoolTx assembles CreateAccountWithSeed followed by initializeFixedPool.
func (c *Client) BuildInitUserPoolTx(ctx context.Context, owner solana.PublicKey) (*BuiltTransaction, error) {
	addrs, err := c.Addresses(owner, nil)
	if err != nil {
		return nil, err
	}
	instructions, err := c.initUserPoolInstructions(ctx, owner, addrs.UserPool)
	if err != nil {
		c.recordBuilt(ActionInit, err)
		return nil, err
	}
	built, err := c.finalize(ctx, ActionInit, owner, instructions)
	if err != nil {
		return nil, err
	}
	built.Addresses = addrs
	built.InitializesPool = true
	return built, nil
}

// BuildStakeTx assembles a stake of mint for owner. When the owner's pool does
// not exist yet, its initialization is prepended to the same transaction.
func (c *Client) BuildStakeTx(ctx context.Context, owner, mint solana.PublicKey) (*BuiltTransaction, error) {
	addrs, err := c.Addresses(owner, &mint)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "building stake transaction",
		"owner", owner.String(),
		"mint", mint.String(),
		"user_pool", addrs.UserPool.String(),
		"global_authority", addrs.GlobalAuthority.String(),
	)

	var instructions []solana.Instruction

	pool, err := c.ProbeAccount(ctx, addrs.UserPool)
	if err != nil {
		c.recordBuilt(ActionStake, err)
		return nil, err
	}
	if !pool.Exists {
		initIxs, err := c.initUserPoolInstructions(ctx, owner, addrs.UserPool)
		if err != nil {
			c.recordBuilt(ActionStake, err)
			return nil, err
		}
		instructions = append(instructions, initIxs...)
		if c.metrics != nil {
			c.metrics.RecordPoolInitPrepended()
		}
		c.logger.InfoContext(ctx, "user pool missing, prepending initialization",
			"owner", owner.String(),
			"user_pool", addrs.UserPool.String(),
		)
	}

	plan, err := c.ATokenAccountsNeedCreate(ctx, owner, addrs.GlobalAuthority, []solana.PublicKey{mint})
	if err != nil {
		c.recordBuilt(ActionStake, err)
		return nil, err
	}
	instructions = append(instructions, plan.Instructions...)

	stakeIx, err := NewStakeNftToFixedInstruction(c.programID, StakeNftToFixedAccounts{
		Owner:            owner,
		UserFixedPool:    addrs.UserPool,
		GlobalAuthority:  addrs.GlobalAuthority,
		UserTokenAccount: *addrs.UserTokenAccount,
		DestTokenAccount: plan.DestinationAccounts[0],
		NftMint:          mint,
		MintMetadata:     *addrs.Metadata,
	})
	if err != nil {
		c.recordBuilt(ActionStake, err)
		return nil, err
	}
	instructions = append(instructions, stakeIx)

	built, err := c.finalize(ctx, ActionStake, owner, instructions)
	if err != nil {
		return nil, err
	}
	built.Addresses = addrs
	built.InitializesPool = !pool.Exists
	return built, nil
}

// BuildWithdrawTx assembles a withdrawal of mint back to owner.
func (c *Client) BuildWithdrawTx(ctx context.Context, owner, mint solana.PublicKey) (*BuiltTransaction, error) {
	addrs, err := c.Addresses(owner, &mint)
	if err != nil {
		return nil, err
	}

	plan, err := c.ATokenAccountsNeedCreate(ctx, owner, addrs.GlobalAuthority, []solana.PublicKey{mint})
	if err != nil {
		c.recordBuilt(ActionWithdraw, err)
		return nil, err
	}
	instructions := append([]solana.Instruction{}, plan.Instructions...)

	withdrawIx, err := NewWithdrawNftFromFixedInstruction(c.programID, addrs.GlobalBump, WithdrawNftFromFixedAccounts{
		Owner:            owner,
		UserFixedPool:    addrs.UserPool,
		GlobalAuthority:  addrs.GlobalAuthority,
		UserTokenAccount: *addrs.UserTokenAccount,
		DestTokenAccount: plan.DestinationAccounts[0],
		NftMint:          mint,
	})
	if err != nil {
		c.recordBuilt(ActionWithdraw, err)
		return nil, err
	}
	instructions = append(instructions, withdrawIx)

	built, err := c.finalize(ctx, ActionWithdraw, owner, instructions)
	if err != nil {
		return nil, err
	}
	built.Addresses = addrs
	return built, nil
}

func (c *Client) initUserPoolInstructions(ctx context.Context, owner, userPool solana.PublicKey) ([]solana.Instruction, error) {
	start := time.Now()
	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, UserPoolSize, rpc.CommitmentFinalized)
	c.recordRPC("GetMinimumBalanceForRentExemption", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get rent exemption for user pool: %w", err)
	}

	createIx, err := CreateUserPoolAccountInstruction(owner, userPool, c.programID, lamports)
	if err != nil {
		return nil, err
	}
	initIx, err := NewInitializeFixedPoolInstruction(c.programID, InitializeFixedPoolAccounts{
		UserFixedPool: userPool,
		Owner:         owner,
	})
	if err != nil {
		return nil, err
	}
	return []solana.Instruction{createIx, initIx}, nil
}

// finalize attaches the fee payer and a fresh blockhash.
func (c *Client) finalize(ctx context.Context, action Action, payer solana.PublicKey, instructions []solana.Instruction) (*BuiltTransaction, error) {
	var blockhash *rpc.GetLatestBlockhashResult
	err := c.withRetry(ctx, "GetLatestBlockhash", func() error {
		var err error
		blockhash, err = c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		return err
	})
	if err != nil {
		c.recordBuilt(action, err)
		return nil, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if blockhash == nil || blockhash.Value == nil {
		err := errors.New("empty blockhash response")
		c.recordBuilt(action, err)
		return nil, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		c.recordBuilt(action, err)
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	c.recordBuilt(action, nil)

	c.logger.DebugContext(ctx, "transaction assembled",
		"action", string(action),
		"payer", payer.String(),
		"instructions", len(instructions),
		"blockhash", blockhash.Value.Blockhash.String(),
	)

	return &BuiltTransaction{
		Action:               action,
		Transaction:          tx,
		Blockhash:            blockhash.Value.Blockhash,
		LastValidBlockHeight: blockhash.Value.LastValidBlockHeight,
	}, nil
}

// Submit has wallet sign tx and sends the raw bytes. The signature is returned
// on success; signing and RPC failures are returned as errors.
func (c *Client) Submit(ctx context.Context, wallet Wallet, tx *solana.Transaction) (solana.Signature, error) {
	if wallet == nil || wallet.PublicKey().IsZero() {
		return solana.Signature{}, ErrWalletNotConnected
	}
	signed, err := wallet.SignTransaction(ctx, tx)
	if err != nil {
		c.logger.WarnContext(ctx, "wallet did not sign transaction",
			"wallet", wallet.PublicKey().String(),
			"error", err,
		)
		return solana.Signature{}, fmt.Errorf("%w: %w", ErrSigningRejected, err)
	}
	return c.SubmitSigned(ctx, signed)
}

// SubmitSigned sends an already signed transaction with preflight skipped and
// the configured node-side retry count.
func (c *Client) SubmitSigned(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	maxRetries := c.submitMaxRetries
	start := time.Now()
	sig, err := c.rpc.SendRawTransaction(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentFinalized,
		MaxRetries:          &maxRetries,
	})
	c.recordRPC("SendTransaction", start, err)

	status := "success"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.RecordTransactionSubmitted(status, c.endpoint)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to send transaction", "error", err)
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.InfoContext(ctx, "transaction submitted", "signature", sig.String())
	return sig, nil
}

// InitUserPool builds, signs and submits a pool initialization for wallet.
func (c *Client) InitUserPool(ctx context.Context, wallet Wallet) (solana.Signature, error) {
	if wallet == nil || wallet.PublicKey().IsZero() {
		return solana.Signature{}, ErrWalletNotConnected
	}
	built, err := c.BuildInitUserPoolTx(ctx, wallet.PublicKey())
	if err != nil {
		return solana.Signature{}, err
	}
	return c.Submit(ctx, wallet, built.Transaction)
}

// StakeNFT stakes mint from wallet. setLoading, if non-nil, is called with
// true once work starts and with false when it ends, whatever the outcome.
func (c *Client) StakeNFT(ctx context.Context, wallet Wallet, mint solana.PublicKey, setLoading func(bool)) (solana.Signature, error) {
	return c.run(ctx, ActionStake, wallet, mint, setLoading)
}

// WithdrawNFT withdraws mint back to wallet. setLoading behaves as in StakeNFT.
func (c *Client) WithdrawNFT(ctx context.Context, wallet Wallet, mint solana.PublicKey, setLoading func(bool)) (solana.Signature, error) {
	return c.run(ctx, ActionWithdraw, wallet, mint, setLoading)
}

func (c *Client) run(ctx context.Context, action Action, wallet Wallet, mint solana.PublicKey, setLoading func(bool)) (solana.Signature, error) {
	if wallet == nil || wallet.PublicKey().IsZero() {
		return solana.Signature{}, ErrWalletNotConnected
	}
	if setLoading != nil {
		setLoading(true)
		defer setLoading(false)
	}

	owner := wallet.PublicKey()
	c.logger.InfoContext(ctx, "staking action started",
		"action", string(action),
		"owner", owner.String(),
		"mint", mint.String(),
	)

	built, err := c.BuildTransaction(ctx, action, owner, &mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build %s transaction: %w", action, err)
	}
	sig, err := c.Submit(ctx, wallet, built.Transaction)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to submit %s transaction: %w", action, err)
	}
	return sig, nil
}

// GetUserPoolState fetches and decodes owner's pool. ErrUserPoolNotFound is
// returned when the account does not exist.
func (c *Client) GetUserPoolState(ctx context.Context, owner solana.PublicKey) (*UserPool, error) {
	addr, err := UserPoolAddress(owner, c.programID)
	if err != nil {
		return nil, err
	}
	state, err := c.ProbeAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !state.Exists {
		return nil, ErrUserPoolNotFound
	}
	pool, err := DecodeUserPool(state.Data)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "user pool loaded",
		"owner", owner.String(),
		"item_count", pool.ItemCount,
		"xp_gained", pool.XPGained,
	)
	return pool, nil
}

// GetXPGained returns the experience points accrued in owner's pool.
func (c *Client) GetXPGained(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	pool, err := c.GetUserPoolState(ctx, owner)
	if err != nil {
		return 0, err
	}
	return pool.XPGained, nil
}

// SubmissionStatus is the lifecycle state of a submitted transaction.
type SubmissionStatus string

const (
	StatusSubmitted SubmissionStatus = "submitted"
	StatusProcessed SubmissionStatus = "processed"
	StatusConfirmed SubmissionStatus = "confirmed"
	StatusFinalized SubmissionStatus = "finalized"
	StatusFailed    SubmissionStatus = "failed"
)

// Settled reports whether no further polling is useful.
func (s SubmissionStatus) Settled() bool {
	return s == StatusConfirmed || s == StatusFinalized || s == StatusFailed
}

// SignatureStatus is the cluster's view of a signature.
type SignatureStatus struct {
	Signature     string           `json:"signature"`
	Status        SubmissionStatus `json:"status"`
	Slot          uint64           `json:"slot,omitempty"`
	Confirmations *uint64          `json:"confirmations,omitempty"`
	Err           string           `json:"error,omitempty"`
}

// SignatureStatus looks sig up, searching transaction history.
// An unknown signature yields StatusSubmitted.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	c.recordRPC("GetSignatureStatuses", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}

	result := &SignatureStatus{Signature: sig.String(), Status: StatusSubmitted}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return result, nil
	}

	st := out.Value[0]
	result.Slot = st.Slot
	result.Confirmations = st.Confirmations
	if st.Err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Sprintf("%v", st.Err)
		return result, nil
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		result.Status = StatusFinalized
	case rpc.ConfirmationStatusConfirmed:
		result.Status = StatusConfirmed
	case rpc.ConfirmationStatusProcessed:
		result.Status = StatusProcessed
	}
	return result, nil
}

// withRetry retries transient read failures. rpc.ErrNotFound is final.
func (c *Client) withRetry(ctx context.Context, method string, fn func() error) error {
	return retry.Do(
		func() error {
			start := time.Now()
			err := fn()
			if errors.Is(err, rpc.ErrNotFound) {
				c.recordRPC(method, start, nil)
			} else {
				c.recordRPC(method, start, err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.readAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, rpc.ErrNotFound)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.WarnContext(ctx, "retrying rpc call",
				"method", method,
				"attempt", n+1,
				"error", err,
			)
			if c.metrics != nil {
				c.metrics.RecordRPCRetry(method, "error")
			}
		}),
	)
}

func (c *Client) recordRPC(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

func (c *Client) recordBuilt(action Action, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordTransactionBuilt(string(action), status)
}
