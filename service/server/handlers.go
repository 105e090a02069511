package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/nftstake/service/db"
	"github.com/brojonat/nftstake/service/staking"
	"github.com/brojonat/nftstake/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 64      // base58 of 32 bytes is at most 44 chars
	defaultListLimit   = 100
	maxListLimit       = 1000
)

// StakingService is the part of staking.Client the handlers use.
type StakingService interface {
	ProgramID() solanago.PublicKey
	Addresses(owner solanago.PublicKey, mint *solanago.PublicKey) (*staking.Addresses, error)
	GetUserPoolState(ctx context.Context, owner solanago.PublicKey) (*staking.UserPool, error)
	BuildTransaction(ctx context.Context, action staking.Action, owner solanago.PublicKey, mint *solanago.PublicKey) (*staking.BuiltTransaction, error)
	SubmitSigned(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
}

// SubmissionStore is the part of db.Store the handlers use.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, params db.CreateSubmissionParams) (*db.Submission, error)
	GetSubmission(ctx context.Context, signature string) (*db.Submission, error)
	ListSubmissionsByOwner(ctx context.Context, params db.ListSubmissionsByOwnerParams) ([]*db.Submission, error)
}

// handleGetAddresses returns a handler that derives the program addresses for an owner.
// GET /api/v1/programs/addresses?owner={owner}&mint={mint}
func handleGetAddresses(svc StakingService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		owner, err := parsePublicKey("owner", query.Get("owner"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var mint *solanago.PublicKey
		if raw := query.Get("mint"); raw != "" {
			m, err := parsePublicKey("mint", raw)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			mint = &m
		}

		addrs, err := svc.Addresses(owner, mint)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to derive addresses", "owner", owner.String(), "error", err)
			writeError(w, "failed to derive addresses", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"program_id": svc.ProgramID().String(),
			"addresses":  addrs,
		}, http.StatusOK)
	})
}

// handleGetUserPool returns a handler that reads and decodes an owner's pool.
// GET /api/v1/pools/{owner}
func handleGetUserPool(svc StakingService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pool, ok := loadUserPool(w, r, svc, logger)
		if !ok {
			return
		}
		addr, err := staking.UserPoolAddress(pool.Owner, svc.ProgramID())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to derive user pool address", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, pool.View(addr), http.StatusOK)
	})
}

// handleGetXP returns a handler that reports an owner's accrued experience points.
// GET /api/v1/pools/{owner}/xp
func handleGetXP(svc StakingService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pool, ok := loadUserPool(w, r, svc, logger)
		if !ok {
			return
		}
		writeJSON(w, map[string]interface{}{
			"owner":     pool.Owner.String(),
			"xp_gained": pool.XPGained,
		}, http.StatusOK)
	})
}

// loadUserPool fetches the pool for the {owner} path value, writing an error
// response and returning false on failure.
func loadUserPool(w http.ResponseWriter, r *http.Request, svc StakingService, logger *slog.Logger) (*staking.UserPool, bool) {
	owner, err := parsePublicKey("owner", r.PathValue("owner"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}

	pool, err := svc.GetUserPoolState(r.Context(), owner)
	if err != nil {
		if errors.Is(err, staking.ErrUserPoolNotFound) {
			writeError(w, "user pool not found", http.StatusNotFound)
			return nil, false
		}
		if errors.Is(err, staking.ErrInvalidUserPool) {
			logger.WarnContext(r.Context(), "account is not a user pool", "owner", owner.String(), "error", err)
			writeError(w, "account is not a user pool", http.StatusUnprocessableEntity)
			return nil, false
		}
		logger.ErrorContext(r.Context(), "failed to load user pool", "owner", owner.String(), "error", err)
		writeError(w, "failed to load user pool", http.StatusBadGateway)
		return nil, false
	}
	return pool, true
}

type buildTransactionRequest struct {
	Owner string `json:"owner"`
	Mint  string `json:"mint"`
}

type buildTransactionResponse struct {
	Action               string             `json:"action"`
	Transaction          string             `json:"transaction"`
	Blockhash            string             `json:"blockhash"`
	LastValidBlockHeight uint64             `json:"last_valid_block_height"`
	FeePayer             string             `json:"fee_payer"`
	Programs             []string           `json:"programs"`
	InitializesPool      bool               `json:"initializes_pool"`
	Addresses            *staking.Addresses `json:"addresses"`
}

// handleBuildTransaction returns a handler that assembles an unsigned
// transaction for a browser wallet to sign.
// POST /api/v1/transactions/{action}
func handleBuildTransaction(svc StakingService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action, err := staking.ParseAction(r.PathValue("action"))
		if err != nil {
			writeError(w, "invalid action: must be 'init', 'stake' or 'withdraw'", http.StatusBadRequest)
			return
		}

		var req buildTransactionRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}

		owner, err := parsePublicKey("owner", req.Owner)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var mint *solanago.PublicKey
		if action != staking.ActionInit {
			m, err := parsePublicKey("mint", req.Mint)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			mint = &m
		}

		built, err := svc.BuildTransaction(r.Context(), action, owner, mint)
		if err != nil {
			if errors.Is(err, staking.ErrMintRequired) || errors.Is(err, staking.ErrUnknownAction) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.ErrorContext(r.Context(), "failed to build transaction",
				"action", action,
				"owner", owner.String(),
				"error", err,
			)
			writeError(w, "failed to build transaction", http.StatusBadGateway)
			return
		}

		encoded, err := built.Transaction.ToBase64()
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to encode transaction", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		programs, err := built.Transaction.GetProgramIDs()
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to resolve program ids", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		programNames := make([]string, len(programs))
		for i, p := range programs {
			programNames[i] = p.String()
		}

		logger.InfoContext(r.Context(), "transaction built",
			"action", action,
			"owner", owner.String(),
			"initializes_pool", built.InitializesPool,
		)

		writeJSON(w, buildTransactionResponse{
			Action:               string(built.Action),
			Transaction:          encoded,
			Blockhash:            built.Blockhash.String(),
			LastValidBlockHeight: built.LastValidBlockHeight,
			FeePayer:             owner.String(),
			Programs:             programNames,
			InitializesPool:      built.InitializesPool,
			Addresses:            built.Addresses,
		}, http.StatusOK)
	})
}

type submitTransactionRequest struct {
	Transaction string `json:"transaction"`
	Action      string `json:"action"`
	Mint        string `json:"mint"`
}

// handleSubmitTransaction returns a handler that sends a wallet-signed
// transaction, records it and starts confirmation tracking.
// POST /api/v1/transactions/submit
func handleSubmitTransaction(svc StakingService, store SubmissionStore, starter temporal.ConfirmationStarter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req submitTransactionRequest
		if !decodeBody(w, r, &req, logger) {
			return
		}

		action, err := staking.ParseAction(req.Action)
		if err != nil {
			writeError(w, "invalid action: must be 'init', 'stake' or 'withdraw'", http.StatusBadRequest)
			return
		}

		var mint *string
		if action != staking.ActionInit {
			m, err := parsePublicKey("mint", req.Mint)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			s := m.String()
			mint = &s
		}

		if req.Transaction == "" {
			writeError(w, "transaction is required", http.StatusBadRequest)
			return
		}
		tx, err := solanago.TransactionFromBase64(req.Transaction)
		if err != nil {
			writeError(w, "invalid transaction: must be base64 encoded", http.StatusBadRequest)
			return
		}
		signers := tx.Message.Signers()
		if len(signers) == 0 || len(tx.Signatures) == 0 {
			writeError(w, "transaction has no signers", http.StatusBadRequest)
			return
		}
		if err := tx.VerifySignatures(); err != nil {
			writeError(w, fmt.Sprintf("invalid transaction signatures: %v", err), http.StatusBadRequest)
			return
		}
		owner := signers[0]

		userPool, err := staking.UserPoolAddress(owner, svc.ProgramID())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to derive user pool address", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		sig, err := svc.SubmitSigned(r.Context(), tx)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to submit transaction",
				"owner", owner.String(),
				"action", action,
				"error", err,
			)
			writeError(w, fmt.Sprintf("failed to submit transaction: %v", err), http.StatusBadGateway)
			return
		}

		sub, err := store.CreateSubmission(r.Context(), db.CreateSubmissionParams{
			Signature: sig.String(),
			Owner:     owner.String(),
			Action:    string(action),
			Mint:      mint,
			UserPool:  userPool.String(),
		})
		if err != nil {
			// The transaction is already on its way; report the signature anyway.
			logger.ErrorContext(r.Context(), "failed to record submission",
				"signature", sig.String(),
				"error", err,
			)
			writeJSON(w, map[string]interface{}{
				"signature": sig.String(),
				"status":    string(staking.StatusSubmitted),
				"warning":   "submission was sent but could not be recorded",
			}, http.StatusAccepted)
			return
		}

		resp := map[string]interface{}{
			"signature":  sub.Signature,
			"status":     sub.Status,
			"submission": submissionToResponse(sub),
		}

		workflowID, err := starter.StartConfirmation(r.Context(), temporal.ConfirmSubmissionInput{
			Signature: sub.Signature,
			Owner:     sub.Owner,
			Action:    sub.Action,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to start confirmation",
				"signature", sub.Signature,
				"error", err,
			)
			resp["warning"] = "confirmation tracking could not be started"
		} else {
			resp["workflow_id"] = workflowID
		}

		logger.InfoContext(r.Context(), "transaction submitted",
			"signature", sub.Signature,
			"owner", sub.Owner,
			"action", sub.Action,
		)

		writeJSON(w, resp, http.StatusAccepted)
	})
}

// handleGetSubmission returns a handler that retrieves one submission.
// GET /api/v1/submissions/{signature}
func handleGetSubmission(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		if _, err := solanago.SignatureFromBase58(signature); err != nil {
			writeError(w, "invalid signature", http.StatusBadRequest)
			return
		}

		sub, err := store.GetSubmission(r.Context(), signature)
		if err != nil {
			if errors.Is(err, db.ErrSubmissionNotFound) {
				writeError(w, "submission not found", http.StatusNotFound)
				return
			}
			logger.ErrorContext(r.Context(), "failed to get submission", "signature", signature, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, submissionToResponse(sub), http.StatusOK)
	})
}

// handleListSubmissions returns a handler that lists an owner's submissions.
// GET /api/v1/submissions?owner={owner}&limit=N&offset=N
func handleListSubmissions(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		owner := query.Get("owner")
		if owner == "" {
			writeError(w, "owner query parameter is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(owner); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := parseIntParam(query.Get("limit"), defaultListLimit)
		if err != nil {
			writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
			return
		}
		if limit < 1 {
			writeError(w, "limit must be at least 1", http.StatusBadRequest)
			return
		}
		if limit > maxListLimit {
			writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
			return
		}

		offset, err := parseIntParam(query.Get("offset"), 0)
		if err != nil {
			writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
			return
		}
		if offset < 0 {
			writeError(w, "offset cannot be negative", http.StatusBadRequest)
			return
		}

		subs, err := store.ListSubmissionsByOwner(r.Context(), db.ListSubmissionsByOwnerParams{
			Owner:  owner,
			Limit:  int32(limit),
			Offset: int32(offset),
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list submissions", "owner", owner, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]SubmissionResponse, len(subs))
		for i, sub := range subs {
			resp[i] = submissionToResponse(sub)
		}

		writeJSON(w, map[string]interface{}{
			"submissions": resp,
			"count":       len(resp),
			"limit":       limit,
			"offset":      offset,
		}, http.StatusOK)
	})
}

// SubmissionResponse is the JSON representation of a submission.
type SubmissionResponse struct {
	Signature string    `json:"signature"`
	Owner     string    `json:"owner"`
	Action    string    `json:"action"`
	Mint      *string   `json:"mint,omitempty"`
	UserPool  string    `json:"user_pool"`
	Status    string    `json:"status"`
	Slot      *int64    `json:"slot,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func submissionToResponse(s *db.Submission) SubmissionResponse {
	return SubmissionResponse{
		Signature: s.Signature,
		Owner:     s.Owner,
		Action:    s.Action,
		Mint:      s.Mint,
		UserPool:  s.UserPool,
		Status:    s.Status,
		Slot:      s.Slot,
		Error:     s.Error,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// decodeBody decodes a size-limited JSON body into v, writing a 400 and
// returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func parseIntParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress checks that address is a base58 encoded 32 byte public key.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	decoded, err := base58.Decode(address)
	if err != nil {
		return errorf("invalid address format: must contain only valid base58 characters")
	}
	if len(decoded) != solanago.PublicKeyLength {
		return errorf("invalid address: decodes to %d bytes, want %d", len(decoded), solanago.PublicKeyLength)
	}

	return nil
}

// parsePublicKey validates raw and converts it, naming field in errors.
func parsePublicKey(field, raw string) (solanago.PublicKey, error) {
	if raw == "" {
		return solanago.PublicKey{}, errorf("%s is required", field)
	}
	if err := validateAddress(raw); err != nil {
		return solanago.PublicKey{}, errorf("invalid %s: %v", field, err)
	}
	return solanago.PublicKeyFromBase58(raw)
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
