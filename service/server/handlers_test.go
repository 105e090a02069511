package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/nftstake/service/db"
	"github.com/brojonat/nftstake/service/staking"
	"github.com/brojonat/nftstake/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStaking is an in-memory StakingService.
type fakeStaking struct {
	mu sync.Mutex

	pools     map[solanago.PublicKey]*staking.UserPool
	poolErr   error
	buildErr  error
	submitErr error

	built     []staking.Action
	submitted []*solanago.Transaction
}

func newFakeStaking() *fakeStaking {
	return &fakeStaking{pools: make(map[solanago.PublicKey]*staking.UserPool)}
}

func (f *fakeStaking) ProgramID() solanago.PublicKey { return staking.DefaultProgramID }

func (f *fakeStaking) Addresses(owner solanago.PublicKey, mint *solanago.PublicKey) (*staking.Addresses, error) {
	return staking.DeriveAddresses(staking.DefaultProgramID, owner, mint)
}

func (f *fakeStaking) GetUserPoolState(ctx context.Context, owner solanago.PublicKey) (*staking.UserPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.poolErr != nil {
		return nil, f.poolErr
	}
	pool, ok := f.pools[owner]
	if !ok {
		return nil, staking.ErrUserPoolNotFound
	}
	return pool, nil
}

func (f *fakeStaking) BuildTransaction(ctx context.Context, action staking.Action, owner solanago.PublicKey, mint *solanago.PublicKey) (*staking.BuiltTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	f.built = append(f.built, action)

	blockhash := solanago.Hash{9, 9, 9}
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{system.NewTransferInstruction(1, owner, owner).Build()},
		blockhash,
		solanago.TransactionPayer(owner),
	)
	if err != nil {
		return nil, err
	}
	addrs, err := f.Addresses(owner, mint)
	if err != nil {
		return nil, err
	}
	_, hasPool := f.pools[owner]
	return &staking.BuiltTransaction{
		Action:               action,
		Transaction:          tx,
		Addresses:            addrs,
		Blockhash:            blockhash,
		LastValidBlockHeight: 1234,
		InitializesPool:      action == staking.ActionInit || !hasPool,
	}, nil
}

func (f *fakeStaking) SubmitSigned(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return solanago.Signature{}, f.submitErr
	}
	f.submitted = append(f.submitted, tx)
	return tx.Signatures[0], nil
}

// memStore is an in-memory SubmissionStore.
type memStore struct {
	mu        sync.Mutex
	subs      map[string]*db.Submission
	createErr error
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[string]*db.Submission)}
}

func (m *memStore) CreateSubmission(ctx context.Context, params db.CreateSubmissionParams) (*db.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	if existing, ok := m.subs[params.Signature]; ok {
		cp := *existing
		return &cp, nil
	}
	status := params.Status
	if status == "" {
		status = "submitted"
	}
	now := time.Now()
	sub := &db.Submission{
		Signature: params.Signature,
		Owner:     params.Owner,
		Action:    params.Action,
		Mint:      params.Mint,
		UserPool:  params.UserPool,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.subs[sub.Signature] = sub
	cp := *sub
	return &cp, nil
}

func (m *memStore) GetSubmission(ctx context.Context, signature string) (*db.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[signature]
	if !ok {
		return nil, db.ErrSubmissionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memStore) ListSubmissionsByOwner(ctx context.Context, params db.ListSubmissionsByOwnerParams) ([]*db.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.Submission
	for _, sub := range m.subs {
		if sub.Owner == params.Owner {
			cp := *sub
			out = append(out, &cp)
		}
	}
	start := int(params.Offset)
	if start > len(out) {
		start = len(out)
	}
	end := start + int(params.Limit)
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	svc     *fakeStaking
	store   *memStore
	starter *temporal.MockStarter
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		svc:     newFakeStaking(),
		store:   newMemStore(),
		starter: temporal.NewMockStarter(),
	}
	ts.handler = New(":0", ts.svc, ts.store, ts.starter, nil, nil, testLogger()).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func newKey(t *testing.T) solanago.PrivateKey {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// signedTransaction returns a base64 transaction signed by key.
func signedTransaction(t *testing.T, key solanago.PrivateKey) string {
	t.Helper()
	owner := key.PublicKey()
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{system.NewTransferInstruction(1, owner, owner).Build()},
		solanago.Hash{1},
		solanago.TransactionPayer(owner),
	)
	require.NoError(t, err)
	_, err = tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
		if pub.Equals(owner) {
			return &key
		}
		return nil
	})
	require.NoError(t, err)
	encoded, err := tx.ToBase64()
	require.NoError(t, err)
	return encoded
}

func TestValidateAddress(t *testing.T) {
	valid := solanago.NewWallet().PublicKey().String()

	tests := []struct {
		name    string
		address string
		wantErr string
	}{
		{name: "valid public key", address: valid},
		{name: "system program", address: solanago.SystemProgramID.String()},
		{name: "empty", address: "", wantErr: "address is required"},
		{name: "too long", address: strings.Repeat("A", 500), wantErr: "address too long"},
		{name: "null byte", address: "abc\x00def", wantErr: "control characters"},
		{name: "non-base58 characters", address: "0OIl" + valid[4:], wantErr: "valid base58"},
		{name: "sql injection attempt", address: "wallet'; DROP TABLE stake_submissions; --", wantErr: "valid base58"},
		{name: "wrong length", address: "abc", wantErr: "decodes to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAddress(tt.address)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetAddresses(t *testing.T) {
	ts := newTestServer(t)
	owner := solanago.NewWallet().PublicKey()
	mint := solanago.NewWallet().PublicKey()

	w := ts.do(t, "GET", "/api/v1/programs/addresses?owner="+owner.String()+"&mint="+mint.String(), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		ProgramID string            `json:"program_id"`
		Addresses staking.Addresses `json:"addresses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	expected, err := staking.DeriveAddresses(staking.DefaultProgramID, owner, &mint)
	require.NoError(t, err)
	assert.Equal(t, staking.DefaultProgramID.String(), resp.ProgramID)
	assert.Equal(t, expected.UserPool, resp.Addresses.UserPool)
	assert.Equal(t, expected.GlobalAuthority, resp.Addresses.GlobalAuthority)
	assert.Equal(t, expected.GlobalBump, resp.Addresses.GlobalBump)
	require.NotNil(t, resp.Addresses.UserTokenAccount)
	assert.Equal(t, *expected.UserTokenAccount, *resp.Addresses.UserTokenAccount)

	t.Run("missing owner", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/v1/programs/addresses", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeJSON(t, w)["error"], "owner is required")
	})

	t.Run("invalid mint", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/v1/programs/addresses?owner="+owner.String()+"&mint=bad", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeJSON(t, w)["error"], "invalid mint")
	})
}

func TestGetUserPool(t *testing.T) {
	ts := newTestServer(t)
	owner := solanago.NewWallet().PublicKey()
	nft := solanago.NewWallet().PublicKey()

	pool := &staking.UserPool{Owner: owner, ItemCount: 1, XPGained: 250}
	pool.Items[0] = staking.StakedNFT{NftAddr: nft, StakeTime: 1700000000}
	ts.svc.pools[owner] = pool

	t.Run("returns decoded pool", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/v1/pools/"+owner.String(), "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var view staking.UserPoolView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		assert.Equal(t, owner.String(), view.Owner)
		assert.Equal(t, uint64(1), view.ItemCount)
		assert.Equal(t, uint64(250), view.XPGained)
		require.Len(t, view.Items, 1)
		assert.Equal(t, nft.String(), view.Items[0].NftAddr)

		expectedAddr, err := staking.UserPoolAddress(owner, staking.DefaultProgramID)
		require.NoError(t, err)
		assert.Equal(t, expectedAddr.String(), view.Address)
	})

	t.Run("xp", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/v1/pools/"+owner.String()+"/xp", "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeJSON(t, w)
		assert.Equal(t, owner.String(), resp["owner"])
		assert.Equal(t, float64(250), resp["xp_gained"])
	})

	t.Run("absent pool is 404", func(t *testing.T) {
		other := solanago.NewWallet().PublicKey()
		w := ts.do(t, "GET", "/api/v1/pools/"+other.String(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "user pool not found", decodeJSON(t, w)["error"])
	})

	t.Run("invalid owner", func(t *testing.T) {
		w := ts.do(t, "GET", "/api/v1/pools/not-a-key/xp", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rpc failure is 502", func(t *testing.T) {
		ts.svc.poolErr = errors.New("rpc unavailable")
		defer func() { ts.svc.poolErr = nil }()
		w := ts.do(t, "GET", "/api/v1/pools/"+owner.String(), "")
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestBuildTransaction(t *testing.T) {
	owner := solanago.NewWallet().PublicKey()
	mint := solanago.NewWallet().PublicKey()

	tests := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
		checkResponse  func(t *testing.T, resp map[string]interface{})
	}{
		{
			name:           "stake returns unsigned transaction",
			path:           "/api/v1/transactions/stake",
			body:           `{"owner":"` + owner.String() + `","mint":"` + mint.String() + `"}`,
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, resp map[string]interface{}) {
				assert.Equal(t, "stake", resp["action"])
				assert.Equal(t, owner.String(), resp["fee_payer"])
				assert.Equal(t, float64(1234), resp["last_valid_block_height"])
				assert.Equal(t, true, resp["initializes_pool"])
				assert.Equal(t, []interface{}{solanago.SystemProgramID.String()}, resp["programs"])

				tx, err := solanago.TransactionFromBase64(resp["transaction"].(string))
				require.NoError(t, err)
				assert.Equal(t, owner, tx.Message.AccountKeys[0])
			},
		},
		{
			name:           "init ignores mint",
			path:           "/api/v1/transactions/init",
			body:           `{"owner":"` + owner.String() + `"}`,
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, resp map[string]interface{}) {
				assert.Equal(t, "init", resp["action"])
			},
		},
		{
			name:           "withdraw requires mint",
			path:           "/api/v1/transactions/withdraw",
			body:           `{"owner":"` + owner.String() + `"}`,
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, resp map[string]interface{}) {
				assert.Contains(t, resp["error"], "mint is required")
			},
		},
		{
			name:           "unknown action",
			path:           "/api/v1/transactions/burn",
			body:           `{"owner":"` + owner.String() + `"}`,
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, resp map[string]interface{}) {
				assert.Contains(t, resp["error"], "invalid action")
			},
		},
		{
			name:           "malformed JSON",
			path:           "/api/v1/transactions/stake",
			body:           `{"owner":`,
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, resp map[string]interface{}) {
				assert.Contains(t, resp["error"], "invalid request body")
			},
		},
		{
			name:           "body too large",
			path:           "/api/v1/transactions/stake",
			body:           `{"owner":"` + strings.Repeat("A", 2<<20) + `"}`,
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, resp map[string]interface{}) {
				assert.Contains(t, resp["error"], "request body too large")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(t, "POST", tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.checkResponse != nil {
				tt.checkResponse(t, decodeJSON(t, w))
			}
		})
	}
}

func TestBuildTransaction_RPCFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.buildErr = errors.New("failed to get latest blockhash: timeout")
	owner := solanago.NewWallet().PublicKey()

	w := ts.do(t, "POST", "/api/v1/transactions/init", `{"owner":"`+owner.String()+`"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "failed to build transaction", decodeJSON(t, w)["error"])
}

func TestSubmitTransaction(t *testing.T) {
	key := newKey(t)
	owner := key.PublicKey()
	mint := solanago.NewWallet().PublicKey()

	t.Run("records submission and starts confirmation", func(t *testing.T) {
		ts := newTestServer(t)
		body := `{"transaction":"` + signedTransaction(t, key) + `","action":"stake","mint":"` + mint.String() + `"}`

		w := ts.do(t, "POST", "/api/v1/transactions/submit", body)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		resp := decodeJSON(t, w)
		sig := resp["signature"].(string)
		assert.Equal(t, "submitted", resp["status"])
		assert.Equal(t, temporal.ConfirmationWorkflowID(sig), resp["workflow_id"])

		require.Len(t, ts.svc.submitted, 1)
		assert.Equal(t, ts.svc.submitted[0].Signatures[0].String(), sig)

		sub, err := ts.store.GetSubmission(context.Background(), sig)
		require.NoError(t, err)
		assert.Equal(t, owner.String(), sub.Owner)
		assert.Equal(t, "stake", sub.Action)
		require.NotNil(t, sub.Mint)
		assert.Equal(t, mint.String(), *sub.Mint)
		expectedPool, err := staking.UserPoolAddress(owner, staking.DefaultProgramID)
		require.NoError(t, err)
		assert.Equal(t, expectedPool.String(), sub.UserPool)

		started := ts.starter.Started()
		require.Len(t, started, 1)
		assert.Equal(t, sig, started[0].Signature)
		assert.Equal(t, owner.String(), started[0].Owner)
		assert.Equal(t, "stake", started[0].Action)
	})

	t.Run("unsigned transaction is rejected", func(t *testing.T) {
		ts := newTestServer(t)
		tx, err := solanago.NewTransaction(
			[]solanago.Instruction{system.NewTransferInstruction(1, owner, owner).Build()},
			solanago.Hash{1},
			solanago.TransactionPayer(owner),
		)
		require.NoError(t, err)
		unsigned, err := tx.ToBase64()
		require.NoError(t, err)

		w := ts.do(t, "POST", "/api/v1/transactions/submit", `{"transaction":"`+unsigned+`","action":"init"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeJSON(t, w)["error"], "invalid transaction signatures")
		assert.Empty(t, ts.svc.submitted)
		assert.Empty(t, ts.starter.Started())
	})

	t.Run("garbage transaction", func(t *testing.T) {
		ts := newTestServer(t)
		w := ts.do(t, "POST", "/api/v1/transactions/submit", `{"transaction":"!!!","action":"init"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("stake without mint", func(t *testing.T) {
		ts := newTestServer(t)
		body := `{"transaction":"` + signedTransaction(t, key) + `","action":"stake"}`
		w := ts.do(t, "POST", "/api/v1/transactions/submit", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeJSON(t, w)["error"], "mint is required")
	})

	t.Run("send failure surfaces to caller", func(t *testing.T) {
		ts := newTestServer(t)
		ts.svc.submitErr = errors.New("failed to send transaction: blockhash not found")
		body := `{"transaction":"` + signedTransaction(t, key) + `","action":"init"}`

		w := ts.do(t, "POST", "/api/v1/transactions/submit", body)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, decodeJSON(t, w)["error"], "blockhash not found")
		assert.Empty(t, ts.starter.Started())
	})

	t.Run("confirmation start failure still accepts", func(t *testing.T) {
		ts := newTestServer(t)
		ts.starter.SetStartError(errors.New("temporal unavailable"))
		body := `{"transaction":"` + signedTransaction(t, key) + `","action":"init"}`

		w := ts.do(t, "POST", "/api/v1/transactions/submit", body)
		require.Equal(t, http.StatusAccepted, w.Code)
		resp := decodeJSON(t, w)
		assert.Contains(t, resp["warning"], "confirmation tracking")
		assert.Nil(t, resp["workflow_id"])
	})

	t.Run("record failure still returns signature", func(t *testing.T) {
		ts := newTestServer(t)
		ts.store.createErr = errors.New("database down")
		body := `{"transaction":"` + signedTransaction(t, key) + `","action":"init"}`

		w := ts.do(t, "POST", "/api/v1/transactions/submit", body)
		require.Equal(t, http.StatusAccepted, w.Code)
		resp := decodeJSON(t, w)
		assert.NotEmpty(t, resp["signature"])
		assert.Contains(t, resp["warning"], "could not be recorded")
		assert.Empty(t, ts.starter.Started())
	})
}

func TestGetSubmission(t *testing.T) {
	ts := newTestServer(t)
	sig := solanago.Signature{7, 7, 7}.String()
	owner := solanago.NewWallet().PublicKey().String()
	_, err := ts.store.CreateSubmission(context.Background(), db.CreateSubmissionParams{
		Signature: sig,
		Owner:     owner,
		Action:    "init",
		UserPool:  "pool",
	})
	require.NoError(t, err)

	w := ts.do(t, "GET", "/api/v1/submissions/"+sig, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp SubmissionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, sig, resp.Signature)
	assert.Equal(t, "submitted", resp.Status)

	w = ts.do(t, "GET", "/api/v1/submissions/"+solanago.Signature{8}.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, "GET", "/api/v1/submissions/nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSubmissions(t *testing.T) {
	ts := newTestServer(t)
	owner := solanago.NewWallet().PublicKey().String()
	for i := byte(0); i < 3; i++ {
		_, err := ts.store.CreateSubmission(context.Background(), db.CreateSubmissionParams{
			Signature: solanago.Signature{i + 1}.String(),
			Owner:     owner,
			Action:    "stake",
			UserPool:  "pool",
		})
		require.NoError(t, err)
	}

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedCount  int
	}{
		{name: "all", query: "?owner=" + owner, expectedStatus: http.StatusOK, expectedCount: 3},
		{name: "limit", query: "?owner=" + owner + "&limit=2", expectedStatus: http.StatusOK, expectedCount: 2},
		{name: "offset", query: "?owner=" + owner + "&offset=2", expectedStatus: http.StatusOK, expectedCount: 1},
		{name: "missing owner", query: "", expectedStatus: http.StatusBadRequest},
		{name: "limit zero", query: "?owner=" + owner + "&limit=0", expectedStatus: http.StatusBadRequest},
		{name: "limit too big", query: "?owner=" + owner + "&limit=5000", expectedStatus: http.StatusBadRequest},
		{name: "negative offset", query: "?owner=" + owner + "&offset=-1", expectedStatus: http.StatusBadRequest},
		{name: "non-integer limit", query: "?owner=" + owner + "&limit=ten", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, "GET", "/api/v1/submissions"+tt.query, "")
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedStatus != http.StatusOK {
				return
			}
			resp := decodeJSON(t, w)
			assert.Equal(t, float64(tt.expectedCount), resp["count"])
		})
	}
}

func TestHealthAndCORS(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = ts.do(t, "OPTIONS", "/api/v1/transactions/stake", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStreamSubject(t *testing.T) {
	assert.Equal(t, "staking.*", streamSubject(""))
	assert.Equal(t, "staking.abc", streamSubject("abc"))
}
