package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/address"
)

//go:generate mockgen -destination=mock/mock_client.go -package=mock github.com/LeJamon/goDarkpool/internal/ledger Client

// Client is the subset of the node API the darkpool client depends on.
type Client interface {
	GetAccountInfo(ctx context.Context, account address.Pubkey) (*AccountInfo, error)
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)
	SendTransaction(ctx context.Context, tx []byte) (Signature, error)
	GetSignatureStatuses(ctx context.Context, sigs []Signature) ([]*SignatureStatus, error)
}

// RPCClient talks JSON-RPC 2.0 to a node over HTTP.
type RPCClient struct {
	endpoint   string
	commitment Commitment
	httpClient *http.Client
	logger     *zap.Logger
	nextID     atomic.Uint64
}

// NewRPCClient creates a client for endpoint. Requests time out after timeout.
func NewRPCClient(endpoint string, commitment Commitment, timeout time.Duration, logger *zap.Logger) *RPCClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPCClient{
		endpoint:   endpoint,
		commitment: commitment,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("ledger"),
	}
}

// Commitment returns the commitment level requests are made at.
func (c *RPCClient) Commitment() Commitment {
	return c.commitment
}

// call performs one JSON-RPC request and decodes its result into out.
func (c *RPCClient) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		c.logger.Debug("rpc error",
			zap.String("method", method),
			zap.Int("code", rpcResp.Error.Code),
			zap.String("message", rpcResp.Error.Message))
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s: failed to decode result: %w", method, err)
	}
	return nil
}

// GetAccountInfo fetches an account. A missing account is ErrAccountNotFound.
func (c *RPCClient) GetAccountInfo(ctx context.Context, account address.Pubkey) (*AccountInfo, error) {
	var res accountInfoResult
	opts := map[string]interface{}{"encoding": "base64", "commitment": c.commitment}
	if err := c.call(ctx, "getAccountInfo", &res, account.String(), opts); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}

	info := &AccountInfo{
		Lamports:   res.Value.Lamports,
		Owner:      res.Value.Owner,
		Executable: res.Value.Executable,
		RentEpoch:  res.Value.RentEpoch,
		Slot:       res.Context.Slot,
	}
	if len(res.Value.Data) > 0 {
		data, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
		if err != nil {
			return nil, fmt.Errorf("getAccountInfo: invalid account data: %w", err)
		}
		info.Data = data
	}
	return info, nil
}

// GetLatestBlockhash fetches a recent blockhash for transaction building.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	var res blockhashResult
	opts := map[string]interface{}{"commitment": c.commitment}
	if err := c.call(ctx, "getLatestBlockhash", &res, opts); err != nil {
		return Blockhash{}, err
	}
	hash, err := ParseHash(res.Value.Blockhash)
	if err != nil {
		return Blockhash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return Blockhash{Hash: hash, LastValidBlockHeight: res.Value.LastValidBlockHeight}, nil
}

// SendTransaction submits a signed wire transaction.
func (c *RPCClient) SendTransaction(ctx context.Context, tx []byte) (Signature, error) {
	var sig string
	opts := map[string]interface{}{"encoding": "base64", "preflightCommitment": c.commitment}
	if err := c.call(ctx, "sendTransaction", &sig, base64.StdEncoding.EncodeToString(tx), opts); err != nil {
		return Signature{}, err
	}
	return ParseSignature(sig)
}

// GetSignatureStatuses returns one status per signature; unknown signatures
// yield nil entries.
func (c *RPCClient) GetSignatureStatuses(ctx context.Context, sigs []Signature) ([]*SignatureStatus, error) {
	encoded := make([]string, len(sigs))
	for i, s := range sigs {
		encoded[i] = s.String()
	}

	var res signatureStatusesResult
	opts := map[string]interface{}{"searchTransactionHistory": true}
	if err := c.call(ctx, "getSignatureStatuses", &res, encoded, opts); err != nil {
		return nil, err
	}

	out := make([]*SignatureStatus, len(res.Value))
	for i, v := range res.Value {
		if v == nil {
			continue
		}
		out[i] = &SignatureStatus{
			Slot:               v.Slot,
			Confirmations:      v.Confirmations,
			Err:                v.Err,
			ConfirmationStatus: v.ConfirmationStatus,
		}
	}
	return out, nil
}

// ConfirmTransaction polls until sig reaches commitment, fails, or ctx ends.
// Errors fetching the status are retried on the next poll.
func ConfirmTransaction(ctx context.Context, client Client, sig Signature, commitment Commitment, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		statuses, err := client.GetSignatureStatuses(ctx, []Signature{sig})
		switch {
		case err != nil:
			lastErr = err
		case len(statuses) > 0 && statuses[0] != nil:
			st := statuses[0]
			if st.Failed() {
				return fmt.Errorf("%w: %s: %s", ErrTransactionFailed, sig, st.Err)
			}
			if st.ConfirmationStatus.Reaches(commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("confirm %s: %w (last status error: %v)", sig, ctx.Err(), lastErr)
			}
			return fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}
