package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/logging"
	"github.com/LeJamon/goDarkpool/internal/metrics"
)

const (
	// DefaultTimeout bounds a proof request when none is configured.
	DefaultTimeout = 60 * time.Second

	maxErrorBody = 4096
)

// ErrNoEndpoint is returned when no prover URL is configured.
var ErrNoEndpoint = errors.New("proof service url not configured")

// ProofError is a non-success response from the prover.
type ProofError struct {
	StatusCode int
	Body       string
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("proof service returned status %d: %s", e.StatusCode, e.Body)
}

func (e *ProofError) Unwrap() error {
	return ErrProofService
}

// Request asks for a proof that Owner is eligible under Params. Message is
// the authorization message Owner signed.
type Request struct {
	Owner     address.Pubkey
	Message   []byte
	Signature ledger.Signature
	Params    map[string]uint64
}

type wireRequest struct {
	Owner     string            `json:"owner"`
	Message   []byte            `json:"message"`
	Signature string            `json:"signature"`
	Params    map[string]string `json:"params"`
}

// AuthorizationMessage is the message an owner signs to request a proof.
// Params are listed in key order so the message is canonical.
func AuthorizationMessage(owner address.Pubkey, params map[string]uint64) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("darkpool eligibility\n")
	sb.WriteString("owner: ")
	sb.WriteString(owner.String())
	sb.WriteByte('\n')
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(strconv.FormatUint(params[k], 10))
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// NewRequest builds a Request signed by signer.
func NewRequest(signer ledger.Signer, params map[string]uint64) (Request, error) {
	owner := signer.PublicKey()
	msg := AuthorizationMessage(owner, params)
	sig, err := signer.Sign(msg)
	if err != nil {
		return Request{}, fmt.Errorf("sign authorization: %w", err)
	}
	return Request{Owner: owner, Message: msg, Signature: sig, Params: params}, nil
}

// Client talks to the prover service over HTTP.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
	rec    metrics.Recorder
}

// New creates a Client posting to url.
func New(url string, timeout time.Duration, logger *zap.Logger, rec metrics.Recorder) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logging.OrNop(logger).Named("proof"),
		rec:    metrics.OrNop(rec),
	}
}

// Prove requests a proof. Failures are returned with their cause; there is
// no fallback prover.
func (c *Client) Prove(ctx context.Context, req Request) (Proof, error) {
	start := time.Now()
	p, err := c.prove(ctx, req)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrInvalidProofSize), errors.Is(err, ErrMalformedProof):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	}
	c.rec.ProofRequest(outcome, time.Since(start))
	if err != nil {
		c.logger.Warn("proof request failed", zap.Stringer("owner", req.Owner), zap.Error(err))
		return Proof{}, err
	}
	c.logger.Debug("proof received", zap.Stringer("owner", req.Owner), zap.Duration("took", time.Since(start)))
	return p, nil
}

func (c *Client) prove(ctx context.Context, req Request) (Proof, error) {
	if c.url == "" {
		return Proof{}, ErrNoEndpoint
	}

	params := make(map[string]string, len(req.Params))
	for k, v := range req.Params {
		params[k] = strconv.FormatUint(v, 10)
	}
	body, err := json.Marshal(wireRequest{
		Owner:     req.Owner.String(),
		Message:   req.Message,
		Signature: req.Signature.String(),
		Params:    params,
	})
	if err != nil {
		return Proof{}, fmt.Errorf("marshal proof request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Proof{}, fmt.Errorf("create proof request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/octet-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Proof{}, fmt.Errorf("%w: %w", ErrProofService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Proof{}, &ProofError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	// One extra byte distinguishes an exact-size body from a longer one.
	data, err := io.ReadAll(io.LimitReader(resp.Body, ProofSize+1))
	if err != nil {
		return Proof{}, fmt.Errorf("%w: read proof: %w", ErrProofService, err)
	}
	return FromBytes(data)
}
