// Package chain defines the blockchain capability the game core consumes and
// a development JSON-RPC client implementing it against a node sidecar.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/internal/secretstore"
)

// TxType distinguishes the transaction shapes the core submits.
type TxType string

const (
	TxMint TxType = "mint"
	TxBurn TxType = "burn"
)

// TxEnvelope carries one transaction through build, sign and submit.
type TxEnvelope struct {
	Type             TxType   `json:"type"`
	Stake            string   `json:"stake"`
	PolicyID         string   `json:"policy_id"`
	AssetName        string   `json:"asset_name,omitempty"`
	Metadata         []byte   `json:"metadata,omitempty"`
	BurnFingerprints []string `json:"burn_fingerprints,omitempty"`

	// Filled by BuildTx and Sign respectively.
	Payload []byte `json:"payload,omitempty"`
	Signed  []byte `json:"signed,omitempty"`
}

// Blockchain is the capability consumed by the workflow engine.
type Blockchain interface {
	BuildTx(ctx context.Context, env *TxEnvelope) error
	Sign(ctx context.Context, env *TxEnvelope, keyRef string) error
	Submit(ctx context.Context, signed []byte) (txHash string, err error)
	GetConfirmations(ctx context.Context, txHash string) (int, error)
	GetAssetFingerprint(ctx context.Context, policyID, assetName string) (string, error)
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// Client is a JSON-RPC Blockchain implementation for development and staging
// environments. Signing keys are read from the secret store by reference.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	secrets    secretstore.Store
	reqID      uint64
}

// NewClient creates a client. The secret store resolves signing key refs.
func NewClient(cfg Config, secrets secretstore.Store) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		rpcURL:     cfg.RPCURL,
		httpClient: &http.Client{Timeout: timeout},
		secrets:    secrets,
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Call makes one JSON-RPC call. Transport failures are classified transient.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      atomic.AddUint64(&c.reqID, 1),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.External("chain rpc unreachable", true, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.External("chain rpc read", true, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, apperr.External("chain rpc decode", true, err)
	}
	if rpcResp.Error != nil {
		// Node-side rejections are not retried.
		return nil, apperr.External("chain rpc rejected", false, rpcResp.Error)
	}
	return rpcResp.Result, nil
}

func (c *Client) BuildTx(ctx context.Context, env *TxEnvelope) error {
	result, err := c.Call(ctx, "buildtx", []interface{}{env})
	if err != nil {
		return err
	}
	var out struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return apperr.External("chain buildtx decode", true, err)
	}
	payload, err := hex.DecodeString(out.Payload)
	if err != nil {
		return apperr.External("chain buildtx payload", false, err)
	}
	env.Payload = payload
	return nil
}

func (c *Client) Sign(ctx context.Context, env *TxEnvelope, keyRef string) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("sign: empty payload")
	}
	key, err := c.secrets.Get(ctx, keyRef)
	if err != nil {
		return apperr.External("signing key unavailable", false, err)
	}
	result, err := c.Call(ctx, "signtx", []interface{}{
		hex.EncodeToString(env.Payload), hex.EncodeToString(key),
	})
	if err != nil {
		return err
	}
	var out struct {
		Signed string `json:"signed"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return apperr.External("chain signtx decode", true, err)
	}
	signed, err := hex.DecodeString(out.Signed)
	if err != nil {
		return apperr.External("chain signtx payload", false, err)
	}
	env.Signed = signed
	return nil
}

func (c *Client) Submit(ctx context.Context, signed []byte) (string, error) {
	result, err := c.Call(ctx, "submittx", []interface{}{hex.EncodeToString(signed)})
	if err != nil {
		return "", err
	}
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", apperr.External("chain submittx decode", true, err)
	}
	if out.TxHash == "" {
		return "", apperr.External("chain submittx returned no hash", false, nil)
	}
	return out.TxHash, nil
}

func (c *Client) GetConfirmations(ctx context.Context, txHash string) (int, error) {
	result, err := c.Call(ctx, "getconfirmations", []interface{}{txHash})
	if err != nil {
		return 0, err
	}
	var out struct {
		Confirmations int `json:"confirmations"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, apperr.External("chain confirmations decode", true, err)
	}
	return out.Confirmations, nil
}

// GetAssetFingerprint derives the fingerprint locally: bech32-style asset1
// prefix over the blake2b-160 digest of policy id and asset name. This
// matches the node's derivation so no round trip is needed.
func (c *Client) GetAssetFingerprint(_ context.Context, policyID, assetName string) (string, error) {
	return Fingerprint(policyID, assetName)
}

// Fingerprint computes the asset fingerprint for a policy and asset name.
func Fingerprint(policyID, assetName string) (string, error) {
	if policyID == "" || assetName == "" {
		return "", fmt.Errorf("fingerprint: policy id and asset name required")
	}
	h, err := blake2b.New(20, nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(policyID))
	h.Write([]byte(assetName))
	return "asset1" + hex.EncodeToString(h.Sum(nil)), nil
}
