// Package verifier talks to the attestation verifier HTTP API that prepares
// attestation requests for transactions on one source chain.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/relaybot/internal/attest"
	"github.com/alanyoungcy/relaybot/internal/domain"
)

// Client is an HTTP client for one chain's verifier endpoint. The base URL
// already identifies the chain, e.g. "https://verifier.example.com/eth".
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a verifier client for the given endpoint.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// prepareRequest is the JSON envelope of a prepareRequest call.
type prepareRequest struct {
	AttestationType string             `json:"attestationType"`
	SourceID        string             `json:"sourceId"`
	RequestBody     prepareRequestBody `json:"requestBody"`
}

type prepareRequestBody struct {
	TransactionHash       string   `json:"transactionHash"`
	RequiredConfirmations string   `json:"requiredConfirmations"`
	ProvideInput          bool     `json:"provideInput"`
	ListEvents            bool     `json:"listEvents"`
	LogIndices            []uint32 `json:"logIndices"`
}

type prepareResponse struct {
	Status            string `json:"status"`
	AbiEncodedRequest string `json:"abiEncodedRequest"`
}

// PrepareRequest asks the verifier to build the ABI-encoded attestation
// request for a transaction. A non-VALID status is not an error at this
// layer; the attestation client decides whether to keep polling or abort.
func (c *Client) PrepareRequest(ctx context.Context, req domain.AttestationRequest) (*attest.PrepareResult, error) {
	body := prepareRequest{
		AttestationType: attest.HexName(req.AttestationType),
		SourceID:        attest.HexName(req.SourceID),
		RequestBody: prepareRequestBody{
			TransactionHash:       req.TransactionHash.Hex(),
			RequiredConfirmations: strconv.FormatUint(uint64(req.RequiredConfirmations), 10),
			ProvideInput:          false,
			ListEvents:            true,
			LogIndices:            []uint32{},
		},
	}

	respBody, err := c.post(ctx, "/EVMTransaction/prepareRequest", body)
	if err != nil {
		return nil, fmt.Errorf("verifier: prepare request: %w", err)
	}

	var resp prepareResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("verifier: decode prepare response: %w", err)
	}

	result := &attest.PrepareResult{Status: resp.Status}
	if resp.Status == attest.StatusValid {
		if resp.AbiEncodedRequest == "" {
			return nil, fmt.Errorf("verifier: status VALID without encoded request")
		}
		raw, err := hexutil.Decode(resp.AbiEncodedRequest)
		if err != nil {
			return nil, fmt.Errorf("verifier: decode encoded request: %w", err)
		}
		result.Request = raw
	}
	return result, nil
}

// post sends a JSON POST to the verifier and returns the raw response body.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
