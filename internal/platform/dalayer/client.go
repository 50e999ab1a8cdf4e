// Package dalayer fetches finalized attestation proofs from the protocol's
// data availability layer.
package dalayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/relaybot/internal/attest"
	"github.com/alanyoungcy/relaybot/internal/domain"
)

// Client is an HTTP client for the DA layer's proof API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a DA layer client for the given endpoint.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type proofRequest struct {
	VotingRoundID uint64 `json:"votingRoundId"`
	RequestBytes  string `json:"requestBytes"`
}

type proofResponse struct {
	ResponseHex string   `json:"response_hex"`
	Proof       []string `json:"proof"`
}

// ProofByRequestRound fetches the inclusion proof and encoded response for
// an attestation request in a finalized voting round, and decodes the
// response through the canonical codec. A round the DA layer cannot serve
// yet maps to domain.ErrNoProof.
func (c *Client) ProofByRequestRound(ctx context.Context, round uint64, request []byte) (*domain.AttestationProof, error) {
	payload := proofRequest{
		VotingRoundID: round,
		RequestBytes:  hexutil.Encode(request),
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dalayer: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/fdc/proof-by-request-round-raw", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("dalayer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dalayer: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dalayer: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("dalayer: round %d: %w", round, domain.ErrNoProof)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dalayer: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var pr proofResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("dalayer: decode response: %w", err)
	}

	if pr.ResponseHex == "" || len(pr.Proof) == 0 {
		return nil, fmt.Errorf("dalayer: round %d served empty proof: %w", round, domain.ErrNoProof)
	}

	raw, err := hexutil.Decode(pr.ResponseHex)
	if err != nil {
		return nil, fmt.Errorf("dalayer: decode response_hex: %w", err)
	}

	decoded, err := attest.DecodeResponse(raw)
	if err != nil {
		return nil, err
	}

	merkle := make([]common.Hash, len(pr.Proof))
	for i, h := range pr.Proof {
		merkle[i] = common.HexToHash(h)
	}

	return &domain.AttestationProof{
		MerkleProof: merkle,
		Response:    *decoded,
		Raw:         raw,
	}, nil
}
