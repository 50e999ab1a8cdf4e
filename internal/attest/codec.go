package attest

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// TypeEVMTransaction is the attestation type this bot requests.
const TypeEVMTransaction = "EVMTransaction"

// responseComponents is the canonical ABI layout of an attestation response.
// The DA layer serves responses encoded this way and the feed contract
// expects the same layout inside submitted proofs, so this is the single
// definition both sides of the codec use.
var responseComponents = []abi.ArgumentMarshaling{
	{Name: "attestationType", Type: "bytes32"},
	{Name: "sourceId", Type: "bytes32"},
	{Name: "votingRound", Type: "uint64"},
	{Name: "lowestUsedTimestamp", Type: "uint64"},
	{Name: "requestBody", Type: "tuple", Components: []abi.ArgumentMarshaling{
		{Name: "transactionHash", Type: "bytes32"},
		{Name: "requiredConfirmations", Type: "uint16"},
		{Name: "provideInput", Type: "bool"},
		{Name: "listEvents", Type: "bool"},
		{Name: "logIndices", Type: "uint32[]"},
	}},
	{Name: "responseBody", Type: "tuple", Components: []abi.ArgumentMarshaling{
		{Name: "blockNumber", Type: "uint64"},
		{Name: "timestamp", Type: "uint64"},
		{Name: "sourceAddress", Type: "address"},
		{Name: "isDeployment", Type: "bool"},
		{Name: "receivingAddress", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "input", Type: "bytes"},
		{Name: "status", Type: "uint8"},
		{Name: "events", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "logIndex", Type: "uint32"},
			{Name: "emitter", Type: "address"},
			{Name: "topics", Type: "bytes32[]"},
			{Name: "data", Type: "bytes"},
			{Name: "removed", Type: "bool"},
		}},
	}},
}

var responseType = func() abi.Type {
	t, err := abi.NewType("tuple", "", responseComponents)
	if err != nil {
		panic(fmt.Sprintf("attest: build response type: %v", err))
	}
	return t
}()

var proofType = func() abi.Type {
	t, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "merkleProof", Type: "bytes32[]"},
		{Name: "data", Type: "tuple", Components: responseComponents},
	})
	if err != nil {
		panic(fmt.Sprintf("attest: build proof type: %v", err))
	}
	return t
}()

var (
	responseArgs = abi.Arguments{{Name: "data", Type: responseType}}
	proofArgs    = abi.Arguments{{Name: "proof", Type: proofType}}
)

// ProofArguments exposes the canonical proof argument list so contract
// bindings can build methods that accept it without duplicating the layout.
func ProofArguments() abi.Arguments {
	return proofArgs
}

// Wire mirror structs. Field order follows the component order above; the
// abi package maps between them by position and name.

type wireRequestBody struct {
	TransactionHash       [32]byte
	RequiredConfirmations uint16
	ProvideInput          bool
	ListEvents            bool
	LogIndices            []uint32
}

type wireEvent struct {
	LogIndex uint32
	Emitter  common.Address
	Topics   [][32]byte
	Data     []byte
	Removed  bool
}

type wireResponseBody struct {
	BlockNumber      uint64
	Timestamp        uint64
	SourceAddress    common.Address
	IsDeployment     bool
	ReceivingAddress common.Address
	Value            *big.Int
	Input            []byte
	Status           uint8
	Events           []wireEvent
}

type wireResponse struct {
	AttestationType     [32]byte
	SourceId            [32]byte
	VotingRound         uint64
	LowestUsedTimestamp uint64
	RequestBody         wireRequestBody
	ResponseBody        wireResponseBody
}

type wireProof struct {
	MerkleProof [][32]byte
	Data        wireResponse
}

// DecodeResponse parses an ABI-encoded attestation response (the DA layer's
// response_hex payload) into the canonical domain structure.
func DecodeResponse(data []byte) (*domain.AttestationResponse, error) {
	out, err := responseArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("attest: decode response: %w", err)
	}
	wire := *abi.ConvertType(out[0], new(wireResponse)).(*wireResponse)
	return wire.toDomain(), nil
}

// EncodeResponse is the exact inverse of DecodeResponse. Re-encoding a
// decoded response reproduces the original bytes.
func EncodeResponse(r *domain.AttestationResponse) ([]byte, error) {
	packed, err := responseArgs.Pack(wireFromResponse(r))
	if err != nil {
		return nil, fmt.Errorf("attest: encode response: %w", err)
	}
	return packed, nil
}

// EncodeProofArgs ABI-encodes (merkleProof, response) as the argument block
// of a proof-accepting contract method. Callers prepend the method selector.
func EncodeProofArgs(p *domain.AttestationProof) ([]byte, error) {
	merkle := make([][32]byte, len(p.MerkleProof))
	for i, h := range p.MerkleProof {
		merkle[i] = h
	}
	packed, err := proofArgs.Pack(wireProof{
		MerkleProof: merkle,
		Data:        wireFromResponse(&p.Response),
	})
	if err != nil {
		return nil, fmt.Errorf("attest: encode proof: %w", err)
	}
	return packed, nil
}

func (w wireResponse) toDomain() *domain.AttestationResponse {
	events := make([]domain.EventLog, len(w.ResponseBody.Events))
	for i, ev := range w.ResponseBody.Events {
		topics := make([]common.Hash, len(ev.Topics))
		for j, tp := range ev.Topics {
			topics[j] = common.Hash(tp)
		}
		events[i] = domain.EventLog{
			LogIndex: ev.LogIndex,
			Emitter:  ev.Emitter,
			Topics:   topics,
			Data:     ev.Data,
			Removed:  ev.Removed,
		}
	}

	return &domain.AttestationResponse{
		AttestationType:     w.AttestationType,
		SourceID:            w.SourceId,
		VotingRound:         w.VotingRound,
		LowestUsedTimestamp: w.LowestUsedTimestamp,
		RequestBody: domain.TransactionRequestBody{
			TransactionHash:       common.Hash(w.RequestBody.TransactionHash),
			RequiredConfirmations: w.RequestBody.RequiredConfirmations,
			ProvideInput:          w.RequestBody.ProvideInput,
			ListEvents:            w.RequestBody.ListEvents,
			LogIndices:            w.RequestBody.LogIndices,
		},
		ResponseBody: domain.TransactionResponseBody{
			BlockNumber:      w.ResponseBody.BlockNumber,
			Timestamp:        w.ResponseBody.Timestamp,
			SourceAddress:    w.ResponseBody.SourceAddress,
			IsDeployment:     w.ResponseBody.IsDeployment,
			ReceivingAddress: w.ResponseBody.ReceivingAddress,
			Value:            w.ResponseBody.Value,
			Input:            w.ResponseBody.Input,
			Status:           w.ResponseBody.Status,
			Events:           events,
		},
	}
}

func wireFromResponse(r *domain.AttestationResponse) wireResponse {
	events := make([]wireEvent, len(r.ResponseBody.Events))
	for i, ev := range r.ResponseBody.Events {
		topics := make([][32]byte, len(ev.Topics))
		for j, tp := range ev.Topics {
			topics[j] = tp
		}
		events[i] = wireEvent{
			LogIndex: ev.LogIndex,
			Emitter:  ev.Emitter,
			Topics:   topics,
			Data:     ev.Data,
			Removed:  ev.Removed,
		}
	}

	value := r.ResponseBody.Value
	if value == nil {
		value = new(big.Int)
	}
	logIndices := r.RequestBody.LogIndices
	if logIndices == nil {
		logIndices = []uint32{}
	}

	return wireResponse{
		AttestationType:     r.AttestationType,
		SourceId:            r.SourceID,
		VotingRound:         r.VotingRound,
		LowestUsedTimestamp: r.LowestUsedTimestamp,
		RequestBody: wireRequestBody{
			TransactionHash:       r.RequestBody.TransactionHash,
			RequiredConfirmations: r.RequestBody.RequiredConfirmations,
			ProvideInput:          r.RequestBody.ProvideInput,
			ListEvents:            r.RequestBody.ListEvents,
			LogIndices:            logIndices,
		},
		ResponseBody: wireResponseBody{
			BlockNumber:      r.ResponseBody.BlockNumber,
			Timestamp:        r.ResponseBody.Timestamp,
			SourceAddress:    r.ResponseBody.SourceAddress,
			IsDeployment:     r.ResponseBody.IsDeployment,
			ReceivingAddress: r.ResponseBody.ReceivingAddress,
			Value:            value,
			Input:            r.ResponseBody.Input,
			Status:           r.ResponseBody.Status,
			Events:           events,
		},
	}
}

// PadName left-aligns a short protocol name in a zero-padded 32-byte word,
// the on-chain representation of attestation type and source identifiers.
func PadName(name string) [32]byte {
	var b [32]byte
	copy(b[:], name)
	return b
}

// HexName renders PadName(name) as a 0x-prefixed hex string for the verifier
// and DA-layer HTTP APIs.
func HexName(name string) string {
	padded := PadName(name)
	return hexutil.Encode(padded[:])
}

// UnpadName recovers the readable name from its padded form.
func UnpadName(b [32]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}
