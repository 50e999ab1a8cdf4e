package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AttestationRequest carries the parameters of one prepare-phase call to the
// verifier. The attestation type and source identifier travel as 32-byte
// zero-padded UTF-8 names, matching the protocol's on-chain representation.
type AttestationRequest struct {
	AttestationType string
	SourceID        string
	TransactionHash common.Hash

	// RequiredConfirmations varies per source chain: the destination chain
	// needs one, slower chains need double digits.
	RequiredConfirmations uint16
}

// TransactionRequestBody echoes the request parameters inside an attestation
// response.
type TransactionRequestBody struct {
	TransactionHash       common.Hash
	RequiredConfirmations uint16
	ProvideInput          bool
	ListEvents            bool
	LogIndices            []uint32
}

// EventLog is one log emitted by the attested transaction, as reported by the
// attestation protocol.
type EventLog struct {
	LogIndex uint32
	Emitter  common.Address
	Topics   []common.Hash
	Data     []byte
	Removed  bool
}

// TransactionResponseBody is the attested view of the target transaction.
type TransactionResponseBody struct {
	BlockNumber      uint64
	Timestamp        uint64
	SourceAddress    common.Address
	IsDeployment     bool
	ReceivingAddress common.Address
	Value            *big.Int
	Input            []byte
	Status           uint8
	Events           []EventLog
}

// AttestationResponse is the decoded proof body: attestation metadata, the
// request echo, and the attested transaction view.
type AttestationResponse struct {
	AttestationType     [32]byte
	SourceID            [32]byte
	VotingRound         uint64
	LowestUsedTimestamp uint64
	RequestBody         TransactionRequestBody
	ResponseBody        TransactionResponseBody
}

// AttestationProof pairs the decoded response with its inclusion proof. Raw
// holds the exact ABI bytes the proof server returned; re-encoding the
// decoded response must reproduce Raw byte for byte.
type AttestationProof struct {
	MerkleProof []common.Hash
	Response    AttestationResponse
	Raw         []byte
}

// VotingRound returns the voting round the proof belongs to.
func (p AttestationProof) VotingRound() uint64 {
	return p.Response.VotingRound
}
