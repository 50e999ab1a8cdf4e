package attest

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

type prepareStep struct {
	result *PrepareResult
	err    error
}

type fakePreparer struct {
	steps   []prepareStep
	calls   int
	lastReq domain.AttestationRequest
}

func (f *fakePreparer) PrepareRequest(_ context.Context, req domain.AttestationRequest) (*PrepareResult, error) {
	f.lastReq = req
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	return f.steps[i].result, f.steps[i].err
}

type fakeSubmitter struct {
	fee       *big.Int
	feeErr    error
	receipt   InclusionReceipt
	submitErr error

	calls      int
	gotRequest []byte
	gotFee     *big.Int
}

func (f *fakeSubmitter) RequestFee(context.Context, []byte) (*big.Int, error) {
	if f.feeErr != nil {
		return nil, f.feeErr
	}
	return new(big.Int).Set(f.fee), nil
}

func (f *fakeSubmitter) RequestAttestation(_ context.Context, request []byte, fee *big.Int) (InclusionReceipt, error) {
	f.calls++
	f.gotRequest = request
	f.gotFee = fee
	return f.receipt, f.submitErr
}

type fakeRegistry struct {
	round      uint64
	finalAfter int

	finalCalls int
	gotType    [32]byte
}

func (f *fakeRegistry) VotingRoundOf(context.Context, uint64) (uint64, error) {
	return f.round, nil
}

func (f *fakeRegistry) IsFinalized(_ context.Context, attType [32]byte, _ uint64) (bool, error) {
	f.gotType = attType
	f.finalCalls++
	return f.finalCalls > f.finalAfter, nil
}

type fakeFetcher struct {
	proof *domain.AttestationProof
	err   error

	gotRound   uint64
	gotRequest []byte
}

func (f *fakeFetcher) ProofByRequestRound(_ context.Context, round uint64, request []byte) (*domain.AttestationProof, error) {
	f.gotRound = round
	f.gotRequest = request
	return f.proof, f.err
}

func testConfig() Config {
	return Config{
		PrepareInterval:  time.Millisecond,
		PrepareBudget:    250 * time.Millisecond,
		FinalityInterval: time.Millisecond,
		FinalityBudget:   250 * time.Millisecond,
		ProofSettleDelay: 0,
		FallbackFee:      big.NewInt(1_000),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func proofFor(txHash common.Hash, round uint64) *domain.AttestationProof {
	return &domain.AttestationProof{
		MerkleProof: []common.Hash{common.HexToHash("0x01")},
		Response: domain.AttestationResponse{
			AttestationType: PadName(TypeEVMTransaction),
			SourceID:        PadName("ETH"),
			VotingRound:     round,
			RequestBody: domain.TransactionRequestBody{
				TransactionHash: txHash,
			},
		},
	}
}

func TestAttestHappyPath(t *testing.T) {
	txHash := common.HexToHash("0x5a1ed5d8cb40296fcdd5c2cc47f1aa37b3c5c38a66e01f8b9167a09cfa9f3c11")
	reqBytes := []byte{0xde, 0xad, 0xbe, 0xef}

	preparer := &fakePreparer{steps: []prepareStep{
		{result: &PrepareResult{Status: "INDETERMINATE"}},
		{result: &PrepareResult{Status: StatusValid, Request: reqBytes}},
	}}
	submitter := &fakeSubmitter{
		fee:     big.NewInt(5),
		receipt: InclusionReceipt{TxHash: common.HexToHash("0x02"), BlockNumber: 100, Timestamp: 1_755_000_000},
	}
	registry := &fakeRegistry{round: 42, finalAfter: 2}
	fetcher := &fakeFetcher{proof: proofFor(txHash, 42)}

	c := New(testConfig(), "ETH", preparer, submitter, registry, fetcher, testLogger())

	proof, err := c.Attest(context.Background(), txHash, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(42), proof.VotingRound())

	require.Equal(t, 2, preparer.calls)
	require.Equal(t, "ETH", preparer.lastReq.SourceID)
	require.Equal(t, TypeEVMTransaction, preparer.lastReq.AttestationType)
	require.Equal(t, uint16(3), preparer.lastReq.RequiredConfirmations)

	require.Equal(t, reqBytes, submitter.gotRequest)
	require.Equal(t, big.NewInt(5), submitter.gotFee)

	require.Equal(t, PadName(TypeEVMTransaction), registry.gotType)
	require.Equal(t, uint64(42), fetcher.gotRound)
	require.Equal(t, reqBytes, fetcher.gotRequest)
}

func TestPrepareBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.PrepareBudget = 5 * time.Millisecond

	preparer := &fakePreparer{steps: []prepareStep{
		{result: &PrepareResult{Status: "INDETERMINATE"}},
	}}
	c := New(cfg, "ETH", preparer, &fakeSubmitter{}, &fakeRegistry{}, &fakeFetcher{}, testLogger())

	_, err := c.Prepare(context.Background(), common.HexToHash("0x01"), 1)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "prepare", te.Phase)
	require.Equal(t, "INDETERMINATE", te.LastStatus)
}

func TestPrepareInvalidIsFatal(t *testing.T) {
	preparer := &fakePreparer{steps: []prepareStep{
		{result: &PrepareResult{Status: StatusInvalid}},
	}}
	c := New(testConfig(), "ETH", preparer, &fakeSubmitter{}, &fakeRegistry{}, &fakeFetcher{}, testLogger())

	_, err := c.Prepare(context.Background(), common.HexToHash("0x01"), 1)
	require.ErrorContains(t, err, "invalid")
	require.Equal(t, 1, preparer.calls)
}

func TestPrepareRetriesTransportErrors(t *testing.T) {
	reqBytes := []byte{0x01}
	preparer := &fakePreparer{steps: []prepareStep{
		{err: errors.New("connection refused")},
		{result: &PrepareResult{Status: StatusValid, Request: reqBytes}},
	}}
	c := New(testConfig(), "ETH", preparer, &fakeSubmitter{}, &fakeRegistry{}, &fakeFetcher{}, testLogger())

	got, err := c.Prepare(context.Background(), common.HexToHash("0x01"), 1)
	require.NoError(t, err)
	require.Equal(t, reqBytes, got)
	require.Equal(t, 2, preparer.calls)
}

func TestSubmitUsesFallbackFee(t *testing.T) {
	submitter := &fakeSubmitter{
		feeErr:  errors.New("fee config unreachable"),
		receipt: InclusionReceipt{Timestamp: 1_755_000_000},
	}
	registry := &fakeRegistry{round: 9}
	c := New(testConfig(), "ETH", &fakePreparer{}, submitter, registry, &fakeFetcher{}, testLogger())

	round, err := c.Submit(context.Background(), []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, uint64(9), round)
	require.Equal(t, big.NewInt(1_000), submitter.gotFee)
}

func TestSubmitFailsFast(t *testing.T) {
	submitter := &fakeSubmitter{
		fee:       big.NewInt(5),
		submitErr: errors.New("insufficient funds"),
	}
	c := New(testConfig(), "ETH", &fakePreparer{}, submitter, &fakeRegistry{}, &fakeFetcher{}, testLogger())

	_, err := c.Submit(context.Background(), []byte{0x01})
	require.ErrorContains(t, err, "insufficient funds")
	require.Equal(t, 1, submitter.calls)
}

func TestAwaitFinalityTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.FinalityBudget = 5 * time.Millisecond

	registry := &fakeRegistry{finalAfter: 1 << 30}
	c := New(cfg, "ETH", &fakePreparer{}, &fakeSubmitter{}, registry, &fakeFetcher{}, testLogger())

	err := c.AwaitFinality(context.Background(), 7)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "finality", te.Phase)
}

func TestFetchProofRoundMismatch(t *testing.T) {
	txHash := common.HexToHash("0x01")
	fetcher := &fakeFetcher{proof: proofFor(txHash, 41)}
	c := New(testConfig(), "ETH", &fakePreparer{}, &fakeSubmitter{}, &fakeRegistry{}, fetcher, testLogger())

	_, err := c.FetchProof(context.Background(), 42, []byte{0x01})
	require.ErrorContains(t, err, "voting round 41")
}

func TestAttestProofTxMismatch(t *testing.T) {
	txHash := common.HexToHash("0x5a1ed5d8cb40296fcdd5c2cc47f1aa37b3c5c38a66e01f8b9167a09cfa9f3c11")
	other := common.HexToHash("0x9999999999999999999999999999999999999999999999999999999999999999")

	preparer := &fakePreparer{steps: []prepareStep{
		{result: &PrepareResult{Status: StatusValid, Request: []byte{0x01}}},
	}}
	submitter := &fakeSubmitter{fee: big.NewInt(5), receipt: InclusionReceipt{Timestamp: 1}}
	c := New(testConfig(), "ETH", preparer, submitter, &fakeRegistry{round: 3}, &fakeFetcher{proof: proofFor(other, 3)}, testLogger())

	_, err := c.Attest(context.Background(), txHash, 1)
	require.ErrorContains(t, err, "proof is for")
}

// Re-running the pipeline for the same transaction must behave identically:
// no phase caches state, so a crash between phases is recovered by starting
// over with the recorded hash.
func TestAttestReentry(t *testing.T) {
	txHash := common.HexToHash("0x5a1ed5d8cb40296fcdd5c2cc47f1aa37b3c5c38a66e01f8b9167a09cfa9f3c11")
	reqBytes := []byte{0xaa, 0xbb}

	preparer := &fakePreparer{steps: []prepareStep{
		{result: &PrepareResult{Status: StatusValid, Request: reqBytes}},
	}}
	submitter := &fakeSubmitter{fee: big.NewInt(5), receipt: InclusionReceipt{Timestamp: 1}}
	c := New(testConfig(), "ETH", preparer, submitter, &fakeRegistry{round: 3}, &fakeFetcher{proof: proofFor(txHash, 3)}, testLogger())

	first, err := c.Attest(context.Background(), txHash, 1)
	require.NoError(t, err)

	second, err := c.Attest(context.Background(), txHash, 1)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 2, submitter.calls)
	require.Equal(t, reqBytes, submitter.gotRequest)
}
