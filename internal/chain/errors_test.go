package chain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

// fakeDataError mimics the error shape go-ethereum's RPC client returns when
// a node attaches revert data.
type fakeDataError struct {
	data any
}

func (f fakeDataError) Error() string          { return "execution reverted" }
func (f fakeDataError) ErrorData() interface{} { return f.data }

func encodeRevert(t *testing.T, reason string) string {
	t.Helper()

	stringT, err := abi.NewType("string", "", nil)
	require.NoError(t, err)

	packed, err := abi.Arguments{{Type: stringT}}.Pack(reason)
	require.NoError(t, err)

	// Error(string) selector.
	sel := []byte{0x08, 0xc3, 0x79, 0xa0}
	return hexutil.Encode(append(sel, packed...))
}

func TestRevertReason(t *testing.T) {
	reason, ok := RevertReason(fakeDataError{data: encodeRevert(t, "stale price")})
	require.True(t, ok)
	require.Equal(t, "stale price", reason)
}

func TestRevertReasonWrapped(t *testing.T) {
	err := fmt.Errorf("chain: call: %w", fakeDataError{data: encodeRevert(t, "interval not elapsed")})

	reason, ok := RevertReason(err)
	require.True(t, ok)
	require.Equal(t, "interval not elapsed", reason)
}

func TestRevertReasonAbsent(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"plain error", errors.New("connection refused")},
		{"non-string data", fakeDataError{data: 42}},
		{"bad hex", fakeDataError{data: "0xzz"}},
		{"not a revert payload", fakeDataError{data: "0x1234"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := RevertReason(tc.err)
			require.False(t, ok)
		})
	}
}
