package txbuilder

import (
	"testing"

	"deriv_client/internal/core"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func group(ids ...byte) Group {
	program := solana.NewWallet().PublicKey()
	g := make(Group, 0, len(ids))
	for _, id := range ids {
		g = append(g, solana.NewInstruction(program, solana.AccountMetaSlice{}, []byte{id}))
	}
	return g
}

func ids(t *testing.T, batch []solana.Instruction) []byte {
	out := make([]byte, 0, len(batch))
	for _, ix := range batch {
		out = append(out, dataOf(t, ix)[0])
	}
	return out
}

func TestPack(t *testing.T) {
	tests := []struct {
		name     string
		groups   []Group
		capacity int
		want     [][]byte
		wantErr  error
	}{
		{
			name:     "fits in one batch",
			groups:   []Group{group(1), group(2, 3)},
			capacity: 4,
			want:     [][]byte{{1, 2, 3}},
		},
		{
			name:     "groups are not split",
			groups:   []Group{group(1, 2), group(3, 4), group(5)},
			capacity: 3,
			want:     [][]byte{{1, 2}, {3, 4, 5}},
		},
		{
			name:     "one per batch",
			groups:   []Group{group(1), group(2), group(3)},
			capacity: 1,
			want:     [][]byte{{1}, {2}, {3}},
		},
		{
			name:     "empty groups skipped",
			groups:   []Group{{}, group(1)},
			capacity: 2,
			want:     [][]byte{{1}},
		},
		{
			name:     "oversized group",
			groups:   []Group{group(1), group(2, 3, 4)},
			capacity: 2,
			wantErr:  core.ErrBatchTooLarge,
		},
		{
			name:     "zero capacity",
			groups:   []Group{group(1)},
			capacity: 0,
			wantErr:  core.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches, err := Pack(tt.groups, tt.capacity)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			got := make([][]byte, 0, len(batches))
			for _, b := range batches {
				assert.LessOrEqual(t, len(b), tt.capacity)
				got = append(got, ids(t, b))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPack_Empty(t *testing.T) {
	batches, err := Pack(nil, 5)
	require.NoError(t, err)
	assert.Empty(t, batches)
}
