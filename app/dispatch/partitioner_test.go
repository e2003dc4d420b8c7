package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs(n int) []uint {
	ids := make([]uint, n)
	for i := range ids {
		ids[i] = uint(i + 1)
	}
	return ids
}

func TestPartition(t *testing.T) {
	t.Run("250 recipients in chunks of 100", func(t *testing.T) {
		chunks := Partition(9, seqIDs(250), 100)
		require.Len(t, chunks, 3)

		sizes := []int{len(chunks[0].RecipientIDs), len(chunks[1].RecipientIDs), len(chunks[2].RecipientIDs)}
		assert.Equal(t, []int{100, 100, 50}, sizes)
		for i, c := range chunks {
			assert.Equal(t, uint(9), c.CampaignID)
			assert.Equal(t, i, c.Index)
		}
		assert.Equal(t, uint(201), chunks[2].RecipientIDs[0])
	})

	t.Run("empty audience yields no chunks", func(t *testing.T) {
		assert.Empty(t, Partition(9, nil, 100))
	})

	t.Run("deterministic", func(t *testing.T) {
		ids := seqIDs(1234)
		assert.Equal(t, Partition(1, ids, 77), Partition(1, ids, 77))
	})

	t.Run("every id lands in exactly one chunk", func(t *testing.T) {
		ids := seqIDs(1001)
		seen := make(map[uint]int)
		for _, c := range Partition(1, ids, 64) {
			assert.LessOrEqual(t, len(c.RecipientIDs), 64)
			for _, id := range c.RecipientIDs {
				seen[id]++
			}
		}
		assert.Len(t, seen, len(ids))
		for id, n := range seen {
			assert.Equal(t, 1, n, "recipient %d", id)
		}
	})

	t.Run("non-positive size falls back to default", func(t *testing.T) {
		chunks := Partition(1, seqIDs(DefaultChunkSize+1), 0)
		assert.Len(t, chunks, 2)
	})

	t.Run("chunks do not alias each other on append", func(t *testing.T) {
		chunks := Partition(1, seqIDs(4), 2)
		_ = append(chunks[0].RecipientIDs, 99)
		assert.Equal(t, uint(3), chunks[1].RecipientIDs[0])
	})
}
