package dispatch

// DefaultChunkSize is used when no positive chunk size is configured
const DefaultChunkSize = 100

// Chunk is a bounded slice of a campaign's audience processed as one unit of work
type Chunk struct {
	CampaignID   uint
	Index        int
	RecipientIDs []uint
}

// Partition splits ids into consecutive chunks of at most size ids.
// The same input always yields the same chunks; an empty input yields none.
func Partition(campaignID uint, ids []uint, size int) []Chunk {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	chunks := make([]Chunk, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, Chunk{
			CampaignID:   campaignID,
			Index:        len(chunks),
			RecipientIDs: ids[start:end:end],
		})
	}
	return chunks
}
