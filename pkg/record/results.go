package record

// QueryResult streams the rows of one query back to the caller. The producer
// sends a nil record to mark the end of the result set.
type QueryResult struct {
	Found      chan RawRecord
	TotalCount int64
}

func NewQueryResult() *QueryResult {
	qr := &QueryResult{
		Found:      make(chan RawRecord),
		TotalCount: -1,
	}
	return qr
}

// BatchResult holds the per-request outcome of a batch mutation. Requests
// that return no record (deletes) are represented by a nil entry.
type BatchResult struct {
	Records []RawRecord `json:"records"`
}
