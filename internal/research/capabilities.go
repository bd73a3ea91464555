package research

import "context"

// QueryGenerator is the external query-generation capability. It may return
// fewer sub-queries than requested; the planner logs that as a degraded but
// non-fatal condition.
type QueryGenerator interface {
	GenerateSubQueries(ctx context.Context, topic string, count int) ([]SubQuery, error)
}

// SearchProvider is the external search-and-summarize capability behind one
// branch execution. Implementations live outside this package (HTTP
// adapters, Temporal activities, test stubs).
type SearchProvider interface {
	Search(ctx context.Context, query string) (SearchOutput, error)
}
