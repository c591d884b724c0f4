package ports

import "time"

// ProcessingObserver receives pipeline events for metric collection.
//
// Thread Safety: Implementations MUST be safe for concurrent calls.
type ProcessingObserver interface {
	// IncrementLinesProcessedByResult records the outcome of parsing one line.
	//
	// Parameters:
	//   - result: "parsed" or "failed"
	IncrementLinesProcessedByResult(result string)

	// ObserveAnalysis records one completed analysis.
	//
	// Parameters:
	//   - duration: wall time spent in the engine
	//   - insightsByCategory: number of insights emitted per category
	ObserveAnalysis(duration time.Duration, insightsByCategory map[string]int)
}

const (
	ResultParsed = "parsed"
	ResultFailed = "failed"
)
