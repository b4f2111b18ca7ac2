package policyrag

// Vector is a fixed-dimension embedding. All vectors in one index share the
// same dimension.
type Vector []float32

// Segment is a piece of a source page with its provenance.
type Segment struct {
	ID   int    `json:"id"`   // Dense 0-based ordinal, equal to the position in the index
	Text string `json:"text"` // Raw segment text
	Page int    `json:"page"` // 1-based page number the text came from
}

// Hit is a retrieved segment with its distance to the query.
type Hit struct {
	Segment  Segment `json:"segment"`
	Distance float32 `json:"distance"` // Squared Euclidean distance
}

// EvidenceSet is what the retriever hands to answer generation.
type EvidenceSet struct {
	Context   string `json:"context"`   // Segment texts in rank order, closest first
	Hits      []Hit  `json:"hits"`      // Ranked hits the context was built from
	Citations []int  `json:"citations"` // Deduplicated page numbers, ascending
}

// StructuredAnswer is a completion parsed into its two sections.
type StructuredAnswer struct {
	Decision    string `json:"decision"`
	Explanation string `json:"explanation"`
}

// Answer is the full grounded result of one question.
type Answer struct {
	Question  string           `json:"question"`
	Answer    StructuredAnswer `json:"answer"`
	Citations []int            `json:"citations"`
	Evidence  []Hit            `json:"evidence"`
	Raw       string           `json:"raw"`
}
