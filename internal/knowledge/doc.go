// ABOUTME: Package knowledge retrieves product documentation snippets for a query
// ABOUTME: Uses keyword scoring over an in-memory, per-product document set

// Package knowledge implements the retrieval side of answer synthesis. An Index
// holds documents per product and scores them against a query by keyword
// overlap. Only positively scored documents are returned, best first, at most
// three per query.
package knowledge
