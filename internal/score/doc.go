// Package score grades rendered assets. For each metric of the job's phase
// it extracts embeddings or measurements from the extractor service, records
// one score row per metric, recomputes the phase gate, and resolves the job
// to passed or failed.
package score
