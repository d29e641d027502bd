package models

// Matrix is a bare numeric array as exported by the upstream tooling,
// stored row-major.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// Vector wraps a 1-D sequence as a single-column matrix.
func Vector(values []float64) *Matrix {
	return &Matrix{Rows: len(values), Cols: 1, Data: values}
}

// Field is one named column of a structured record.
type Field struct {
	Name   string
	Values *Matrix
}

// Record is a structured source whose fields keep their declared order.
type Record struct {
	Fields []Field
}

// RawSource is the payload of one product. Exactly one of Matrix and Record
// is set.
type RawSource struct {
	Matrix *Matrix
	Record *Record
}

// SourceResult is the outcome of loading one product. Err is set when the
// source could not be obtained; ErrMissingInput marks an absent source.
type SourceResult struct {
	Source *RawSource
	Err    error
}

// Sources maps each product to its load result.
type Sources map[Product]SourceResult
