package model

import "time"

// DiagnosticResult is the columnar output of one catalog probe run.
// Columns follow SELECT order; every row has len(Columns) values.
type DiagnosticResult struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Columns   []string  `json:"columns"`
	Rows      [][]any   `json:"data"`
	Count     int       `json:"count"`
}
