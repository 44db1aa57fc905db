package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/natefinch/atomic"

	"github.com/conorfennell/knolfix/internal/check"
)

type report struct {
	Collection string    `json:"collection"`
	CheckedAt  time.Time `json:"checked_at"`
	*check.Result
}

// writeReport replaces the report file in one step so readers never see a
// partial document.
func writeReport(path, collection string, res *check.Result) error {
	buf, err := json.MarshalIndent(report{
		Collection: collection,
		CheckedAt:  time.Now().UTC(),
		Result:     res,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	buf = append(buf, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
