package httpapi

import (
	"bufio"
	"bytes"
	"strings"
	"time"

	"github.com/alloybuild/orchestrator/internal/model"
)

// parseStoredLog turns the concatenated `[stdout] line` / `[stderr] line`
// log file uploaded by the executor into the StoredLogLine shape
// returned by GET /jobs/{id}/logs/stored. Timestamps are not recorded in
// the flat file, so every line reports the read time.
func parseStoredLog(jobID string, raw []byte) []model.StoredLogLine {
	var out []model.StoredLogLine
	now := time.Now()

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var id int64
	for scanner.Scan() {
		line := scanner.Text()
		content := line
		if strings.HasPrefix(line, "[stdout] ") {
			content = strings.TrimPrefix(line, "[stdout] ")
		} else if strings.HasPrefix(line, "[stderr] ") {
			content = strings.TrimPrefix(line, "[stderr] ")
		}
		id++
		out = append(out, model.StoredLogLine{
			ID:        id,
			JobID:     jobID,
			Content:   content,
			CreatedAt: now,
		})
	}
	return out
}
