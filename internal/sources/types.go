// Package sources tracks ingestion of content into a bucket: the status
// snapshot, the submission endpoints and the status poller.
package sources

import "math"

// Status is the processing state of one source.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Source is one ingested content unit.
type Source struct {
	ID            string `json:"id"`
	BucketID      string `json:"bucketId"`
	OriginURL     string `json:"originUrl,omitempty"`
	Status        Status `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// Counts holds the number of sources per status.
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
}

func (c Counts) total() int {
	return c.Pending + c.Processing + c.Success + c.Failed
}

// StatusResponse is the body of GET /sources/status/{bucketId}.
type StatusResponse struct {
	TotalSources  *int   `json:"totalSources"`
	StatusSummary Counts `json:"statusSummary"`
	Sources       struct {
		Pending    []Source `json:"pending"`
		Processing []Source `json:"processing"`
		Success    []Source `json:"success"`
		Failed     []Source `json:"failed"`
	} `json:"sources"`
}

// Snapshot is the aggregate ingestion state of a bucket at one point in time.
type Snapshot struct {
	TotalSources      int
	Counts            Counts
	CompletionPercent int
	IsFullyProcessed  bool
	Failed            []Source
}

// Ready reports whether at least one source can be used to answer questions.
func (s Snapshot) Ready() bool {
	return s.Counts.Success > 0
}

// InFlight reports whether any source is still waiting or being processed.
func (s Snapshot) InFlight() bool {
	return s.Counts.Pending > 0 || s.Counts.Processing > 0
}

// Summarize derives a Snapshot from a status response. It keeps no state.
func Summarize(resp StatusResponse) Snapshot {
	counts := resp.StatusSummary
	total := counts.total()
	if resp.TotalSources != nil {
		total = *resp.TotalSources
	}

	snap := Snapshot{
		TotalSources: total,
		Counts:       counts,
		Failed:       resp.Sources.Failed,
	}
	if total > 0 {
		done := counts.Success + counts.Failed
		snap.CompletionPercent = int(math.Round(100 * float64(done) / float64(total)))
		if snap.CompletionPercent > 100 {
			snap.CompletionPercent = 100
		}
	}
	snap.IsFullyProcessed = total > 0 && counts.Pending == 0 && counts.Processing == 0
	return snap
}
