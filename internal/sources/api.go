package sources

import (
	"context"
	"fmt"
	"net/url"
)

// Requester is the subset of the request pipeline the API needs.
type Requester interface {
	GetJSON(ctx context.Context, path string, out any) error
	PostJSON(ctx context.Context, path string, body, out any) error
}

// Chunking controls how the backend splits submitted content.
type Chunking struct {
	Size    int
	Overlap int
}

// API wraps the source status and submission endpoints.
type API struct {
	req      Requester
	chunking Chunking
}

func NewAPI(req Requester, chunking Chunking) *API {
	if chunking.Size <= 0 {
		chunking.Size = 1000
	}
	if chunking.Overlap < 0 || chunking.Overlap >= chunking.Size {
		chunking.Overlap = 0
	}
	return &API{req: req, chunking: chunking}
}

// RawStatus fetches the undigested status response for a bucket.
func (a *API) RawStatus(ctx context.Context, bucketID string) (StatusResponse, error) {
	var resp StatusResponse
	if err := a.req.GetJSON(ctx, "/sources/status/"+url.PathEscape(bucketID), &resp); err != nil {
		return StatusResponse{}, fmt.Errorf("fetching source status for %s: %w", bucketID, err)
	}
	return resp, nil
}

// Status fetches the current Snapshot for a bucket.
func (a *API) Status(ctx context.Context, bucketID string) (Snapshot, error) {
	resp, err := a.RawStatus(ctx, bucketID)
	if err != nil {
		return Snapshot{}, err
	}
	return Summarize(resp), nil
}

type submitRequest struct {
	URL          string `json:"url,omitempty"`
	Content      string `json:"content,omitempty"`
	BucketID     string `json:"bucketId"`
	ChunkSize    int    `json:"chunkSize"`
	ChunkOverlap int    `json:"chunkOverlap"`
}

// SubmitResult acknowledges a submission. The source starts out pending.
type SubmitResult struct {
	SourceID string `json:"sourceId"`
	Status   Status `json:"status"`
}

func (a *API) SubmitURL(ctx context.Context, bucketID, rawURL string) (SubmitResult, error) {
	return a.submit(ctx, KindWeb, submitRequest{URL: rawURL, BucketID: bucketID})
}

func (a *API) SubmitVideo(ctx context.Context, bucketID, rawURL string) (SubmitResult, error) {
	return a.submit(ctx, KindVideo, submitRequest{URL: rawURL, BucketID: bucketID})
}

func (a *API) SubmitSocialPost(ctx context.Context, bucketID, rawURL string) (SubmitResult, error) {
	return a.submit(ctx, KindSocialPost, submitRequest{URL: rawURL, BucketID: bucketID})
}

func (a *API) SubmitText(ctx context.Context, bucketID, content string) (SubmitResult, error) {
	if content == "" {
		return SubmitResult{}, fmt.Errorf("submitting text: content is empty")
	}
	return a.submit(ctx, KindText, submitRequest{Content: content, BucketID: bucketID})
}

// Submit sends a URL to the endpoint matching its platform.
func (a *API) Submit(ctx context.Context, bucketID, rawURL string) (Kind, SubmitResult, error) {
	kind, err := ClassifyURL(rawURL)
	if err != nil {
		return "", SubmitResult{}, err
	}
	res, err := a.submit(ctx, kind, submitRequest{URL: rawURL, BucketID: bucketID})
	return kind, res, err
}

func (a *API) submit(ctx context.Context, kind Kind, req submitRequest) (SubmitResult, error) {
	if req.BucketID == "" {
		return SubmitResult{}, fmt.Errorf("submitting %s source: bucket id is required", kind)
	}
	req.ChunkSize = a.chunking.Size
	req.ChunkOverlap = a.chunking.Overlap

	var res SubmitResult
	if err := a.req.PostJSON(ctx, kind.endpoint(), req, &res); err != nil {
		return SubmitResult{}, fmt.Errorf("submitting %s source: %w", kind, err)
	}
	if res.Status == "" {
		res.Status = StatusPending
	}
	return res, nil
}
