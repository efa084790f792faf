package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"disputeflow/dispute"
)

// RemoteScorer calls an external HTTP scoring service. It is the production
// Scorer; the Adapter supplies retries and timeouts around it.
type RemoteScorer struct {
	BaseURL string
	HTTP    *http.Client
}

func NewRemoteScorer(baseURL string) *RemoteScorer {
	return &RemoteScorer{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    http.DefaultClient,
	}
}

type scoreRequest struct {
	DisputeID string              `json:"dispute_id"`
	Evidence  []scoreEvidenceItem `json:"evidence"`
}

type scoreEvidenceItem struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	ContentHash string `json:"content_hash"`
}

func (r *RemoteScorer) Score(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error) {
	items := make([]scoreEvidenceItem, 0, len(evidence))
	for _, rec := range evidence {
		items = append(items, scoreEvidenceItem{
			Type:        string(rec.Type),
			Description: rec.Description,
			ContentHash: rec.ContentHash,
		})
	}

	body, err := json.Marshal(scoreRequest{DisputeID: disputeID, Evidence: items})
	if err != nil {
		return 0, fmt.Errorf("oracle: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("oracle: call scoring service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("oracle: scoring service returned %d", resp.StatusCode)
	}

	var out struct {
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("oracle: decode response: %w", err)
	}
	return out.Score, nil
}
