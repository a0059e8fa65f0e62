package collaborator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// HTTPClassifier calls a model API that accepts {"image_data": <base64>} and
// answers with its top prediction.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
}

type classifyRequest struct {
	ImageData string `json:"image_data"`
}

type classifyResponse struct {
	Success       bool    `json:"success"`
	TopPrediction string  `json:"top_prediction"`
	Confidence    float64 `json:"confidence"`
	Error         string  `json:"error"`
}

// NewHTTPClassifier returns a client for the classify endpoint.
func NewHTTPClassifier(endpoint string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClassifier{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

// Classify implements crawler.Classifier. A response with success=false or
// no prediction is reported as crawler.ErrUnclassifiable.
func (c *HTTPClassifier) Classify(ctx context.Context, path string) (crawler.Classification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return crawler.Classification{}, fmt.Errorf("read image: %w", err)
	}
	payload, err := json.Marshal(classifyRequest{ImageData: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return crawler.Classification{}, fmt.Errorf("marshal classify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return crawler.Classification{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return crawler.Classification{}, fmt.Errorf("classify request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return crawler.Classification{}, &crawler.HTTPStatusError{URL: c.endpoint, StatusCode: resp.StatusCode}
	}

	var out classifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return crawler.Classification{}, fmt.Errorf("decode classify response: %w", err)
	}
	if !out.Success || out.TopPrediction == "" {
		reason := out.Error
		if reason == "" {
			reason = "no prediction"
		}
		return crawler.Classification{}, fmt.Errorf("%w: %s", crawler.ErrUnclassifiable, reason)
	}
	return crawler.Classification{Label: out.TopPrediction, Confidence: out.Confidence}, nil
}
