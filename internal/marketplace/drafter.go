package marketplace

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// HTTPDrafter calls the AI drafting service over HTTP: images in, proposed
// listing out. The service is treated as an opaque function; any failure is
// classified by the caller like every other collaborator error.
type HTTPDrafter struct {
	url  string
	http *http.Client
}

func NewHTTPDrafter(url string, timeout time.Duration) *HTTPDrafter {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPDrafter{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

// Draft sends the image contents to the drafting service and decodes its
// proposal.
func (d *HTTPDrafter) Draft(ctx context.Context, images []string) (DraftResult, error) {
	type imagePayload struct {
		Name string `json:"name"`
		Data string `json:"data"`
	}
	payload := struct {
		Images []imagePayload `json:"images"`
	}{}

	for _, path := range images {
		data, err := os.ReadFile(path)
		if err != nil {
			return DraftResult{}, fmt.Errorf("read image %s: %w", path, err)
		}
		payload.Images = append(payload.Images, imagePayload{
			Name: path,
			Data: base64.StdEncoding.EncodeToString(data),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return DraftResult{}, fmt.Errorf("encode draft request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return DraftResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return DraftResult{}, fmt.Errorf("draft request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DraftResult{}, decodeAPIError(resp)
	}

	var result DraftResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return DraftResult{}, fmt.Errorf("decode draft response: %w", err)
	}
	return result, nil
}
