package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/go-resty/resty/v2"
)

type HTTPConfig struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
}

// HTTPUploader posts the file as multipart field "file" to an upload
// service and reads the resulting URL from its JSON reply.
type HTTPUploader struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPUploader(cfg HTTPConfig) (*HTTPUploader, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("upload endpoint is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &HTTPUploader{client: client, endpoint: endpoint}, nil
}

type uploadedFile struct {
	URL string `json:"url"`
}

func (u *HTTPUploader) Upload(ctx context.Context, file domain.File) (domain.UploadResult, error) {
	if err := validateFile(file); err != nil {
		return domain.UploadResult{}, err
	}

	resp, err := u.client.R().
		SetContext(ctx).
		SetMultipartField("file", file.Name, file.ContentType, bytes.NewReader(file.Data)).
		Post(u.endpoint)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("post upload: %w", err)
	}
	if resp.IsError() {
		return domain.UploadResult{}, fmt.Errorf("upload endpoint returned status=%d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	url, err := parseUploadResponse(resp.Body())
	if err != nil {
		return domain.UploadResult{}, err
	}
	return domain.UploadResult{URL: url}, nil
}

// parseUploadResponse accepts {"url": ...} or a list whose first element
// carries the url.
func parseUploadResponse(body []byte) (string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", errors.New("upload response is empty")
	}

	if body[0] == '[' {
		var files []uploadedFile
		if err := json.Unmarshal(body, &files); err != nil {
			return "", fmt.Errorf("decode upload response: %w", err)
		}
		if len(files) == 0 {
			return "", errors.New("upload response lists no files")
		}
		return files[0].URL, nil
	}

	var f uploadedFile
	if err := json.Unmarshal(body, &f); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return f.URL, nil
}
