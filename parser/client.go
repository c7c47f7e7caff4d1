package parser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config configures the external parser/OCR/VLM service client.
type Config struct {
	BaseURL string
	APIKey  string
	// OCREngine and VLMEngine select the engines the service runs for this
	// request; empty means the service's own default.
	OCREngine string
	VLMEngine string
}

// Client parses documents by delegating to the external parser service:
// upload the file, poll the job until it completes, and convert the
// returned per-page text into a structured document. The service is
// opaque and implementation-defined — this is the entire wire contract
// this module imposes on it.
type Client struct {
	cfg    Config
	client *http.Client
}

// New returns a parser Client.
func New(cfg Config) *Client {
	return &Client{cfg: cfg, client: &http.Client{Timeout: 60 * time.Second}}
}

type uploadResponse struct {
	JobID string `json:"job_id"`
}

type jobPage struct {
	Number   int    `json:"number"`
	Markdown string `json:"markdown"`
}

type jobImage struct {
	Data       string `json:"data"` // base64
	MIMEType   string `json:"mime_type"`
	PageNumber int    `json:"page_number"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

type jobResult struct {
	Status   string            `json:"status"` // "pending", "done", "error"
	Error    string            `json:"error"`
	Pages    []jobPage         `json:"pages"`
	Images   []jobImage        `json:"images"`
	Method   string            `json:"method"`
	Metadata map[string]string `json:"metadata"`
}

const (
	maxPollAttempts = 60 // ~5 minutes at 5s intervals
	pollInterval    = 5 * time.Second
)

// Parse uploads path to the parser service and blocks until the service
// finishes (or fails) the job, returning the structured document.
func (c *Client) Parse(ctx context.Context, path string) (*ParseResult, error) {
	jobID, err := c.upload(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("parser: uploading %s: %w", path, err)
	}

	result, err := c.poll(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("parser: job %s: %w", jobID, err)
	}

	var sections []Section
	for _, page := range result.Pages {
		sections = append(sections, sectionsFromPageText(page.Markdown, page.Number)...)
	}
	sections = fixRunningHeaders(sections, len(result.Pages))

	images := make([]ExtractedImage, 0, len(result.Images))
	for _, img := range result.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			slog.Warn("parser: skipping image with invalid encoding", "page", img.PageNumber, "error", err)
			continue
		}
		images = append(images, ExtractedImage{
			Data: data, MIMEType: img.MIMEType, PageNumber: img.PageNumber,
			Width: img.Width, Height: img.Height,
		})
	}

	method := result.Method
	if method == "" {
		method = "external"
	}

	return &ParseResult{
		Sections: sections,
		Images:   images,
		Method:   method,
		Metadata: result.Metadata,
	}, nil
}

func (c *Client) upload(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	if c.cfg.OCREngine != "" {
		writer.WriteField("ocr_engine", c.cfg.OCREngine)
	}
	if c.cfg.VLMEngine != "" {
		writer.WriteField("vlm_engine", c.cfg.VLMEngine)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/parse", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("upload failed %d: %s", resp.StatusCode, string(respBody))
	}

	var uploaded uploadResponse
	if err := json.Unmarshal(respBody, &uploaded); err != nil {
		return "", err
	}
	return uploaded.JobID, nil
}

func (c *Client) poll(ctx context.Context, jobID string) (*jobResult, error) {
	url := c.cfg.BaseURL + "/parse/" + jobID

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return nil, err
		}
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := pollInterval
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
					delay = time.Duration(secs) * time.Second
				}
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("parser API error %d: %s", resp.StatusCode, string(body))
		}

		var result jobResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("decoding job result: %w", err)
		}
		switch result.Status {
		case "done":
			return &result, nil
		case "error":
			return nil, fmt.Errorf("parser service reported failure: %s", result.Error)
		}
	}

	return nil, fmt.Errorf("parser job timed out after %d attempts", maxPollAttempts)
}
