package parser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ragfab/core/llm"
)

// ImageCaption is the result of captioning one extracted image: a
// human-readable description plus any text the VLM recovered via OCR.
type ImageCaption struct {
	Description string
	OCRText     string
}

// ImageCaptioner describes extracted images with a vision-capable LLM,
// used by ingestion's image-extraction phase to turn ExtractedImage values
// the parser service returned into persisted, searchable descriptions.
type ImageCaptioner struct {
	visionProvider llm.VisionProvider
}

// NewImageCaptioner returns an ImageCaptioner backed by provider.
func NewImageCaptioner(provider llm.VisionProvider) *ImageCaptioner {
	return &ImageCaptioner{visionProvider: provider}
}

// Caption asks the vision model to describe img and extract any text it
// contains (e.g. a diagram's labels, a scanned table's cell values).
func (c *ImageCaptioner) Caption(ctx context.Context, img ExtractedImage) (*ImageCaption, error) {
	b64 := base64.StdEncoding.EncodeToString(img.Data)
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}

	resp, err := c.visionProvider.ChatWithImages(ctx, llm.VisionChatRequest{
		Messages: []llm.VisionMessage{
			{
				Role: "user",
				Content: []llm.ContentPart{
					{
						Type: "text",
						Text: `Décris cette image en une ou deux phrases en français, puis, sur une
ligne séparée commençant par "OCR:", transcris tout texte visible dans
l'image (étiquettes de schéma, en-têtes de tableau, légendes). Si
l'image ne contient aucun texte, écris "OCR: aucun".`,
					},
					{
						Type:     "image_url",
						ImageURL: &llm.ImageURL{URL: "data:" + mimeType + ";base64," + b64},
					},
				},
			},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return nil, fmt.Errorf("captioning image: %w", err)
	}

	return splitCaptionResponse(resp.Content), nil
}

// splitCaptionResponse separates the free-text description from the
// "OCR:"-prefixed transcription line the prompt asks the model to emit.
func splitCaptionResponse(content string) *ImageCaption {
	const marker = "OCR:"
	idx := strings.Index(content, marker)
	if idx < 0 {
		return &ImageCaption{Description: strings.TrimSpace(content)}
	}
	return &ImageCaption{
		Description: strings.TrimSpace(content[:idx]),
		OCRText:     strings.TrimSpace(content[idx+len(marker):]),
	}
}
