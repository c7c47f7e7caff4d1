package store

import (
	"context"

	"github.com/google/uuid"
)

// InsertDocumentImage persists one captioned image from ingestion's
// image-extraction phase.
func (s *Store) InsertDocumentImage(ctx context.Context, img DocumentImage) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO document_images (document_id, page_number, mime_type, description, ocr_text, width, height)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		img.DocumentID, img.PageNumber, img.MIMEType, img.Description, img.OCRText, img.Width, img.Height,
	).Scan(&id)
	return id, err
}

// ImagesForPage returns the captioned images sharing documentID's page
// pageNumber, used to fold image descriptions into chunks built from that
// page's content.
func (s *Store) ImagesForPage(ctx context.Context, documentID uuid.UUID, pageNumber int) ([]DocumentImage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, page_number, mime_type, description, ocr_text, width, height, created_at
		FROM document_images WHERE document_id = $1 AND page_number = $2
		ORDER BY created_at`, documentID, pageNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DocumentImage
	for rows.Next() {
		var img DocumentImage
		if err := rows.Scan(&img.ID, &img.DocumentID, &img.PageNumber, &img.MIMEType,
			&img.Description, &img.OCRText, &img.Width, &img.Height, &img.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}
