package ledger

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/erp/ledger/internal/domain/ledger"
	"github.com/erp/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ObjectStorage is the object store holding document attachments.
// Implemented by the infrastructure layer (S3, RustFS, MinIO).
type ObjectStorage interface {
	// Upload stores data under key
	Upload(ctx context.Context, key string, data []byte, contentType string) error

	// GenerateDownloadURL generates a presigned URL for downloading an object
	GenerateDownloadURL(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error)

	// DeleteObject deletes an object
	DeleteObject(ctx context.Context, key string) error

	// ObjectExists checks if an object exists
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// AllowedAttachmentTypes lists the content types accepted for invoice attachments
var AllowedAttachmentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"image/tiff":      true,
	"application/xml": true,
	"text/xml":        true,
}

// AttachmentServiceConfig holds configuration for the attachment service
type AttachmentServiceConfig struct {
	DownloadURLExpiry time.Duration
	MaxFileSize       int64
}

// DefaultAttachmentServiceConfig returns the default configuration
func DefaultAttachmentServiceConfig() AttachmentServiceConfig {
	return AttachmentServiceConfig{
		DownloadURLExpiry: time.Hour,
		MaxFileSize:       20 << 20,
	}
}

// AttachmentUpload is one file to attach to an invoice
type AttachmentUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// AttachmentResponse describes a stored attachment
type AttachmentResponse struct {
	Key         string    `json:"key"`
	DownloadURL string    `json:"download_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// AttachmentService stores invoice attachments. Objects are keyed
// {owning_team_id}/{document_id}/{sanitized_filename}; the key is recorded
// on the invoice through the ledger service so caches see it.
type AttachmentService struct {
	ledger  *LedgerService
	storage ObjectStorage
	config  AttachmentServiceConfig
	logger  *zap.Logger
}

// NewAttachmentService creates a new AttachmentService
func NewAttachmentService(ledgerService *LedgerService, storage ObjectStorage, logger *zap.Logger) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentService{
		ledger:  ledgerService,
		storage: storage,
		config:  DefaultAttachmentServiceConfig(),
		logger:  logger,
	}
}

// SetConfig sets the service configuration
func (s *AttachmentService) SetConfig(config AttachmentServiceConfig) {
	s.config = config
}

// Upload stores a file and records it as the attachment of the invoice. The
// previous object, if any, is deleted once the new key is recorded.
func (s *AttachmentService) Upload(ctx context.Context, id ledger.InvoiceID, upload AttachmentUpload) (*AttachmentResponse, error) {
	if len(upload.Data) == 0 {
		return nil, shared.NewDomainError("EMPTY_ATTACHMENT", "Attachment is empty")
	}
	if s.config.MaxFileSize > 0 && int64(len(upload.Data)) > s.config.MaxFileSize {
		return nil, shared.NewDomainError("ATTACHMENT_TOO_LARGE",
			fmt.Sprintf("Attachment exceeds %d bytes", s.config.MaxFileSize))
	}
	if !AllowedAttachmentTypes[baseContentType(upload.ContentType)] {
		return nil, shared.NewDomainError("DISALLOWED_CONTENT_TYPE",
			fmt.Sprintf("Content type '%s' is not allowed", upload.ContentType))
	}

	inv, ok := s.ledger.Engine().Store().Invoice(id)
	if !ok {
		return nil, shared.NewDomainError(ledger.ErrEntityNotFound.Code, fmt.Sprintf("%s not found", id.Key()))
	}
	key := AttachmentKey(inv.TeamID, uuid.UUID(id), upload.FileName)

	if err := s.storage.Upload(ctx, key, upload.Data, upload.ContentType); err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}
	if _, err := s.ledger.SetInvoiceAttachment(ctx, id, key); err != nil {
		// the object is orphaned when the key could not be recorded
		if derr := s.storage.DeleteObject(ctx, key); derr != nil {
			s.logger.Warn("Failed to delete orphaned attachment", zap.String("key", key), zap.Error(derr))
		}
		return nil, err
	}
	if inv.AttachmentKey != "" && inv.AttachmentKey != key {
		if err := s.storage.DeleteObject(ctx, inv.AttachmentKey); err != nil {
			s.logger.Warn("Failed to delete replaced attachment", zap.String("key", inv.AttachmentKey), zap.Error(err))
		}
	}

	resp := &AttachmentResponse{Key: key}
	if url, expiresAt, err := s.storage.GenerateDownloadURL(ctx, key, s.config.DownloadURLExpiry); err == nil {
		resp.DownloadURL = url
		resp.ExpiresAt = expiresAt
	}
	return resp, nil
}

// Delete clears the attachment of an invoice and deletes the object
func (s *AttachmentService) Delete(ctx context.Context, id ledger.InvoiceID) error {
	inv, ok := s.ledger.Engine().Store().Invoice(id)
	if !ok {
		return shared.NewDomainError(ledger.ErrEntityNotFound.Code, fmt.Sprintf("%s not found", id.Key()))
	}
	if inv.AttachmentKey == "" {
		return shared.NewDomainError("ATTACHMENT_NOT_FOUND", "Invoice has no attachment")
	}
	if _, err := s.ledger.SetInvoiceAttachment(ctx, id, ""); err != nil {
		return err
	}
	if err := s.storage.DeleteObject(ctx, inv.AttachmentKey); err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}

// DownloadURL returns a presigned URL for the attachment of an invoice
func (s *AttachmentService) DownloadURL(ctx context.Context, id ledger.InvoiceID) (*AttachmentResponse, error) {
	inv, ok := s.ledger.Engine().Store().Invoice(id)
	if !ok {
		return nil, shared.NewDomainError(ledger.ErrEntityNotFound.Code, fmt.Sprintf("%s not found", id.Key()))
	}
	if inv.AttachmentKey == "" {
		return nil, shared.NewDomainError("ATTACHMENT_NOT_FOUND", "Invoice has no attachment")
	}
	url, expiresAt, err := s.storage.GenerateDownloadURL(ctx, inv.AttachmentKey, s.config.DownloadURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate download URL: %w", err)
	}
	return &AttachmentResponse{Key: inv.AttachmentKey, DownloadURL: url, ExpiresAt: expiresAt}, nil
}

// AttachmentKey builds the object key of a document attachment
func AttachmentKey(teamID, documentID uuid.UUID, fileName string) string {
	return fmt.Sprintf("%s/%s/%s", teamID, documentID, SanitizeFileName(fileName))
}

// SanitizeFileName reduces a file name to a safe object key segment: accents
// are stripped, anything outside [A-Za-z0-9._-] becomes '_' and the result
// is never empty.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}

	var b strings.Builder
	underscore := false
	for _, r := range name {
		ok := r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_')
		if ok {
			b.WriteRune(r)
			underscore = r == '_'
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "attachment"
	}
	if len(out) > 200 {
		out = out[len(out)-200:]
	}
	return out
}

func baseContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
