package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/models"
	"github.com/noah-isme/school-portal-api/pkg/export"
	"github.com/noah-isme/school-portal-api/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportService renders communication datasets to CSV or PDF and stores the
// files behind signed download tokens.
type ExportService struct {
	comms   communicationRepository
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(comms communicationRepository, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		comms:   comms,
		storage: store,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate builds the dataset for the job's filter and stores the rendered
// export.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job.Params)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/download/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL
// when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	typePart := "all"
	if job.Params.Type != nil {
		typePart = string(*job.Params.Type)
	}
	return fmt.Sprintf("communications_%s_%s.%s", typePart, timestamp, job.Params.Format)
}

const exportPageSize = 100

func (s *ExportService) buildDataset(ctx context.Context, params models.ExportJobParams) (export.Dataset, string, error) {
	filter := models.CommunicationFilter{
		Type:           params.Type,
		Status:         params.Status,
		IncludeExpired: true,
		PageSize:       exportPageSize,
	}
	if params.Audience != nil {
		filter.Audiences = []models.Audience{*params.Audience}
	}

	dataset := export.Dataset{
		Headers: []string{"ID", "Type", "Title", "Audience", "Priority", "Status", "Author", "Replies", "Published At", "Expires At", "Created At"},
	}
	for page := 1; ; page++ {
		filter.Page = page
		rows, total, err := s.comms.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", err
		}
		for _, comm := range rows {
			dataset.Rows = append(dataset.Rows, map[string]string{
				"ID":           fmt.Sprintf("%d", comm.ID),
				"Type":         string(comm.Type),
				"Title":        comm.Title,
				"Audience":     string(comm.TargetAudience),
				"Priority":     string(comm.Priority),
				"Status":       string(comm.Status),
				"Author":       comm.AuthorID,
				"Replies":      fmt.Sprintf("%d", comm.ReplyCount),
				"Published At": formatTimePtr(comm.PublishedAt),
				"Expires At":   formatTimePtr(comm.ExpiresAt),
				"Created At":   comm.CreatedAt.Format(time.RFC3339),
			})
		}
		if len(dataset.Rows) >= total || len(rows) == 0 {
			break
		}
	}
	return dataset, "Communications Export", nil
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.Format(time.RFC3339)
}
