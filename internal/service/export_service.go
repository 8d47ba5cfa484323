package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/assessment-stats-api/internal/models"
	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
	"github.com/noah-isme/assessment-stats-api/pkg/export"
)

type resultReader interface {
	Result(ctx context.Context, batchCode, schoolID string) (*AggregationResult, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title, subtitle string) ([]byte, error)
}

// ExportRequest selects the stored document to render.
type ExportRequest struct {
	BatchCode string
	SchoolID  string
	Format    export.Format
}

// ExportFile is a rendered document ready to be served.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders persisted aggregation documents as CSV or PDF.
type ExportService struct {
	results resultReader
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	enabled bool
}

// NewExportService constructs an ExportService.
func NewExportService(results resultReader, enabled bool, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{results: results, csv: csv, pdf: pdf, logger: logger, enabled: enabled}
}

// Export renders the COMPLETED document of a key.
func (s *ExportService) Export(ctx context.Context, req ExportRequest) (*ExportFile, error) {
	if !s.enabled {
		return nil, appErrors.ErrDisabled
	}
	result, err := s.results.Result(ctx, req.BatchCode, req.SchoolID)
	if err != nil {
		return nil, err
	}
	if result.Status != models.CalculationStatusCompleted || result.Report == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("aggregation is %s", strings.ToLower(string(result.Status))))
	}

	report := result.Report
	dataset := buildReportDataset(report)

	var body []byte
	switch req.Format {
	case export.FormatPDF:
		body, err = s.pdf.Render(dataset, reportTitle(report), fmt.Sprintf("Generated %s", report.GeneratedAt.Format("2006-01-02 15:04 MST")))
	case export.FormatCSV, "":
		req.Format = export.FormatCSV
		body, err = s.csv.Render(dataset)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %s", req.Format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Info("aggregation exported",
		zap.String("batch_code", report.BatchCode),
		zap.String("level", string(report.AggregationLevel)),
		zap.String("format", string(req.Format)),
		zap.Int("bytes", len(body)),
	)
	return &ExportFile{
		Filename:    buildFilename(report, req.Format),
		ContentType: req.Format.ContentType(),
		Body:        body,
	}, nil
}

var exportHeaders = []string{
	"Subject", "Type", "Dimension", "Students", "Avg Score", "Std Dev",
	"Score Rate (%)", "Difficulty (%)", "Discrimination", "P10", "P50", "P90", "Rank",
}

func buildReportDataset(report *models.AggregationReport) export.Dataset {
	rows := make([]map[string]string, 0, len(report.Subjects))
	for _, subject := range report.Subjects {
		rows = append(rows, map[string]string{
			"Subject":        subject.Name,
			"Type":           string(subject.Type),
			"Dimension":      "",
			"Students":       strconv.Itoa(subject.StudentCount),
			"Avg Score":      formatNumber(subject.AvgScore),
			"Std Dev":        formatNumber(subject.StdDeviation),
			"Score Rate (%)": formatNumber(subject.AvgScoreRatePct),
			"Difficulty (%)": formatNumber(subject.DifficultyPct),
			"Discrimination": formatNumber(subject.Discrimination),
			"P10":            formatNumber(subject.Percentiles.P10),
			"P50":            formatNumber(subject.Percentiles.P50),
			"P90":            formatNumber(subject.Percentiles.P90),
			"Rank":           formatRank(subject.RegionRank, subject.TotalSchools),
		})
		for _, dim := range subject.Dimensions {
			rows = append(rows, map[string]string{
				"Subject":        subject.Name,
				"Type":           string(subject.Type),
				"Dimension":      dim.Name,
				"Avg Score":      formatNumber(dim.AvgScore),
				"Std Dev":        formatNumber(dim.StdDeviation),
				"Score Rate (%)": formatNumber(dim.AvgScoreRatePct),
				"Difficulty (%)": formatNumber(dim.DifficultyPct),
				"Discrimination": formatNumber(dim.Discrimination),
				"Rank":           formatRank(dim.Rank, nil),
			})
		}
	}
	return export.Dataset{Headers: exportHeaders, Rows: rows}
}

func reportTitle(report *models.AggregationReport) string {
	if report.AggregationLevel == models.AggregationLevelSchool {
		name := report.SchoolName
		if name == "" {
			name = report.SchoolCode
		}
		return fmt.Sprintf("Batch %s - %s", report.BatchCode, name)
	}
	return fmt.Sprintf("Batch %s - Regional", report.BatchCode)
}

func buildFilename(report *models.AggregationReport, format export.Format) string {
	parts := []string{sanitizeFilename(report.BatchCode), strings.ToLower(string(report.AggregationLevel))}
	if report.SchoolCode != "" {
		parts = append(parts, sanitizeFilename(report.SchoolCode))
	}
	return fmt.Sprintf("%s.%s", strings.Join(parts, "_"), format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatRank(rank, total *int) string {
	if rank == nil {
		return ""
	}
	if total == nil {
		return strconv.Itoa(*rank)
	}
	return fmt.Sprintf("%d/%d", *rank, *total)
}
