package precision

import "github.com/noah-isme/assessment-stats-api/internal/models"

var reportFormatter = NewFormatter(ReportSchema)

// FormatReport normalises every numeric field of report in place.
func FormatReport(report *models.AggregationReport) ([]Warning, error) {
	return reportFormatter.Format(report)
}
