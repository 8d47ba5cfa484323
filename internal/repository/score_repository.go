package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/assessment-stats-api/internal/models"
)

// ScoreRepository reads the cleaned score tables produced by the ingestion
// pipeline. It never writes.
type ScoreRepository struct {
	db *sqlx.DB
}

// NewScoreRepository instantiates the repository.
func NewScoreRepository(db *sqlx.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// BatchExists reports whether any score fact belongs to batchCode.
func (r *ScoreRepository) BatchExists(ctx context.Context, batchCode string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM student_cleaned_scores WHERE batch_code = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, batchCode); err != nil {
		return false, fmt.Errorf("check batch %s: %w", batchCode, err)
	}
	return exists, nil
}

// FindSchool returns the school within a batch, or nil when the school has
// no score facts in that batch.
func (r *ScoreRepository) FindSchool(ctx context.Context, batchCode, schoolID string) (*models.School, error) {
	const query = `SELECT school_id, MAX(school_code) AS school_code, MAX(school_name) AS school_name,
COUNT(DISTINCT student_id) AS student_count
FROM student_cleaned_scores
WHERE batch_code = $1 AND school_id = $2
GROUP BY school_id`
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, batchCode, schoolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find school %s in batch %s: %w", schoolID, batchCode, err)
	}
	return &school, nil
}

// ListSchools returns every school of a batch ordered by school code.
func (r *ScoreRepository) ListSchools(ctx context.Context, batchCode string) ([]models.School, error) {
	const query = `SELECT school_id, MAX(school_code) AS school_code, MAX(school_name) AS school_name,
COUNT(DISTINCT student_id) AS student_count
FROM student_cleaned_scores
WHERE batch_code = $1
GROUP BY school_id
ORDER BY school_code ASC`
	var schools []models.School
	if err := r.db.SelectContext(ctx, &schools, query, batchCode); err != nil {
		return nil, fmt.Errorf("list schools of batch %s: %w", batchCode, err)
	}
	return schools, nil
}

// ListSubjects returns the subjects of a batch with their student counts.
func (r *ScoreRepository) ListSubjects(ctx context.Context, batchCode string) ([]models.SubjectInfo, error) {
	const query = `SELECT subject_name, MAX(subject_type) AS subject_type, COUNT(DISTINCT student_id) AS student_count
FROM student_cleaned_scores
WHERE batch_code = $1
GROUP BY subject_name
ORDER BY subject_name ASC`
	var subjects []models.SubjectInfo
	if err := r.db.SelectContext(ctx, &subjects, query, batchCode); err != nil {
		return nil, fmt.Errorf("list subjects of batch %s: %w", batchCode, err)
	}
	return subjects, nil
}

// CountStudents returns the number of distinct students in a batch.
func (r *ScoreRepository) CountStudents(ctx context.Context, batchCode string) (int, error) {
	const query = `SELECT COUNT(DISTINCT student_id) FROM student_cleaned_scores WHERE batch_code = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, batchCode); err != nil {
		return 0, fmt.Errorf("count students of batch %s: %w", batchCode, err)
	}
	return total, nil
}

// ListScoreFacts loads the score facts matching filter.
func (r *ScoreRepository) ListScoreFacts(ctx context.Context, filter models.ScoreFilter) ([]models.ScoreFact, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT batch_code, student_id, subject_name, subject_type, school_id, school_code, school_name,
COALESCE(class_name, '') AS class_name, total_score, max_score, dimension_scores, dimension_max_scores
FROM student_cleaned_scores WHERE batch_code = $1`)
	args := []interface{}{filter.BatchCode}
	if filter.SchoolID != "" {
		args = append(args, filter.SchoolID)
		builder.WriteString(fmt.Sprintf(" AND school_id = $%d", len(args)))
	}
	if filter.SubjectName != "" {
		args = append(args, filter.SubjectName)
		builder.WriteString(fmt.Sprintf(" AND subject_name = $%d", len(args)))
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		args = append(args, pq.Array(types))
		builder.WriteString(fmt.Sprintf(" AND subject_type = ANY($%d)", len(args)))
	}
	builder.WriteString(" ORDER BY subject_name ASC, school_code ASC, student_id ASC")

	var facts []models.ScoreFact
	if err := r.db.SelectContext(ctx, &facts, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list score facts: %w", err)
	}
	return facts, nil
}

// ListQuestionConfigs returns the declared questions of every subject in a batch.
func (r *ScoreRepository) ListQuestionConfigs(ctx context.Context, batchCode string) ([]models.QuestionConfig, error) {
	const query = `SELECT batch_code, subject_name, question_id, max_score, question_type
FROM subject_question_config
WHERE batch_code = $1
ORDER BY subject_name ASC, question_id ASC`
	var configs []models.QuestionConfig
	if err := r.db.SelectContext(ctx, &configs, query, batchCode); err != nil {
		return nil, fmt.Errorf("list question configs of batch %s: %w", batchCode, err)
	}
	return configs, nil
}

// ListDimensionDefinitions returns the dimension names configured for a batch.
func (r *ScoreRepository) ListDimensionDefinitions(ctx context.Context, batchCode string) ([]models.DimensionDefinition, error) {
	const query = `SELECT DISTINCT batch_code, subject_name, dimension_code, dimension_name
FROM batch_dimension_definition
WHERE batch_code = $1
ORDER BY subject_name ASC, dimension_code ASC`
	var defs []models.DimensionDefinition
	if err := r.db.SelectContext(ctx, &defs, query, batchCode); err != nil {
		return nil, fmt.Errorf("list dimension definitions of batch %s: %w", batchCode, err)
	}
	return defs, nil
}

// ListQuestionDimensions returns the question to dimension mapping of a batch.
func (r *ScoreRepository) ListQuestionDimensions(ctx context.Context, batchCode string) ([]models.QuestionDimension, error) {
	const query = `SELECT subject_name, question_id, dimension_code
FROM question_dimension_mapping
WHERE batch_code = $1
ORDER BY subject_name ASC, question_id ASC`
	var mapping []models.QuestionDimension
	if err := r.db.SelectContext(ctx, &mapping, query, batchCode); err != nil {
		return nil, fmt.Errorf("list question dimensions of batch %s: %w", batchCode, err)
	}
	return mapping, nil
}

// ListQuestionnaireAnswers loads per-question questionnaire scores.
func (r *ScoreRepository) ListQuestionnaireAnswers(ctx context.Context, filter models.ScoreFilter) ([]models.QuestionnaireAnswer, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT student_id, school_id, subject_name, question_id, original_score, max_score,
COALESCE(scale_level, 0) AS scale_level
FROM questionnaire_question_scores WHERE batch_code = $1`)
	args := []interface{}{filter.BatchCode}
	if filter.SchoolID != "" {
		args = append(args, filter.SchoolID)
		builder.WriteString(fmt.Sprintf(" AND school_id = $%d", len(args)))
	}
	if filter.SubjectName != "" {
		args = append(args, filter.SubjectName)
		builder.WriteString(fmt.Sprintf(" AND subject_name = $%d", len(args)))
	}
	builder.WriteString(" ORDER BY subject_name ASC, question_id ASC, student_id ASC")

	var answers []models.QuestionnaireAnswer
	if err := r.db.SelectContext(ctx, &answers, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list questionnaire answers: %w", err)
	}
	return answers, nil
}
