package models

import "github.com/jmoiron/sqlx/types"

// SubjectType enumerates the three subject taxonomies sharing one output schema.
type SubjectType string

const (
	SubjectTypeExam          SubjectType = "exam"
	SubjectTypeInteraction   SubjectType = "interaction"
	SubjectTypeQuestionnaire SubjectType = "questionnaire"
)

// Valid reports whether the subject type is one of the known taxonomies.
func (t SubjectType) Valid() bool {
	switch t {
	case SubjectTypeExam, SubjectTypeInteraction, SubjectTypeQuestionnaire:
		return true
	}
	return false
}

// Order is the position of the type inside the unified subjects list.
func (t SubjectType) Order() int {
	switch t {
	case SubjectTypeExam:
		return 0
	case SubjectTypeInteraction:
		return 1
	case SubjectTypeQuestionnaire:
		return 2
	}
	return 3
}

// ExamSubjectTypes are the subject types handled by the exam-type aggregator.
var ExamSubjectTypes = []SubjectType{SubjectTypeExam, SubjectTypeInteraction}

// ScoreFact is one cleaned score row per (batch, student, subject).
type ScoreFact struct {
	BatchCode          string         `db:"batch_code" json:"batch_code"`
	StudentID          string         `db:"student_id" json:"student_id"`
	SubjectName        string         `db:"subject_name" json:"subject_name"`
	SubjectType        SubjectType    `db:"subject_type" json:"subject_type"`
	SchoolID           string         `db:"school_id" json:"school_id"`
	SchoolCode         string         `db:"school_code" json:"school_code"`
	SchoolName         string         `db:"school_name" json:"school_name"`
	ClassName          string         `db:"class_name" json:"class_name"`
	TotalScore         float64        `db:"total_score" json:"total_score"`
	MaxScore           float64        `db:"max_score" json:"max_score"`
	DimensionScores    types.JSONText `db:"dimension_scores" json:"dimension_scores"`
	DimensionMaxScores types.JSONText `db:"dimension_max_scores" json:"dimension_max_scores"`
}

// ScoreFilter scopes score fact queries.
type ScoreFilter struct {
	BatchCode   string
	SchoolID    string
	SubjectName string
	Types       []SubjectType
}

// QuestionConfig declares one question of a subject.
type QuestionConfig struct {
	BatchCode    string      `db:"batch_code" json:"batch_code"`
	SubjectName  string      `db:"subject_name" json:"subject_name"`
	QuestionID   string      `db:"question_id" json:"question_id"`
	MaxScore     float64     `db:"max_score" json:"max_score"`
	QuestionType SubjectType `db:"question_type" json:"question_type"`
}

// SubjectConfig is the declared configuration of a subject within a batch.
type SubjectConfig struct {
	BatchCode   string           `json:"batch_code"`
	SubjectName string           `json:"subject_name"`
	SubjectType SubjectType      `json:"subject_type"`
	Questions   []QuestionConfig `json:"questions"`
}

// DimensionDefinition names a dimension of a subject.
type DimensionDefinition struct {
	BatchCode     string `db:"batch_code" json:"batch_code"`
	SubjectName   string `db:"subject_name" json:"subject_name"`
	DimensionCode string `db:"dimension_code" json:"dimension_code"`
	DimensionName string `db:"dimension_name" json:"dimension_name"`
}

// QuestionDimension maps a question onto at most one dimension.
type QuestionDimension struct {
	SubjectName   string `db:"subject_name" json:"subject_name"`
	QuestionID    string `db:"question_id" json:"question_id"`
	DimensionCode string `db:"dimension_code" json:"dimension_code"`
}

// QuestionnaireAnswer is a per-question questionnaire score.
type QuestionnaireAnswer struct {
	StudentID     string  `db:"student_id" json:"student_id"`
	SchoolID      string  `db:"school_id" json:"school_id"`
	SubjectName   string  `db:"subject_name" json:"subject_name"`
	QuestionID    string  `db:"question_id" json:"question_id"`
	OriginalScore float64 `db:"original_score" json:"original_score"`
	MaxScore      float64 `db:"max_score" json:"max_score"`
	ScaleLevel    int     `db:"scale_level" json:"scale_level"`
}

// School identifies a school participating in a batch.
type School struct {
	SchoolID     string `db:"school_id" json:"school_id"`
	SchoolCode   string `db:"school_code" json:"school_code"`
	SchoolName   string `db:"school_name" json:"school_name"`
	StudentCount int    `db:"student_count" json:"student_count"`
}

// SubjectInfo summarises a subject present in a batch.
type SubjectInfo struct {
	SubjectName  string      `db:"subject_name" json:"name"`
	SubjectType  SubjectType `db:"subject_type" json:"type"`
	StudentCount int         `db:"student_count" json:"student_count"`
}
