package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DataType string

const (
	DataCarbon  DataType = "carbon"
	DataEwaste  DataType = "ewaste"
	DataOffsets DataType = "offsets"
)

func (d DataType) Valid() bool {
	switch d {
	case DataCarbon, DataEwaste, DataOffsets:
		return true
	}
	return false
}

type Source string

const (
	SourceFile        Source = "file"
	SourceIntegration Source = "integration"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusParsing    Status = "parsing"
	StatusMapping    Status = "mapping"
	StatusValidating Status = "validating"
	StatusApplying   Status = "applying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stage is one resumable pipeline step.
type Stage string

const (
	StageParse    Stage = "parse"
	StageDetect   Stage = "detect"
	StageMap      Stage = "map"
	StageValidate Stage = "validate"
	StageApply    Stage = "apply"
)

// Stages lists the pipeline in execution order.
var Stages = []Stage{StageParse, StageDetect, StageMap, StageValidate, StageApply}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Status is the job status while s runs.
func (s Stage) Status() Status {
	switch s {
	case StageParse:
		return StatusParsing
	case StageDetect, StageMap:
		return StatusMapping
	case StageValidate:
		return StatusValidating
	case StageApply:
		return StatusApplying
	}
	return StatusPending
}

// Job is one bulk import. Stage is the last stage that finished.
type Job struct {
	ID                uuid.UUID                             `gorm:"type:char(36);primaryKey" json:"id"`
	CompanyID         uuid.UUID                             `gorm:"type:char(36);not null;index" json:"company_id"`
	UserID            uuid.UUID                             `gorm:"type:char(36)" json:"user_id"`
	Source            Source                                `gorm:"type:text;not null" json:"source"`
	DataType          DataType                              `gorm:"type:text;not null" json:"data_type"`
	Status            Status                                `gorm:"type:varchar(32);not null;index" json:"status"`
	Stage             Stage                                 `gorm:"type:text" json:"stage,omitempty"`
	FileName          string                                `gorm:"type:text" json:"file_name"`
	Format            string                                `gorm:"type:text" json:"format,omitempty"`
	Encoding          string                                `gorm:"type:text" json:"encoding,omitempty"`
	Headers           datatypes.JSONSlice[string]           `gorm:"type:json" json:"headers"`
	DetectedTypes     datatypes.JSONType[map[string]string] `gorm:"type:json" json:"detected_types"`
	Mapping           datatypes.JSONType[map[string]string] `gorm:"type:json" json:"mapping"`
	MappingOverridden bool                                  `gorm:"not null;default:false" json:"mapping_overridden"`
	DryRun            bool                                  `gorm:"not null;default:false" json:"dry_run"`
	RowsTotal         int                                   `gorm:"not null;default:0" json:"rows_total"`
	RowsMalformed     int                                   `gorm:"not null;default:0" json:"rows_malformed"`
	RowsValid         int                                   `gorm:"not null;default:0" json:"rows_valid"`
	RowsInvalid       int                                   `gorm:"not null;default:0" json:"rows_invalid"`
	RowsImported      int                                   `gorm:"not null;default:0" json:"rows_imported"`
	BatchesApplied    int                                   `gorm:"not null;default:0" json:"batches_applied"`
	BatchesFailed     int                                   `gorm:"not null;default:0" json:"batches_failed"`
	LastError         string                                `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt         time.Time                             `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time                             `gorm:"not null" json:"updated_at"`
	CompletedAt       *time.Time                            `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Job) TableName() string { return "import_jobs" }

type ArtifactKind string

const (
	// ArtifactOriginal is the uploaded file, kept for the retention window.
	ArtifactOriginal ArtifactKind = "original"
	// ArtifactRows holds parsed data rows as NDJSON string arrays.
	ArtifactRows ArtifactKind = "rows"
	// ArtifactReport holds one NDJSON outcome per row.
	ArtifactReport ArtifactKind = "report"
)

// Artifact is a zstd-compressed stage output.
type Artifact struct {
	ID        uuid.UUID    `gorm:"type:char(36);primaryKey"`
	JobID     uuid.UUID    `gorm:"type:char(36);not null;uniqueIndex:ux_import_artifact_kind"`
	Kind      ArtifactKind `gorm:"type:varchar(32);not null;uniqueIndex:ux_import_artifact_kind"`
	Checksum  string       `gorm:"type:text;not null"`
	Size      int          `gorm:"not null"`
	Content   []byte       `gorm:"not null"`
	ExpiresAt *time.Time   `gorm:"index"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (Artifact) TableName() string { return "import_artifacts" }

// RowOutcome is one line of the validation report.
type RowOutcome struct {
	Row    int          `json:"row"`
	Valid  bool         `json:"valid"`
	Errors []FieldIssue `json:"errors,omitempty"`
}

type FieldIssue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
