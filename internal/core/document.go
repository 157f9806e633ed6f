// Package core defines the pipeline engine's domain types: the unit of
// work (Document), its ordered Stages, per-stage status, retry policy,
// error classification, durable error records and the in-memory context
// threaded through a single pipeline run.
package core

import "time"

// DocumentType enumerates the kinds of technical document the pipeline
// ingests.
type DocumentType string

const (
	DocumentTypeServiceManual        DocumentType = "service_manual"
	DocumentTypePartsCatalog         DocumentType = "parts_catalog"
	DocumentTypeTechnicalBulletin    DocumentType = "technical_bulletin"
	DocumentTypeUserManual           DocumentType = "user_manual"
	DocumentTypeInstallationGuide    DocumentType = "installation_guide"
	DocumentTypeTroubleshootingGuide DocumentType = "troubleshooting_guide"
	DocumentTypeCPMDDatabase         DocumentType = "cpmd_database"
)

// ProcessingStatus is the coarse-grained lifecycle status of a Document.
type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// Document is the unit of work the pipeline advances through its stages.
// Several fields are nullable (pointer) because they are filled in by
// later stages, not by upload.
type Document struct {
	ID               string
	Filename         string
	ContentHash      string // sha256 of the bytes, hex-encoded
	FileSizeBytes    int64
	DocumentType     DocumentType
	Manufacturer     *string
	Series           *string
	Models           []string
	Version          *string
	Language         *string
	ProcessingStatus ProcessingStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
