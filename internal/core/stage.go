package core

import "time"

// Stage is a named, ordered step of the pipeline.
type Stage string

// Stages, in canonical pipeline order. A stage never runs before Upload.
const (
	StageUpload              Stage = "upload"
	StageTextExtraction      Stage = "text_extraction"
	StageTableExtraction     Stage = "table_extraction"
	StageSVGProcessing       Stage = "svg_processing"
	StageImageProcessing     Stage = "image_processing"
	StageVisualEmbedding     Stage = "visual_embedding"
	StageLinkExtraction      Stage = "link_extraction"
	StageChunkPreprocessing  Stage = "chunk_preprocessing"
	StageClassification      Stage = "classification"
	StageMetadataExtraction  Stage = "metadata_extraction"
	StagePartsExtraction     Stage = "parts_extraction"
	StageSeriesDetection     Stage = "series_detection"
	StageStorage             Stage = "storage"
	StageEmbedding           Stage = "embedding"
	StageSearchIndexing      Stage = "search_indexing"
)

// CanonicalStageOrder is the total order stages advance through. Smart
// resume and multi-stage runs both respect this ordering.
var CanonicalStageOrder = []Stage{
	StageUpload,
	StageTextExtraction,
	StageTableExtraction,
	StageSVGProcessing,
	StageImageProcessing,
	StageVisualEmbedding,
	StageLinkExtraction,
	StageChunkPreprocessing,
	StageClassification,
	StageMetadataExtraction,
	StagePartsExtraction,
	StageSeriesDetection,
	StageStorage,
	StageEmbedding,
	StageSearchIndexing,
}

// StageIndex returns the position of a stage in the canonical order, or
// -1 if the stage is unknown.
func StageIndex(s Stage) int {
	for i, st := range CanonicalStageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// StageStatusValue is the lifecycle status of one (document, stage) pair.
type StageStatusValue string

const (
	StageStatusPending    StageStatusValue = "pending"
	StageStatusProcessing StageStatusValue = "processing"
	StageStatusCompleted  StageStatusValue = "completed"
	StageStatusFailed     StageStatusValue = "failed"
	StageStatusSkipped    StageStatusValue = "skipped"
)

// StageStatus is one row per (document_id, stage). At most one row exists
// per pair; transitions must follow pending -> processing -> {completed |
// failed | skipped}. A failed row may be reset to pending by the retry
// orchestrator when scheduling a retry.
type StageStatus struct {
	DocumentID  string
	StageName   Stage
	Status      StageStatusValue
	Progress    int
	Attempt     int
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastErrorID *string
}
