// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "UPLOADED"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentCompleted  DocumentStatus = "COMPLETED"
	DocumentFailed     DocumentStatus = "FAILED"
)

// ExtractionStats summarizes how text was recovered from the raw bytes.
// Source matches the extraction pipeline's provenance tags
// (primary-parse, alternate-parse, ocr, salvage, salvage-failed).
type ExtractionStats struct {
	Source          string  `json:"source"`
	Confidence      float64 `json:"confidence"`
	CorruptionScore int     `json:"corruption_score"`
	Pages           int     `json:"pages,omitempty"`
	TextLength      int     `json:"text_length"`
	PrintableRatio  float64 `json:"printable_ratio"`
	DurationMs      int64   `json:"duration_ms"`
}

type ExtractionMethod string

const (
	MethodAI      ExtractionMethod = "ai"
	MethodPattern ExtractionMethod = "pattern"
)

// FieldValue is one structured field extracted from document text. Value is
// deliberately open (string or number depending on the field kind); Method
// records which layer produced it.
type FieldValue struct {
	Value      any              `json:"value"`
	Confidence float64          `json:"confidence"`
	Method     ExtractionMethod `json:"method"`
}

// Document is the unit of work flowing through the system. After creation it
// is mutated only by the workflow executor and the approval gate.
type Document struct {
	ID               uuid.UUID               `json:"id"`
	StorageKey       string                  `json:"storage_key"`
	Filename         string                  `json:"filename"`
	MimeType         string                  `json:"mime_type"`
	SizeBytes        int64                   `json:"size_bytes"`
	Status           DocumentStatus          `json:"status"`
	ExtractedText    string                  `json:"extracted_text,omitempty"`
	ExtractionStats  *ExtractionStats        `json:"extraction_stats,omitempty"`
	StructuredFields map[string]FieldValue   `json:"structured_fields,omitempty"`
	Execution        *WorkflowExecutionState `json:"execution,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}
