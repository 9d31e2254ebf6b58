// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"time"
)

type StepType string

const (
	StepExtractText      StepType = "extract_text"
	StepAnalyzeContent   StepType = "analyze_content"
	StepSendNotification StepType = "send_notification"
	StepStoreData        StepType = "store_data"
	StepRequireApproval  StepType = "require_approval"
)

// StepTypes lists every dispatchable step type in a stable order.
var StepTypes = []StepType{
	StepExtractText,
	StepAnalyzeContent,
	StepSendNotification,
	StepStoreData,
	StepRequireApproval,
}

// ExtractTextConfig tunes the text extraction step.
type ExtractTextConfig struct {
	MaxPages int  `json:"max_pages,omitempty"`
	ForceOCR bool `json:"force_ocr,omitempty"`
}

// AnalyzeContentConfig selects the field extraction category.
// An empty category means "general".
type AnalyzeContentConfig struct {
	Category string `json:"category,omitempty"`
}

// NotificationConfig names the channels to post to. Delivery is best effort.
type NotificationConfig struct {
	Channels []string `json:"channels"`
	Message  string   `json:"message,omitempty"`
}

// StoreDataConfig names the downstream integrations to push extracted data to.
type StoreDataConfig struct {
	Targets []string `json:"targets"`
}

// ApprovalConfig controls the human approval gate.
type ApprovalConfig struct {
	RequesterID    string `json:"requester_id,omitempty"`
	Channel        string `json:"channel,omitempty"`
	ExpiresInHours int    `json:"expires_in_hours,omitempty"`
}

// StepConfig is a closed tagged union: only the member matching the step's
// Type may be populated. Keeping the union closed means step dispatch never
// has to interpret a free-form map.
type StepConfig struct {
	ExtractText      *ExtractTextConfig    `json:"extract_text,omitempty"`
	AnalyzeContent   *AnalyzeContentConfig `json:"analyze_content,omitempty"`
	SendNotification *NotificationConfig   `json:"send_notification,omitempty"`
	StoreData        *StoreDataConfig      `json:"store_data,omitempty"`
	RequireApproval  *ApprovalConfig       `json:"require_approval,omitempty"`
}

// Step is one typed unit of work within a workflow definition.
type Step struct {
	Name     string     `json:"name"`
	Type     StepType   `json:"type"`
	Position int        `json:"position"`
	Enabled  bool       `json:"enabled"`
	Config   StepConfig `json:"config"`
}

// Validate checks that the step type is known and that the config union
// carries at most the member matching the type (a missing member means
// defaults).
func (s Step) Validate() error {
	switch s.Type {
	case StepExtractText, StepAnalyzeContent, StepSendNotification,
		StepStoreData, StepRequireApproval:
	default:
		return fmt.Errorf("%w: unknown step type %q", ErrInvalidStep, s.Type)
	}

	populated := 0
	mismatch := false
	check := func(t StepType, set bool) {
		if !set {
			return
		}
		populated++
		if s.Type != t {
			mismatch = true
		}
	}
	check(StepExtractText, s.Config.ExtractText != nil)
	check(StepAnalyzeContent, s.Config.AnalyzeContent != nil)
	check(StepSendNotification, s.Config.SendNotification != nil)
	check(StepStoreData, s.Config.StoreData != nil)
	check(StepRequireApproval, s.Config.RequireApproval != nil)

	if populated > 1 || mismatch {
		return fmt.Errorf("%w: config does not match step type %q", ErrInvalidStep, s.Type)
	}
	return nil
}

// ApprovalExpiry resolves the approval deadline for a require_approval step.
// Zero means no expiry.
func (s Step) ApprovalExpiry() time.Duration {
	if s.Config.RequireApproval == nil || s.Config.RequireApproval.ExpiresInHours <= 0 {
		return 0
	}
	return time.Duration(s.Config.RequireApproval.ExpiresInHours) * time.Hour
}
