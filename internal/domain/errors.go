// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrDocumentNotFound = errors.New("document not found")
var ErrWorkflowNotFound = errors.New("workflow not found")
var ErrWorkflowInactive = errors.New("workflow is not active")
var ErrApprovalNotFound = errors.New("approval request not found")
var ErrApprovalNotPending = errors.New("approval request is not pending")
var ErrApprovalExpired = errors.New("approval request has expired")
var ErrInvalidStep = errors.New("invalid step")
var ErrInvalidWorkflow = errors.New("invalid workflow definition")
var ErrMissingExtractedText = errors.New("document has no extracted text")
var ErrInvalidDecision = errors.New("invalid approval decision")
