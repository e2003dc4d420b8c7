// Package businessflow contains the use cases behind the HTTP API: campaign management,
// delivery callbacks, quota reads and delivery reports
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Campaign-related errors
	ErrCampaignNotFound        = errors.New("campaign not found")
	ErrCampaignAccessDenied    = errors.New("campaign access denied")
	ErrCampaignUUIDRequired    = errors.New("campaign UUID is required")
	ErrInvalidStatusTransition = errors.New("invalid campaign status transition")
	ErrCampaignNotDeletable    = errors.New("campaign can only be deleted as a draft or once finished")
	ErrScheduleInPast          = errors.New("schedule time must be in the future")
	ErrTemplateRequired        = errors.New("campaign template is required")
	ErrTitleRequired           = errors.New("campaign title is required")

	// Audience errors
	ErrRecipientNotFound = errors.New("recipient not found")

	// Quota errors
	ErrCampaignQuotaExceeded = errors.New("campaign quota exceeded for the current period")
	ErrQuotaNotFound         = errors.New("no quota period covers the current time")

	// Callback errors
	ErrCallbackStatusInvalid = errors.New("callback status must be delivered or failed")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignAccessDenied(err error) bool {
	return errors.Is(err, ErrCampaignAccessDenied)
}

func IsInvalidStatusTransition(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition)
}

func IsCampaignNotDeletable(err error) bool {
	return errors.Is(err, ErrCampaignNotDeletable)
}

func IsScheduleInPast(err error) bool {
	return errors.Is(err, ErrScheduleInPast)
}

func IsRecipientNotFound(err error) bool {
	return errors.Is(err, ErrRecipientNotFound)
}

func IsCampaignQuotaExceeded(err error) bool {
	return errors.Is(err, ErrCampaignQuotaExceeded)
}

func IsQuotaNotFound(err error) bool {
	return errors.Is(err, ErrQuotaNotFound)
}

func IsCallbackStatusInvalid(err error) bool {
	return errors.Is(err, ErrCallbackStatusInvalid)
}

// IsValidationError reports request problems the caller can fix
func IsValidationError(err error) bool {
	return errors.Is(err, ErrCampaignUUIDRequired) ||
		errors.Is(err, ErrTemplateRequired) ||
		errors.Is(err, ErrTitleRequired) ||
		errors.Is(err, ErrInvalidPage) ||
		errors.Is(err, ErrInvalidPageSize)
}

// BusinessCode extracts the code of the outermost BusinessError
func BusinessCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
