package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Domain failure markers raised by the update engine and its collaborators.
var (
	ErrIO                        = errors.New("device i/o failure")
	ErrCorruptFlashData          = errors.New("corrupt flash data")
	ErrUnresolvedShadowReference = errors.New("unresolved shadow reference")
	ErrAllocationExhausted       = errors.New("serial number allocation exhausted")
	ErrManifestEncodingOverflow  = errors.New("manifest line overflow")
	ErrReformatFailed            = errors.New("reformat failed")
	ErrVerificationFailed        = errors.New("verification failed")
	ErrUnsupportedOnPlatform     = errors.New("unsupported on this platform")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails summarizes an error for structured logs and API payloads.
type ErrorDetails struct {
	Kind    string
	Message string
	Hint    string
}

// Details classifies err against the known markers and suggests a next step.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: "unknown", Message: err.Error(), Hint: "check logs for details"}
	switch {
	case errors.Is(err, ErrCorruptFlashData):
		details.Kind = "corrupt_flash"
		details.Hint = "statistics were discarded; the device will be reflashed on update"
	case errors.Is(err, ErrUnresolvedShadowReference):
		details.Kind = "unresolved_shadow"
		details.Hint = "refresh the shadow file cache for this deployment"
	case errors.Is(err, ErrAllocationExhausted):
		details.Kind = "srn_exhausted"
		details.Hint = "reserve a new serial number block while online"
	case errors.Is(err, ErrManifestEncodingOverflow):
		details.Kind = "manifest_overflow"
		details.Hint = "shorten playlist or message names in the deployment"
	case errors.Is(err, ErrReformatFailed):
		details.Kind = "reformat_failed"
		details.Hint = "the device may need to be replaced"
	case errors.Is(err, ErrVerificationFailed):
		details.Kind = "verification_failed"
		details.Hint = "reinsert the device and run the update again"
	case errors.Is(err, ErrUnsupportedOnPlatform):
		details.Kind = "unsupported"
		details.Hint = "run disk repair on a host with fsck.vfat and mkfs.vfat"
	case errors.Is(err, ErrIO):
		details.Kind = "io"
		details.Hint = "check that the device is still mounted and writable"
	case errors.Is(err, ErrExternalTool):
		details.Kind = "external_tool"
		details.Hint = "verify the disk utilities are installed"
	case errors.Is(err, ErrConfiguration):
		details.Kind = "configuration"
		details.Hint = "review config.toml"
	case errors.Is(err, ErrValidation):
		details.Kind = "validation"
	case errors.Is(err, ErrNotFound):
		details.Kind = "not_found"
	case errors.Is(err, ErrTimeout):
		details.Kind = "timeout"
	case errors.Is(err, ErrTransient):
		details.Kind = "transient"
		details.Hint = "retry the operation"
	}
	return details
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
