package errors

import (
	"context"
	"fmt"

	"github.com/hahn-schickard/modbus-technology-adapter/pkg/logger"
)

// ErrorHandler provides centralized, type-switched error handling for every
// kind named in the error hierarchy.
type ErrorHandler struct {
	diagnosticPublisher DiagnosticPublisher
}

// DiagnosticPublisher publishes a diagnostic code/message pair to whatever
// external channel the host application uses (health endpoint, MQTT, etc).
type DiagnosticPublisher interface {
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

func NewErrorHandler(publisher DiagnosticPublisher) *ErrorHandler {
	return &ErrorHandler{diagnosticPublisher: publisher}
}

// Handle logs err at a severity-appropriate level and optionally emits a
// diagnostic for it.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	switch e := err.(type) {
	case *ConfigurationError:
		h.handleConfigurationError(ctx, e)
	case *TransportError:
		h.handleTransportError(ctx, e)
	case *ProtocolError:
		h.handleProtocolError(ctx, e)
	case *LifecycleError:
		h.handleLifecycleError(ctx, e)
	case *RegistryError:
		h.handleRegistryError(ctx, e)
	case *ValidationError:
		h.handleValidationError(ctx, e)
	case *AdapterError:
		h.handleAdapterError(ctx, e)
	default:
		h.handleGenericError(ctx, err)
	}
}

func (h *ErrorHandler) logAtSeverity(sev ErrorSeverity, msg string) {
	switch sev {
	case SeverityCritical:
		logger.LogError("🔴 CRITICAL: %s", msg)
	case SeverityError:
		logger.LogError("❌ %s", msg)
	case SeverityWarning:
		logger.LogWarn("⚠️ %s", msg)
	default:
		logger.LogInfo("ℹ️ %s", msg)
	}
}

func (h *ErrorHandler) publish(ctx context.Context, code int, message string) {
	if h.diagnosticPublisher == nil {
		return
	}
	if err := h.diagnosticPublisher.PublishDiagnostic(ctx, code, message); err != nil {
		logger.LogDebug("failed to publish diagnostic: %v", err)
	}
}

func (h *ErrorHandler) handleConfigurationError(ctx context.Context, err *ConfigurationError) {
	h.logAtSeverity(err.Severity, err.Error())
	h.publish(ctx, err.Code, fmt.Sprintf("config field %q: %s", err.Field, err.Op))
}

func (h *ErrorHandler) handleTransportError(ctx context.Context, err *TransportError) {
	h.logAtSeverity(err.Severity, err.Error())
	h.publish(ctx, err.Code, fmt.Sprintf("transport on %q: %s", err.Port, err.Op))
}

func (h *ErrorHandler) handleProtocolError(ctx context.Context, err *ProtocolError) {
	h.logAtSeverity(err.Severity, err.Error())
	h.publish(ctx, err.Code, fmt.Sprintf("protocol slave %d addr %d: %s", err.SlaveID, err.Address, err.Op))
}

func (h *ErrorHandler) handleLifecycleError(ctx context.Context, err *LifecycleError) {
	h.logAtSeverity(err.Severity, err.Error())
	h.publish(ctx, err.Code, fmt.Sprintf("device %q deregistered", err.DeviceID))
}

func (h *ErrorHandler) handleRegistryError(ctx context.Context, err *RegistryError) {
	h.logAtSeverity(err.Severity, err.Error())
	h.publish(ctx, err.Code, fmt.Sprintf("registry refused device %q", err.DeviceID))
}

func (h *ErrorHandler) handleValidationError(ctx context.Context, err *ValidationError) {
	h.logAtSeverity(err.Severity, err.Error())
	h.publish(ctx, err.Code, fmt.Sprintf("validation failed for %q", err.Field))
}

func (h *ErrorHandler) handleAdapterError(ctx context.Context, err *AdapterError) {
	h.logAtSeverity(err.Severity, err.Error())
	h.publish(ctx, err.Code, err.Op)
}

func (h *ErrorHandler) handleGenericError(ctx context.Context, err error) {
	logger.LogError("❌ untyped error: %v", err)
	h.publish(ctx, 99, err.Error())
}

// IsRecoverable returns true if the caller may continue after err.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	switch e := err.(type) {
	case *ConfigurationError:
		return false
	case *AdapterError:
		return e.Severity != SeverityCritical
	case *TransportError:
		return e.Severity != SeverityCritical
	case *ProtocolError:
		return e.Severity != SeverityCritical
	case *RegistryError:
		return e.Severity != SeverityCritical
	default:
		return true
	}
}

// GetDiagnosticCode extracts the diagnostic code from any adapter error.
func GetDiagnosticCode(err error) int {
	if err == nil {
		return 0
	}
	switch e := err.(type) {
	case *ConfigurationError:
		return e.Code
	case *TransportError:
		return e.Code
	case *ProtocolError:
		return e.Code
	case *LifecycleError:
		return e.Code
	case *RegistryError:
		return e.Code
	case *ValidationError:
		return e.Code
	case *AdapterError:
		return e.Code
	default:
		return 99
	}
}
