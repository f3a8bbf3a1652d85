package audit

import (
	"context"

	"stagepass/pkg/platform/faults"
	"stagepass/pkg/requestcontext"
)

// ReportFault records a classified fault as ERROR_OCCURRED with its full
// internal detail. It implements faults.Reporter.
func (s *Sink) ReportFault(ctx context.Context, fault *faults.AppFault, original error) {
	details := map[string]any{
		"category":    string(fault.Category),
		"status":      fault.HTTPStatus,
		"operational": fault.Operational,
	}
	if fault.Code != "" {
		details["code"] = fault.Code
	}
	if original != nil {
		details["cause"] = original.Error()
	}
	for k, v := range fault.Details {
		details[k] = v
	}

	event := Event{
		Type:         EventErrorOccurred,
		Success:      false,
		ErrorMessage: fault.Message,
		MaskedIP:     requestcontext.ClientIP(ctx),
		Details:      details,
	}
	if pid := requestcontext.PrincipalID(ctx); !pid.IsNil() {
		event.PrincipalID = pid.String()
	}
	if via := requestcontext.CredentialID(ctx); !via.IsNil() {
		details["caller_credential_id"] = via.String()
	}
	s.Emit(ctx, event)
}
