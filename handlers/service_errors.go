package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/audit-query/services"
	"github.com/upb/audit-query/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// queryFailure is how one error category reaches a caller of the events API
type queryFailure struct {
	status int
	// message replaces the error text; empty echoes the error to the caller
	message string
	// logged at level when set; caller mistakes are not logged
	log   string
	level zapcore.Level
}

var queryFailures = map[services.ErrorType]queryFailure{
	services.ErrorTypeInvalidQuery: {status: http.StatusBadRequest},
	services.ErrorTypeValidation:   {status: http.StatusBadRequest},
	services.ErrorTypeUnauthorized: {status: http.StatusUnauthorized},
	services.ErrorTypeForbidden:    {status: http.StatusForbidden},
	services.ErrorTypeStoreUnavailable: {
		status:  http.StatusServiceUnavailable,
		message: "Audit store is unavailable",
		log:     "audit query rejected, store unavailable",
		level:   zapcore.WarnLevel,
	},
	services.ErrorTypeTimeout: {
		status:  http.StatusGatewayTimeout,
		message: "Audit query timed out",
		log:     "audit query timed out",
		level:   zapcore.WarnLevel,
	},
	// The index points at bytes that do not decode as the indexed event
	services.ErrorTypeDataCorruption: {
		status:  http.StatusInternalServerError,
		message: "Stored event payload is corrupt",
		log:     "audit payload does not match its index entry",
		level:   zapcore.ErrorLevel,
	},
	services.ErrorTypeInternal: {
		status:  http.StatusInternalServerError,
		message: "Audit query failed",
		log:     "audit query failed",
		level:   zapcore.ErrorLevel,
	},
}

var unclassifiedFailure = queryFailure{
	status:  http.StatusInternalServerError,
	message: "Audit query failed unexpectedly",
	log:     "audit query failed with an unclassified error",
	level:   zapcore.ErrorLevel,
}

// HandleServiceError writes the response for an error raised while
// answering an audit query
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	errType := services.GetErrorType(err)
	details := services.GetErrorDetails(err)

	failure, ok := queryFailures[errType]
	switch {
	case ok:
	case utils.IsValidationError(err):
		failure = queryFailures[services.ErrorTypeValidation]
		details = make(map[string]interface{})
		for field, reason := range utils.GetValidationFields(err) {
			details[field] = reason
		}
	case errors.Is(err, context.DeadlineExceeded):
		failure = queryFailures[services.ErrorTypeTimeout]
	default:
		failure = unclassifiedFailure
	}

	if failure.log != "" {
		fields := []zap.Field{zap.Error(err)}
		if errType != "" {
			fields = append(fields, zap.String("error_type", string(errType)))
		}
		if len(details) > 0 {
			fields = append(fields, zap.Any("details", details))
		}
		logger.Log(failure.level, failure.log, fields...)
	}

	message := failure.message
	if message == "" {
		message = err.Error()
	}
	if len(details) == 0 {
		details = nil
	}
	if werr := utils.WriteError(w, failure.status, message, details); werr != nil {
		logger.Error("failed to write audit query error response",
			zap.Int("status", failure.status), zap.Error(werr))
	}
}
