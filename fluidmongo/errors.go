package fluidmongo

import (
	"context"
	"errors"
	"strings"

	"github.com/lemmego/fluid"
	"go.mongodb.org/mongo-driver/mongo"
)

// =====================================
// Error Conversion
// =====================================

// convertMongoError converts MongoDB errors to fluid errors. Errors that are
// already fluid errors pass through unchanged.
func convertMongoError(err error) error {
	if err == nil {
		return nil
	}

	var ferr fluid.Error
	if errors.As(err, &ferr) {
		return err
	}

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return fluid.Error{
			Type:    fluid.ErrorTypeNotFound,
			Message: "document not found",
			Cause:   err,
		}
	case errors.Is(err, mongo.ErrNilDocument), errors.Is(err, mongo.ErrNilValue):
		return fluid.Error{
			Type:    fluid.ErrorTypeInvalidArgument,
			Message: "nil document provided",
			Cause:   err,
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return fluid.Error{
			Type:    fluid.ErrorTypeTimeout,
			Message: "operation timeout",
			Cause:   err,
		}
	case mongo.IsDuplicateKeyError(err):
		return fluid.Error{
			Type:    fluid.ErrorTypeDuplicate,
			Message: "duplicate key violation",
			Cause:   err,
		}
	case mongo.IsNetworkError(err):
		return fluid.Error{
			Type:    fluid.ErrorTypeConnection,
			Message: "connection error",
			Cause:   err,
		}
	}

	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			if we.Code == 121 { // DocumentValidationFailure
				return fluid.Error{
					Type:    fluid.ErrorTypeConstraint,
					Message: "document validation failed",
					Cause:   err,
				}
			}
		}
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case 13, 18: // Unauthorized, AuthenticationFailed
			return fluid.Error{
				Type:    fluid.ErrorTypeConnection,
				Message: "authentication failed",
				Cause:   err,
			}
		case 20: // IllegalOperation, e.g. transactions on a standalone server
			return fluid.Error{
				Type:    fluid.ErrorTypeUnsupported,
				Message: "operation not supported by this deployment",
				Cause:   err,
			}
		case 244, 251: // TransactionTooOld, NoSuchTransaction
			return fluid.Error{
				Type:    fluid.ErrorTypeTransaction,
				Message: "transaction aborted",
				Cause:   err,
			}
		}
		if cmdErr.HasErrorLabel("TransientTransactionError") {
			return fluid.Error{
				Type:    fluid.ErrorTypeTransaction,
				Message: "transient transaction error",
				Cause:   err,
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "server selection") || strings.Contains(errStr, "connection") {
		return fluid.Error{
			Type:    fluid.ErrorTypeConnection,
			Message: "connection error",
			Cause:   err,
		}
	}

	return fluid.Error{
		Type:    fluid.ErrorTypeDatabase,
		Message: "database operation failed",
		Cause:   err,
	}
}

func notFound(id interface{}) error {
	return fluid.Error{
		Type:    fluid.ErrorTypeNotFound,
		Message: "record not found",
		ID:      id,
	}
}
