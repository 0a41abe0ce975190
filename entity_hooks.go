package fluid

import "context"

// =====================================
// Entity Hook Interfaces
// =====================================

// Validator is implemented by entities that check themselves before they are
// persisted. It runs after the pre-save hooks, on the record being saved.
type Validator interface {
	Validate(ctx context.Context) error
}

// BeforeSaveHook is called on the record right before it is inserted or updated
type BeforeSaveHook interface {
	BeforeSave(ctx context.Context) error
}

// AfterLoadHook is called on every record a repository read returns
type AfterLoadHook interface {
	AfterLoad(ctx context.Context) error
}

func validateEntity(ctx context.Context, entity interface{}) error {
	v, ok := entity.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(ctx); err != nil {
		if IsErrorType(err, ErrorTypeValidation) {
			return err
		}
		return NewErrorWithCause(ErrorTypeValidation, "entity validation failed", err)
	}
	return nil
}

func beforeSave(ctx context.Context, entity interface{}) error {
	if h, ok := entity.(BeforeSaveHook); ok {
		if err := h.BeforeSave(ctx); err != nil {
			return NewErrorWithCause(ErrorTypeHook, "BeforeSave failed", err)
		}
	}
	return nil
}

func afterLoad(ctx context.Context, entity interface{}) error {
	if h, ok := entity.(AfterLoadHook); ok {
		if err := h.AfterLoad(ctx); err != nil {
			return NewErrorWithCause(ErrorTypeHook, "AfterLoad failed", err)
		}
	}
	return nil
}
