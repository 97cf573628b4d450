package validator

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Validator validates configuration and request structs.
type Validator interface {
	// Struct validates a struct using its `validate` tags.
	Struct(s any) error

	// StructCtx validates a struct with a context.
	StructCtx(ctx context.Context, s any) error

	// GetValidator exposes the underlying validator instance.
	GetValidator() *validator.Validate
}

// Validate is the shared validator instance.
var (
	Validate Validator
	once     sync.Once
)

func init() {
	once.Do(func() {
		Validate = New()
	})
}

type validatorImpl struct {
	validator *validator.Validate
	trans     ut.Translator
}

// New creates a validator with translated English messages.
func New() Validator {
	v := &validatorImpl{
		validator: validator.New(),
	}

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	if trans, found := uni.GetTranslator("en"); found {
		v.trans = trans
		_ = en_translations.RegisterDefaultTranslations(v.validator, trans)
	}

	return v
}

func (v *validatorImpl) Struct(s any) error {
	if s == nil {
		return errors.New("validation target cannot be nil")
	}
	return v.translate(v.validator.Struct(s))
}

func (v *validatorImpl) StructCtx(ctx context.Context, s any) error {
	if s == nil {
		return errors.New("validation target cannot be nil")
	}
	return v.translate(v.validator.StructCtx(ctx, s))
}

func (v *validatorImpl) GetValidator() *validator.Validate {
	return v.validator
}

// translate rewrites validator.ValidationErrors into a FieldErrors value
// with human-readable messages.
func (v *validatorImpl) translate(err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || v.trans == nil {
		return err
	}

	fieldErrors := make(FieldErrors, 0, len(verrs))
	for _, fe := range verrs {
		fieldErrors = append(fieldErrors, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fe.Value(),
			Message: fe.Translate(v.trans),
		})
	}

	return fieldErrors
}

// FieldError describes a single failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// FieldErrors is the error returned for failed struct validation.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	messages := make([]string, 0, len(fe))
	for _, e := range fe {
		messages = append(messages, e.Message)
	}
	return strings.Join(messages, "; ")
}

// Has reports whether the named field failed validation.
func (fe FieldErrors) Has(field string) bool {
	for _, e := range fe {
		if e.Field == field {
			return true
		}
	}
	return false
}
