package inspect

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Request body shapes enforceable by schema rules. The registry maps the
// schema name used in policy documents to a decode-and-validate function.

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,handle"`
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required"`
}

type updateUserPreferencesRequest struct {
	UserID              string `json:"user_id" validate:"required,uuid4"`
	EnableNotifications *bool  `json:"enable_notifications" validate:"required"`
	Theme               string `json:"theme" validate:"required"`
}

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaRegistry validates raw JSON bodies against named request schemas.
type SchemaRegistry struct {
	validate *validator.Validate
	schemas  map[string]func() any
}

// NewSchemaRegistry builds the registry with all known schemas registered.
func NewSchemaRegistry() *SchemaRegistry {
	v := validator.New(validator.WithRequiredStructEnabled())
	// `handle` restricts usernames to word characters.
	_ = v.RegisterValidation("handle", func(fl validator.FieldLevel) bool {
		return handlePattern.MatchString(fl.Field().String())
	})
	return &SchemaRegistry{
		validate: v,
		schemas: map[string]func() any{
			"CreateUserRequest":            func() any { return &createUserRequest{} },
			"UpdateUserPreferencesRequest": func() any { return &updateUserPreferencesRequest{} },
		},
	}
}

// Known reports whether the named schema is registered.
func (r *SchemaRegistry) Known(name string) bool {
	_, ok := r.schemas[name]
	return ok
}

// Validate decodes raw as JSON and checks it against the named schema.
func (r *SchemaRegistry) Validate(name string, raw []byte) error {
	factory, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("schema %q not registered", name)
	}
	target := factory()
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("body is not valid JSON: %w", err)
	}
	if err := r.validate.Struct(target); err != nil {
		return fmt.Errorf("body failed %s validation: %w", name, err)
	}
	return nil
}
