package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// Limits applied to incoming payloads
	MaxQueryLength   = 1 << 20
	MaxMutationBytes = 16 << 20
	MaxVars          = 256
	MaxPredicateLen  = 255

	predicatePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.~-]*$`)
	varPattern       = regexp.MustCompile(`^\$[a-zA-Z_][a-zA-Z0-9_]*$`)
)

var (
	ErrNilPayload     = errors.New("payload cannot be nil")
	ErrEmptyMutation  = errors.New("mutation has neither set_json nor delete_json")
	ErrEmptyOperation = errors.New("operation has no schema, drop_attr or drop_all")
)

func init() {
	validate = validator.New()
}

// requestShape mirrors api.Request with the tag rules that apply to it.
type requestShape struct {
	Query string            `validate:"required"`
	Vars  map[string]string `validate:"omitempty,dive,keys,startswith=$,endkeys"`
}

// Struct validates v against its `validate` struct tags.
func Struct(v any) error {
	if v == nil {
		return ErrNilPayload
	}
	return formatValidationError(validate.Struct(v))
}

// ValidateRequest checks a query request before it is parsed
func ValidateRequest(req *api.Request) error {
	if req == nil {
		return ErrNilPayload
	}
	if err := Struct(&requestShape{Query: req.Query, Vars: req.Vars}); err != nil {
		return err
	}
	if len(req.Query) > MaxQueryLength {
		return fmt.Errorf("Query: exceeds maximum length of %d bytes", MaxQueryLength)
	}
	if len(req.Vars) > MaxVars {
		return fmt.Errorf("Vars: maximum %d variables allowed, got %d", MaxVars, len(req.Vars))
	}
	for name := range req.Vars {
		if !varPattern.MatchString(name) {
			return fmt.Errorf("Vars: %q is not a valid variable name", name)
		}
	}
	return nil
}

// ValidateMutation checks that a mutation carries well-formed JSON
func ValidateMutation(mu *api.Mutation) error {
	if mu == nil {
		return ErrNilPayload
	}
	if len(mu.SetJson) == 0 && len(mu.DeleteJson) == 0 {
		return ErrEmptyMutation
	}
	if len(mu.SetJson)+len(mu.DeleteJson) > MaxMutationBytes {
		return fmt.Errorf("Mutation: exceeds maximum size of %d bytes", MaxMutationBytes)
	}
	if len(mu.SetJson) > 0 && !json.Valid(mu.SetJson) {
		return errors.New("SetJson: invalid JSON")
	}
	if len(mu.DeleteJson) > 0 && !json.Valid(mu.DeleteJson) {
		return errors.New("DeleteJson: invalid JSON")
	}
	return nil
}

// ValidateOperation checks a schema operation
func ValidateOperation(op *api.Operation) error {
	if op == nil {
		return ErrNilPayload
	}
	if op.Schema == "" && op.DropAttr == "" && !op.DropAll {
		return ErrEmptyOperation
	}
	if op.DropAttr != "" {
		if err := ValidatePredicate(op.DropAttr); err != nil {
			return fmt.Errorf("DropAttr: %w", err)
		}
	}
	return nil
}

// ValidatePredicate validates a predicate name
func ValidatePredicate(name string) error {
	if name == "" {
		return errors.New("predicate name cannot be empty")
	}
	if len(name) > MaxPredicateLen {
		return fmt.Errorf("predicate '%s' exceeds maximum length of %d characters", name, MaxPredicateLen)
	}
	if !predicatePattern.MatchString(name) {
		return fmt.Errorf("predicate '%s' is invalid (must start with letter or underscore)", name)
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Namespace()
		param := e.Param()

		switch e.Tag() {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min", "gte":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max", "lte":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		case "startswith":
			return fmt.Errorf("%s: must start with %q", field, param)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, e.Tag())
		}
	}

	return err
}
