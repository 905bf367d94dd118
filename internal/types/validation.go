package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs go-playground/validator tags on s and converts failures
// into a validation AppError listing every offending field.
func ValidateStruct(code ErrorCode, s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewAppError(code, "validation failed", err)
	}
	fields := make(map[string]any, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return NewAppErrorWithDetails(code, strings.Join(msgs, "; "), nil, map[string]any{"fields": fields})
}

// ParseRule validates a stored rule definition and parses its condition
// tree. All returned errors are validation-class.
func ParseRule(def RuleDefinition) (*Rule, error) {
	if err := ValidateStruct(ErrCodeValidationInvalidRule, def); err != nil {
		return nil, err
	}
	cond, err := ParseConditions(def.Conditions, def.DataType)
	if err != nil {
		return nil, err
	}
	return &Rule{
		RuleID:      def.RuleID,
		FarmID:      def.FarmID,
		Stakeholder: def.Stakeholder,
		DataType:    def.DataType,
		Name:        def.Name,
		Priority:    def.Priority,
		Conditions:  cond,
		Actions:     def.Actions,
		StopOnMatch: def.StopsOnMatch(),
	}, nil
}
