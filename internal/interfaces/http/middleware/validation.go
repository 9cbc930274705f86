package middleware

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/erp/procurement/internal/domain/procurement"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var setupOnce sync.Once

// SetupValidator configures gin's validator: JSON field names in errors, decimal
// fields exposed as strings, and the decimal_gt0, decimal_gte0 and iso_currency tags.
func SetupValidator() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		RegisterValidations(v)
	})
}

// RegisterValidations installs the procurement tags on v
func RegisterValidations(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("decimal_gt0", func(fl validator.FieldLevel) bool {
		d, ok := decimalOf(fl.Field())
		return ok && d.IsPositive()
	})
	_ = v.RegisterValidation("decimal_gte0", func(fl validator.FieldLevel) bool {
		d, ok := decimalOf(fl.Field())
		return ok && !d.IsNegative()
	})
	_ = v.RegisterValidation("iso_currency", func(fl validator.FieldLevel) bool {
		code := fl.Field().String()
		if len(code) != 3 {
			return false
		}
		_, err := currency.ParseISO(strings.ToUpper(code))
		return err == nil
	})
}

func decimalOf(field reflect.Value) (decimal.Decimal, bool) {
	switch field.Kind() {
	case reflect.String:
		d, err := decimal.NewFromString(field.String())
		return d, err == nil
	default:
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// ValidationErrorFrom converts a binding error into the procurement validation error,
// one detail per offending field keyed by its JSON path.
// It returns nil when err is not a validation failure.
func ValidationErrorFrom(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := procurement.FieldErrors{}
	for _, e := range verrs {
		fields[fieldPath(e)] = validationMessage(e)
	}
	return fields.Err()
}

// fieldPath drops the top-level struct name from the namespace: "CreateOrderRequest.items[0].quantity" -> "items[0].quantity"
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		if e.Kind() == reflect.String {
			return "must be at least " + e.Param() + " characters"
		}
		if e.Kind() == reflect.Slice {
			return "must contain at least " + e.Param() + " entries"
		}
		return "must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return "must be at most " + e.Param() + " characters"
		}
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "uuid":
		return "must be a UUID"
	case "decimal_gt0":
		return "must be a number greater than zero"
	case "decimal_gte0":
		return "must be a number not below zero"
	case "iso_currency":
		return "must be an ISO 4217 code"
	default:
		return "is invalid"
	}
}
