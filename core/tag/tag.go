package tag

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const (
	// TagName is the struct tag holding the default value.
	TagName = "default"

	// maxDepth bounds nested struct traversal.
	maxDepth = 16
)

var (
	ErrTargetMustBePointer = errors.New("target must be a non-nil pointer to struct")
	ErrMaxDepthExceeded    = errors.New("max nesting depth exceeded")
)

// ApplyDefaults sets zero-valued struct fields from their `default` tags.
// The target must be a pointer to a struct. Nested structs and pointers to
// structs are traversed; already-set fields are left untouched.
//
// Example:
//
//	type Config struct {
//	    BaseURL string        `default:"https://api.marketbay.io"`
//	    Timeout time.Duration `default:"10s"`
//	}
func ApplyDefaults(target any) error {
	valueOf := reflect.ValueOf(target)
	if valueOf.Kind() != reflect.Pointer || valueOf.IsNil() {
		return ErrTargetMustBePointer
	}

	elem := valueOf.Elem()
	if elem.Kind() != reflect.Struct {
		return ErrTargetMustBePointer
	}

	return applyStruct(elem, 0)
}

func applyStruct(value reflect.Value, depth int) error {
	if depth >= maxDepth {
		return ErrMaxDepthExceeded
	}

	typ := value.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := value.Field(i)
		if !field.CanSet() {
			continue
		}

		// Recurse into structs before reading the tag so embedded configs
		// pick up their own defaults.
		switch field.Kind() {
		case reflect.Struct:
			if field.Type() != reflect.TypeOf(time.Time{}) {
				if err := applyStruct(field, depth+1); err != nil {
					return err
				}
				continue
			}
		case reflect.Pointer:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				if err := applyStruct(field.Elem(), depth+1); err != nil {
					return err
				}
				continue
			}
		}

		tagValue, ok := typ.Field(i).Tag.Lookup(TagName)
		if !ok || !field.IsZero() {
			continue
		}

		if err := setField(field, tagValue); err != nil {
			return errors.Join(errors.New("field "+typ.Field(i).Name), err)
		}
	}

	return nil
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)

	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(v)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration is an int64 with its own syntax
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(v)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(v)

	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(v)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return errors.New("unsupported slice element type " + field.Type().Elem().String())
		}
		parts := strings.Split(raw, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				slice = reflect.Append(slice, reflect.ValueOf(p))
			}
		}
		field.Set(slice)

	default:
		return errors.New("unsupported field kind " + field.Kind().String())
	}

	return nil
}
