package orchestrator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

const (
	retryHint       = "please check your connection and try again"
	unexpectedError = "unexpected error"
)

// errPanic marks a recovered panic inside a remote call.
var errPanic = errors.New(unexpectedError)

// Normalize maps any error into one non-empty human readable message.
func Normalize(err error) string {
	if err == nil {
		return ""
	}

	var (
		validation *domain.ValidationError
		remote     *domain.RemoteError
		transport  *domain.TransportError
		refresh    *domain.RefreshError
	)

	switch {
	case errors.Is(err, errPanic):
		return unexpectedError
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &remote):
		if msg := Stringify(remote.Payload); msg != "" {
			return msg
		}
		return remote.Op + " failed"
	case errors.As(err, &transport):
		return fmt.Sprintf("%s (%s)", transport.Error(), retryHint)
	case errors.As(err, &refresh):
		return refresh.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s (%s)", err.Error(), retryHint)
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return unexpectedError
}

// Stringify flattens a decoded remote payload into text.
// Variants {Tag: {...}} render as "Tag: k=v, ...", objects as "k=v, ..."
// with sorted keys, lists joined by ", ", bytes as 0x-hex.
func Stringify(v any) string {
	return formatValue(reflect.ValueOf(v), 0)
}

const maxDepth = 16

func formatValue(v reflect.Value, depth int) string {
	if !v.IsValid() {
		return ""
	}
	if depth > maxDepth {
		return "..."
	}

	if v.CanInterface() {
		switch t := v.Interface().(type) {
		case string:
			return t
		case json.Number:
			return t.String()
		case []byte:
			return "0x" + hex.EncodeToString(t)
		case *uint256.Int:
			if t == nil {
				return ""
			}
			return t.Dec()
		case uint256.Int:
			return t.Dec()
		case *big.Int:
			if t == nil {
				return ""
			}
			return t.String()
		case error:
			return t.Error()
		}
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return ""
		}
		return formatValue(v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		parts := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts = append(parts, formatValue(v.Index(i), depth+1))
		}
		return strings.Join(parts, ", ")
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			break
		}
		return formatObject(v, depth)
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(v.Interface())
	}

	if v.CanInterface() {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprint(v.Interface())
	}
	return ""
}

func formatObject(m reflect.Value, depth int) string {
	keys := make([]string, 0, m.Len())
	for _, k := range m.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	get := func(k string) reflect.Value {
		return m.MapIndex(reflect.ValueOf(k).Convert(m.Type().Key()))
	}

	if len(keys) == 1 && startsUpper(keys[0]) {
		tag := keys[0]
		inner := get(tag)
		for inner.Kind() == reflect.Interface && !inner.IsNil() {
			inner = inner.Elem()
		}
		if inner.Kind() == reflect.Map && inner.Type().Key().Kind() == reflect.String {
			return tag + ": " + pairs(inner, depth+1)
		}
		if formatted := formatValue(inner, depth+1); formatted != "" {
			return tag + ": " + formatted
		}
		return tag
	}

	return pairs(m, depth)
}

func pairs(m reflect.Value, depth int) string {
	keys := make([]string, 0, m.Len())
	for _, k := range m.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		val := m.MapIndex(reflect.ValueOf(k).Convert(m.Type().Key()))
		parts = append(parts, k+"="+formatValue(val, depth+1))
	}
	return strings.Join(parts, ", ")
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}
