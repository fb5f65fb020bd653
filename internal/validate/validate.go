// Package validate sanitizes proposed field values before the merge engine
// sees them. Sanitization is pure: it never touches store state.
package validate

import (
	"fmt"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/cortega26/elrincondeebano-sub000/internal/model"
)

// FieldError reports a value that failed sanitization. A single FieldError
// fails the whole patch; nothing is partially applied.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Msg)
}

// Context carries cross-field state for rules that depend on more than the
// value itself, e.g. discount against the effective price.
type Context struct {
	// Product is the record being patched.
	Product *model.Product
	// Pending holds fields already sanitized earlier in the same patch.
	Pending map[string]any
}

// Priority fixes the sanitization order: price strictly before discount so
// the discount cap sees the pending price, then the remaining fields in a
// stable order.
var Priority = []string{
	model.FieldPrice,
	model.FieldDiscount,
	model.FieldName,
	model.FieldDescription,
	model.FieldCategory,
	model.FieldStock,
	model.FieldActive,
	model.FieldImagePath,
	model.FieldImageAVIFPath,
}

var priorityIndex = func() map[string]int {
	m := make(map[string]int, len(Priority))
	for i, f := range Priority {
		m[f] = i
	}
	return m
}()

// Known reports whether a validator is registered for the field.
func Known(field string) bool {
	_, ok := priorityIndex[field]
	return ok
}

// SortFields orders the patch's field names by sanitization priority.
// Unknown fields sort last, lexicographically, so conflict reporting is
// deterministic.
func SortFields(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, iok := priorityIndex[names[i]]
		pj, jok := priorityIndex[names[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		case jok:
			return false
		default:
			return names[i] < names[j]
		}
	})
	return names
}

const (
	maxNameLen        = 120
	maxDescriptionLen = 600
	maxCategoryLen    = 80
	maxPrice          = 10_000_000
	maxStock          = 1_000_000
	assetRoot         = "assets/images/"
)

// Sanitize checks and normalizes one proposed field value. The returned
// value has the field's canonical type: string, int64 or bool.
func Sanitize(field string, raw any, ctx Context) (any, error) {
	switch field {
	case model.FieldName:
		return stringField(field, raw, 1, maxNameLen)
	case model.FieldDescription:
		return stringField(field, raw, 0, maxDescriptionLen)
	case model.FieldCategory:
		return stringField(field, raw, 0, maxCategoryLen)
	case model.FieldPrice:
		return intField(field, raw, 0, maxPrice)
	case model.FieldStock:
		return intField(field, raw, 0, maxStock)
	case model.FieldDiscount:
		return discountField(raw, ctx)
	case model.FieldActive:
		return boolField(field, raw)
	case model.FieldImagePath:
		return assetPathField(field, raw, []string{".png", ".jpg", ".jpeg", ".webp"})
	case model.FieldImageAVIFPath:
		return assetPathField(field, raw, []string{".avif"})
	}
	return nil, &FieldError{Field: field, Msg: "no validator registered"}
}

func stringField(field string, raw any, minLen, maxLen int) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, &FieldError{Field: field, Msg: "must be a string"}
	}
	s = strings.TrimSpace(s)
	if len(s) < minLen {
		return nil, &FieldError{Field: field, Msg: "must not be empty"}
	}
	if len(s) > maxLen {
		return nil, &FieldError{Field: field, Msg: fmt.Sprintf("exceeds %d characters", maxLen)}
	}
	return s, nil
}

func intField(field string, raw any, minVal, maxVal int64) (any, error) {
	n, err := coerceInt(raw)
	if err != nil {
		return nil, &FieldError{Field: field, Msg: err.Error()}
	}
	if n < minVal || n > maxVal {
		return nil, &FieldError{Field: field, Msg: fmt.Sprintf("must be within [%d,%d]", minVal, maxVal)}
	}
	return n, nil
}

// discountField caps the discount at the effective price: the pending
// price from the same patch when present, otherwise the stored price.
func discountField(raw any, ctx Context) (any, error) {
	n, err := coerceInt(raw)
	if err != nil {
		return nil, &FieldError{Field: model.FieldDiscount, Msg: err.Error()}
	}
	if n < 0 {
		return nil, &FieldError{Field: model.FieldDiscount, Msg: "must not be negative"}
	}
	effective := ctx.Product.Price
	if pending, ok := ctx.Pending[model.FieldPrice]; ok {
		effective = pending.(int64)
	}
	if n > effective {
		return nil, &FieldError{
			Field: model.FieldDiscount,
			Msg:   fmt.Sprintf("exceeds effective price %d", effective),
		}
	}
	return n, nil
}

func boolField(field string, raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch v {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
	case float64:
		if v == 0 {
			return false, nil
		}
		if v == 1 {
			return true, nil
		}
	}
	return nil, &FieldError{Field: field, Msg: "must be a boolean"}
}

// assetPathField enforces the fixed asset root, forbids parent traversal,
// and checks the extension allowlist.
func assetPathField(field string, raw any, exts []string) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, &FieldError{Field: field, Msg: "must be a string"}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		// Empty clears the field; legacy records start with "".
		return "", nil
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == ".." {
			return nil, &FieldError{Field: field, Msg: "must not contain parent traversal"}
		}
	}
	if !strings.HasPrefix(s, assetRoot) {
		return nil, &FieldError{Field: field, Msg: "must be rooted under " + assetRoot}
	}
	ext := strings.ToLower(path.Ext(s))
	for _, allowed := range exts {
		if ext == allowed {
			return s, nil
		}
	}
	return nil, &FieldError{Field: field, Msg: "extension " + ext + " not allowed"}
}

func coerceInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("must be a finite number")
		}
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("must be an integer")
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("must be an integer")
		}
		return n, nil
	}
	return 0, fmt.Errorf("must be a number")
}
