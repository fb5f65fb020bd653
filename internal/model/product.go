package model

import (
	"encoding/json"
	"fmt"
	"math"

	deep "github.com/brunoga/deep/v2"
)

// Names of the mutable product fields.
const (
	FieldName          = "name"
	FieldDescription   = "description"
	FieldCategory      = "category"
	FieldPrice         = "price"
	FieldDiscount      = "discount"
	FieldStock         = "stock"
	FieldActive        = "active"
	FieldImagePath     = "image_path"
	FieldImageAVIFPath = "image_avif_path"
)

// MutableFields lists every field a patch may target. The order is not
// significant; sanitization priority lives in the validate package.
var MutableFields = []string{
	FieldName,
	FieldDescription,
	FieldCategory,
	FieldPrice,
	FieldDiscount,
	FieldStock,
	FieldActive,
	FieldImagePath,
	FieldImageAVIFPath,
}

// Product is one catalog record. The known fields are typed; anything else
// found in a persisted document is carried through Extra untouched so that
// documents written by older code survive a round trip.
type Product struct {
	ID            string
	Slug          string
	Name          string
	Description   string
	Category      string
	Price         int64
	Discount      int64
	Stock         int64
	Active        bool
	ImagePath     string
	ImageAVIFPath string

	// Rev is the global revision at which this product was last mutated.
	Rev int64

	// FieldLastModified maps field name to its merge metadata.
	FieldLastModified map[string]FieldMeta

	// Extra holds unrecognized document keys, round-tripped verbatim.
	Extra map[string]any
}

// Identifier resolves the product identity: id, falling back to slug,
// falling back to name.
func (p *Product) Identifier() string {
	if p.ID != "" {
		return p.ID
	}
	if p.Slug != "" {
		return p.Slug
	}
	return p.Name
}

// Field returns the current value of a mutable field.
func (p *Product) Field(name string) (any, bool) {
	switch name {
	case FieldName:
		return p.Name, true
	case FieldDescription:
		return p.Description, true
	case FieldCategory:
		return p.Category, true
	case FieldPrice:
		return p.Price, true
	case FieldDiscount:
		return p.Discount, true
	case FieldStock:
		return p.Stock, true
	case FieldActive:
		return p.Active, true
	case FieldImagePath:
		return p.ImagePath, true
	case FieldImageAVIFPath:
		return p.ImageAVIFPath, true
	}
	return nil, false
}

// SetField assigns a sanitized value to a mutable field. The value must
// already have the canonical type for the field (int64, string or bool).
func (p *Product) SetField(name string, v any) error {
	switch name {
	case FieldName:
		p.Name = v.(string)
	case FieldDescription:
		p.Description = v.(string)
	case FieldCategory:
		p.Category = v.(string)
	case FieldPrice:
		p.Price = v.(int64)
	case FieldDiscount:
		p.Discount = v.(int64)
	case FieldStock:
		p.Stock = v.(int64)
	case FieldActive:
		p.Active = v.(bool)
	case FieldImagePath:
		p.ImagePath = v.(string)
	case FieldImageAVIFPath:
		p.ImageAVIFPath = v.(string)
	default:
		return fmt.Errorf("unknown field %q", name)
	}
	return nil
}

// Clone returns a deep copy safe to hand to callers.
func (p Product) Clone() Product {
	return deep.MustCopy(p)
}

// MarshalJSON flattens the product into an open document: known fields,
// rev, field_last_modified, and every Extra key at the top level.
func (p Product) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(p.Extra)+13)
	for k, v := range p.Extra {
		doc[k] = v
	}
	doc["id"] = p.ID
	doc["slug"] = p.Slug
	doc["name"] = p.Name
	doc["description"] = p.Description
	doc["category"] = p.Category
	doc["price"] = p.Price
	doc["discount"] = p.Discount
	doc["stock"] = p.Stock
	doc["active"] = p.Active
	doc["image_path"] = p.ImagePath
	doc["image_avif_path"] = p.ImageAVIFPath
	doc["rev"] = p.Rev
	doc["field_last_modified"] = p.FieldLastModified
	return json.Marshal(doc)
}

// UnmarshalJSON accepts open documents, including ones written by older
// code: numeric fields may arrive as floats, active as 0/1, and keys the
// current schema does not know are preserved in Extra.
func (p *Product) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Product{
		FieldLastModified: make(map[string]FieldMeta),
		Extra:             make(map[string]any),
	}
	for k, v := range raw {
		var err error
		switch k {
		case "id":
			err = json.Unmarshal(v, &p.ID)
		case "slug":
			err = json.Unmarshal(v, &p.Slug)
		case "name":
			err = json.Unmarshal(v, &p.Name)
		case "description":
			err = json.Unmarshal(v, &p.Description)
		case "category":
			err = json.Unmarshal(v, &p.Category)
		case "price":
			p.Price, err = intFromRaw(v)
		case "discount":
			p.Discount, err = intFromRaw(v)
		case "stock":
			p.Stock, err = intFromRaw(v)
		case "active":
			p.Active, err = boolFromRaw(v)
		case "image_path":
			err = json.Unmarshal(v, &p.ImagePath)
		case "image_avif_path":
			err = json.Unmarshal(v, &p.ImageAVIFPath)
		case "rev":
			p.Rev, err = intFromRaw(v)
		case "field_last_modified":
			err = json.Unmarshal(v, &p.FieldLastModified)
		default:
			var x any
			if err = json.Unmarshal(v, &x); err == nil {
				p.Extra[k] = x
			}
		}
		if err != nil {
			return fmt.Errorf("product field %q: %w", k, err)
		}
	}
	return nil
}

func intFromRaw(raw json.RawMessage) (int64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite number")
	}
	return int64(math.Round(f)), nil
}

func boolFromRaw(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f != 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == "true" || s == "1", nil
	}
	return false, fmt.Errorf("unsupported boolean encoding %s", raw)
}
