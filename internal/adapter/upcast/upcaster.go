package upcast

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

const (
	versionField  = "version"
	quantityField = "quantity"
)

// Document is an event payload decoded without a schema.
type Document map[string]any

// Step upgrades a document from version N to N+1. It must not set the version field.
type Step func(Document) (Document, error)

type UnknownSchemaVersionError struct {
	Version int64
	Current int
	Known   []int
}

func (e *UnknownSchemaVersionError) Error() string {
	return fmt.Sprintf("unknown event schema version %d (current %d, known %v)", e.Version, e.Current, e.Known)
}

func (e *UnknownSchemaVersionError) Is(target error) bool {
	return target == domain.ErrUnknownSchemaVersion
}

type Upcaster struct {
	steps    map[int]Step
	current  int
	validate *validator.Validate
}

// New returns the upcaster for the current inventory event schema.
func New() *Upcaster {
	return &Upcaster{
		steps:    map[int]Step{1: v1ToV2},
		current:  2,
		validate: validator.New(),
	}
}

// With returns a copy that also knows how to go from version `from` to from+1.
// Steps must be added in order; the current version becomes the highest target.
func (u *Upcaster) With(from int, step Step) (*Upcaster, error) {
	if from != u.current {
		return nil, fmt.Errorf("step from version %d does not extend current version %d", from, u.current)
	}

	steps := maps.Clone(u.steps)
	steps[from] = step
	return &Upcaster{steps: steps, current: from + 1, validate: u.validate}, nil
}

func (u *Upcaster) CurrentVersion() int {
	return u.current
}

// Upcast decodes a raw payload of any known version into the current canonical shape.
func (u *Upcaster) Upcast(raw []byte) (CanonicalEvent, error) {
	doc, err := Decode(raw)
	if err != nil {
		return CanonicalEvent{}, err
	}

	doc, err = u.UpcastDocument(doc)
	if err != nil {
		return CanonicalEvent{}, err
	}

	qty, err := quantityOf(doc)
	if err != nil {
		return CanonicalEvent{}, err
	}
	doc[quantityField] = qty.Int()

	var event CanonicalEvent
	if err := remarshal(doc, &event); err != nil {
		return CanonicalEvent{}, fmt.Errorf("decode v%d event: %w", u.current, err)
	}
	if err := u.validate.Struct(event); err != nil {
		return CanonicalEvent{}, domain.NewValidationError("event", string(raw), err.Error())
	}

	return event, nil
}

// UpcastDocument runs every step between the document's version and the current one.
// Documents already at the current version are returned unchanged.
func (u *Upcaster) UpcastDocument(doc Document) (Document, error) {
	version, err := versionOf(doc)
	if err != nil {
		return nil, err
	}

	if version < 1 || version > int64(u.current) {
		return nil, &UnknownSchemaVersionError{Version: version, Current: u.current, Known: u.KnownVersions()}
	}

	for v := int(version); v < u.current; v++ {
		step, ok := u.steps[v]
		if !ok {
			return nil, &UnknownSchemaVersionError{Version: int64(v), Current: u.current, Known: u.KnownVersions()}
		}

		next, err := step(maps.Clone(doc))
		if err != nil {
			return nil, fmt.Errorf("upcast v%d to v%d: %w", v, v+1, err)
		}
		next[versionField] = v + 1
		doc = next
	}

	return doc, nil
}

// KnownVersions lists every version the upcaster accepts, oldest first.
func (u *Upcaster) KnownVersions() []int {
	versions := slices.Sorted(maps.Keys(u.steps))
	return append(versions, u.current)
}

func Decode(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, domain.NewValidationError("payload", string(raw), "not a JSON object")
	}
	if doc == nil {
		return nil, domain.NewValidationError("payload", string(raw), "not a JSON object")
	}
	return doc, nil
}

// versionOf reads the schema version. Payloads that predate versioning are version 1.
func versionOf(doc Document) (int64, error) {
	raw, ok := doc[versionField]
	if !ok || raw == nil {
		return 1, nil
	}

	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, domain.NewValidationError(versionField, v, "not an integer")
		}
		return n, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, domain.NewValidationError(versionField, v, "not an integer")
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, domain.NewValidationError(versionField, v, "not an integer")
		}
		return n, nil
	default:
		return 0, domain.NewValidationError(versionField, v, "not an integer")
	}
}

// quantityOf reads the quantity as a whole number of units; 2.5 or "2" are rejected.
func quantityOf(doc Document) (domain.Quantity, error) {
	switch v := doc[quantityField].(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return domain.Quantity{}, domain.NewValidationError(quantityField, v, "not a number")
		}
		return domain.QuantityFromFloat(f)
	case float64:
		return domain.QuantityFromFloat(v)
	case int:
		return domain.NewQuantity(v)
	case nil:
		return domain.Quantity{}, domain.NewValidationError(quantityField, nil, "is required")
	default:
		return domain.Quantity{}, domain.NewValidationError(quantityField, v, "not a number")
	}
}

func remarshal(from, into any) error {
	body, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, into)
}

var errMissingSKU = errors.New("sku is required")
