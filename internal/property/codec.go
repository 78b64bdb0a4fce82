package property

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrObjectInIndividual is returned when an object aggregation shows up where
// only an individual value is legal (e.g. the property cache load path).
var ErrObjectInIndividual = errors.New("object aggregation where an individual value was expected")

// Payload is a decoded wire payload.
//
// Exactly one of the following holds:
//   - Unset is true (empty wire payload)
//   - Object is non-nil (object aggregation)
//   - Value carries an individual value
type Payload struct {
	Value     any
	Object    map[string]any
	Timestamp time.Time // zero when the payload carries no timestamp
	Unset     bool
}

// Individual reports the individual value, failing on object aggregations.
func (p Payload) Individual() (any, error) {
	if p.Object != nil {
		return nil, ErrObjectInIndividual
	}
	return p.Value, nil
}

// MarshalIndividual encodes a single value, with an optional explicit timestamp.
func MarshalIndividual(v any, ts *time.Time) ([]byte, error) {
	n, err := normalizeValue(v)
	if err != nil {
		return nil, err
	}
	doc := bson.D{{Key: "v", Value: n}}
	if ts != nil {
		doc = append(doc, bson.E{Key: "t", Value: ts.UTC()})
	}
	return bson.Marshal(doc)
}

// MarshalObject encodes an object aggregation, with an optional explicit timestamp.
func MarshalObject(obj map[string]any, ts *time.Time) ([]byte, error) {
	n, err := normalizeObject(obj)
	if err != nil {
		return nil, err
	}
	doc := bson.D{{Key: "v", Value: n}}
	if ts != nil {
		doc = append(doc, bson.E{Key: "t", Value: ts.UTC()})
	}
	return bson.Marshal(doc)
}

// Unmarshal decodes a wire payload. An empty payload decodes as Unset.
func Unmarshal(b []byte) (Payload, error) {
	if len(b) == 0 {
		return Payload{Unset: true}, nil
	}

	raw := bson.Raw(b)
	if err := raw.Validate(); err != nil {
		return Payload{}, fmt.Errorf("invalid payload document: %w", err)
	}

	rv, err := raw.LookupErr("v")
	if err != nil {
		return Payload{}, errors.New("payload document has no \"v\" field")
	}

	var p Payload
	if tv, err := raw.LookupErr("t"); err == nil {
		if tv.Type != bson.TypeDateTime {
			return Payload{}, fmt.Errorf("payload timestamp has type %s, want datetime", tv.Type)
		}
		p.Timestamp = tv.Time().UTC()
	}

	if rv.Type == bson.TypeEmbeddedDocument {
		obj, err := decodeObject(rv.Document())
		if err != nil {
			return Payload{}, err
		}
		p.Object = obj
		return p, nil
	}

	v, err := decodeValue(rv)
	if err != nil {
		return Payload{}, err
	}
	p.Value = v
	return p, nil
}

func decodeObject(doc bson.Raw) (map[string]any, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, fmt.Errorf("invalid object aggregation: %w", err)
	}
	out := make(map[string]any, len(elems))
	for _, el := range elems {
		v, err := decodeValue(el.Value())
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", el.Key(), err)
		}
		out[el.Key()] = v
	}
	return out, nil
}

func decodeValue(rv bson.RawValue) (any, error) {
	switch rv.Type {
	case bson.TypeBoolean:
		return rv.Boolean(), nil
	case bson.TypeInt32:
		return rv.Int32(), nil
	case bson.TypeInt64:
		return rv.Int64(), nil
	case bson.TypeDouble:
		return rv.Double(), nil
	case bson.TypeString:
		return rv.StringValue(), nil
	case bson.TypeBinary:
		_, data := rv.Binary()
		return append([]byte(nil), data...), nil
	case bson.TypeDateTime:
		return rv.Time().UTC(), nil
	case bson.TypeArray:
		vals, err := rv.Array().Values()
		if err != nil {
			return nil, fmt.Errorf("invalid array value: %w", err)
		}
		out := make([]any, len(vals))
		for i, el := range vals {
			if el.Type == bson.TypeArray || el.Type == bson.TypeEmbeddedDocument {
				return nil, fmt.Errorf("element %d: nested %s values are not supported", i, el.Type)
			}
			v, err := decodeValue(el)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported wire type %s", rv.Type)
	}
}
