package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChannelValues holds named channel values. Its JSON form tags every value
// with its Go type so a decoded checkpoint carries the same types the run
// wrote: an int stays an int and a nested map stays a map[string]any.
type ChannelValues map[string]any

// typedValue is the JSON envelope of one value.
type typedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

const (
	typeNil     = "nil"
	typeList    = "list"
	typeMap     = "map"
	typeMapList = "maplist"
	// typeJSON marks values of other types. They decode as plain JSON.
	typeJSON = "json"
)

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// valueDecoders is keyed by the %T name of the supported leaf types.
var valueDecoders = map[string]func(json.RawMessage) (any, error){
	"bool":               decodeAs[bool],
	"string":             decodeAs[string],
	"int":                decodeAs[int],
	"int8":               decodeAs[int8],
	"int16":              decodeAs[int16],
	"int32":              decodeAs[int32],
	"int64":              decodeAs[int64],
	"uint":               decodeAs[uint],
	"uint8":              decodeAs[uint8],
	"uint16":             decodeAs[uint16],
	"uint32":             decodeAs[uint32],
	"uint64":             decodeAs[uint64],
	"float32":            decodeAs[float32],
	"float64":            decodeAs[float64],
	"time.Time":          decodeAs[time.Time],
	"time.Duration":      decodeAs[time.Duration],
	"[]string":           decodeAs[[]string],
	"[]int":              decodeAs[[]int],
	"[]int64":            decodeAs[[]int64],
	"[]float64":          decodeAs[[]float64],
	"[]bool":             decodeAs[[]bool],
	"map[string]string":  decodeAs[map[string]string],
	"map[string]int":     decodeAs[map[string]int],
	"map[string]float64": decodeAs[map[string]float64],
	"map[string]bool":    decodeAs[map[string]bool],
}

func (c ChannelValues) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	enc, err := encodeMap(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

func (c *ChannelValues) UnmarshalJSON(data []byte) error {
	var enc map[string]typedValue
	if err := json.Unmarshal(data, &enc); err != nil {
		return err
	}
	if enc == nil {
		*c = nil
		return nil
	}
	values, err := decodeMap(enc)
	if err != nil {
		return err
	}
	*c = values
	return nil
}

func encodeMap(m map[string]any) (map[string]typedValue, error) {
	out := make(map[string]typedValue, len(m))
	for k, v := range m {
		tv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("channel value %q: %w", k, err)
		}
		out[k] = tv
	}
	return out, nil
}

func decodeMap(m map[string]typedValue) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, tv := range m {
		v, err := decodeValue(tv)
		if err != nil {
			return nil, fmt.Errorf("channel value %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func encodeValue(v any) (typedValue, error) {
	var (
		typ     string
		payload any
	)
	switch val := v.(type) {
	case nil:
		return typedValue{Type: typeNil}, nil
	case map[string]any:
		enc, err := encodeMap(val)
		if err != nil {
			return typedValue{}, err
		}
		typ, payload = typeMap, enc
	case ChannelValues:
		enc, err := encodeMap(val)
		if err != nil {
			return typedValue{}, err
		}
		typ, payload = typeMap, enc
	case []any:
		items := make([]typedValue, len(val))
		for i, item := range val {
			tv, err := encodeValue(item)
			if err != nil {
				return typedValue{}, err
			}
			items[i] = tv
		}
		typ, payload = typeList, items
	case []map[string]any:
		items := make([]map[string]typedValue, len(val))
		for i, item := range val {
			enc, err := encodeMap(item)
			if err != nil {
				return typedValue{}, err
			}
			items[i] = enc
		}
		typ, payload = typeMapList, items
	default:
		typ, payload = fmt.Sprintf("%T", v), v
		if _, ok := valueDecoders[typ]; !ok {
			typ = typeJSON
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return typedValue{}, err
	}
	return typedValue{Type: typ, Value: raw}, nil
}

func decodeValue(tv typedValue) (any, error) {
	switch tv.Type {
	case typeNil:
		return nil, nil
	case typeMap:
		var enc map[string]typedValue
		if err := json.Unmarshal(tv.Value, &enc); err != nil {
			return nil, err
		}
		return decodeMap(enc)
	case typeList:
		var items []typedValue
		if err := json.Unmarshal(tv.Value, &items); err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case typeMapList:
		var items []map[string]typedValue
		if err := json.Unmarshal(tv.Value, &items); err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(items))
		for i, item := range items {
			m, err := decodeMap(item)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	case typeJSON:
		return decodeAs[any](tv.Value)
	}

	decode, ok := valueDecoders[tv.Type]
	if !ok {
		return nil, fmt.Errorf("unknown value type %q", tv.Type)
	}
	return decode(tv.Value)
}
