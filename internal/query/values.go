package query

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// JSONSafe rewrites rows so every value survives encoding/json: NaN and
// infinities become nil, maps get string keys, and anything the encoder
// rejects is replaced by its fmt representation.
func JSONSafe(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		safe := make([]any, len(row))
		for j, value := range row {
			safe[j] = safeValue(value)
		}
		out[i] = safe
	}
	return out
}

func safeValue(value any) any {
	switch typed := value.(type) {
	case nil, string, bool, json.Number, time.Time,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return typed
	case float64:
		return safeFloat(typed)
	case float32:
		return safeFloat(float64(typed))
	case []byte:
		return string(typed)
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return safeValue(v.Elem().Interface())
	case reflect.Float32, reflect.Float64:
		return safeFloat(v.Float())
	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = safeValue(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = safeValue(v.Index(i).Interface())
		}
		return out
	}

	if _, err := json.Marshal(value); err != nil {
		return fmt.Sprint(value)
	}
	return value
}

func safeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
