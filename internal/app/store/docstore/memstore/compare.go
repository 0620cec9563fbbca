package memstore

import (
	"strings"
	"time"

	"github.com/dalemusser/selfmap/internal/app/store/docstore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// matches applies the equality filters. Like Firestore, documents without
// the order-by field are excluded.
func matches(m bson.M, q docstore.Query) bool {
	for _, f := range q.Where {
		v, ok := m[f.Field]
		if !ok || compare(v, f.Value) != 0 {
			return false
		}
	}
	if q.OrderBy != "" {
		if _, ok := m[q.OrderBy]; !ok {
			return false
		}
	}
	return true
}

// rank orders values of different kinds: null < bool < number < string < time.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case string:
		return 3
	case time.Time, primitive.DateTime:
		return 4
	default:
		return 5
	}
}

func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case string:
		return strings.Compare(av, b.(string))
	case time.Time, primitive.DateTime:
		return asTime(a).Compare(asTime(b))
	}
	if ra == 2 {
		x, y := asFloat(a), asFloat(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Truncate(time.Millisecond)
	case primitive.DateTime:
		return t.Time().UTC()
	}
	return time.Time{}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
