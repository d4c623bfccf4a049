package bencode

import (
	"sort"
	"strconv"
)

// Encode returns the canonical bencoding of v: dict keys are emitted in
// ascending raw-byte order regardless of the order they were inserted
// or decoded in.
func Encode(v Value) []byte {
	buf := make([]byte, 0, estimateSize(v))
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	switch v.Kind {
	case KindInteger:
		buf = append(buf, 'i')
		buf = strconv.AppendInt(buf, v.Int, 10)
		buf = append(buf, 'e')
	case KindString:
		buf = strconv.AppendInt(buf, int64(len(v.Str)), 10)
		buf = append(buf, ':')
		buf = append(buf, v.Str...)
	case KindList:
		buf = append(buf, 'l')
		for _, item := range v.List {
			buf = appendValue(buf, item)
		}
		buf = append(buf, 'e')
	case KindDict:
		buf = append(buf, 'd')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = strconv.AppendInt(buf, int64(len(k)), 10)
			buf = append(buf, ':')
			buf = append(buf, k...)
			buf = appendValue(buf, v.Dict[k])
		}
		buf = append(buf, 'e')
	}
	return buf
}

func estimateSize(v Value) int {
	switch v.Kind {
	case KindString:
		return len(v.Str) + 12
	case KindDict:
		n := 2
		for k, val := range v.Dict {
			n += len(k) + 12 + estimateSize(val)
		}
		return n
	case KindList:
		n := 2
		for _, item := range v.List {
			n += estimateSize(item)
		}
		return n
	default:
		return 24
	}
}
