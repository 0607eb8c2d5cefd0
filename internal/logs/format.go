package logs

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

var headerKeys = map[string]struct{}{"ts": {}, "level": {}, "msg": {}, "component": {}, "run_id": {}}

// FormatLine renders one JSON log record as
// "15:04:05 INFO  [component] message key=value ...". Lines that are not JSON
// objects are returned unchanged.
func FormatLine(line string) string {
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil || record == nil {
		return line
	}

	var b strings.Builder
	if ts, ok := record["ts"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			ts = parsed.Local().Format(time.TimeOnly)
		}
		b.WriteString(ts)
		b.WriteByte(' ')
	}
	level, _ := record["level"].(string)
	fmt.Fprintf(&b, "%-5s ", strings.ToUpper(level))
	if component, ok := record["component"].(string); ok && component != "" {
		fmt.Fprintf(&b, "[%s] ", component)
	}
	msg, _ := record["msg"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(record))
	for key := range record {
		if _, skip := headerKeys[key]; !skip {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%s", key, formatValue(record[key]))
	}
	return b.String()
}

func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		if v == "" || strings.ContainsAny(v, " \t\"=") {
			return fmt.Sprintf("%q", v)
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return "null"
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
