package dialect

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/atlekbai/record_query/internal/schema"
)

type dateGranularity int

const (
	granularityDay dateGranularity = iota
	granularityMonth
	granularityYear
)

// granularityOf reads the finest unit of the field's date pattern.
// A missing or unrecognised pattern keeps day precision.
func granularityOf(f *schema.Field) dateGranularity {
	if f.Options.Formatting == nil || f.Options.Formatting.Date == "" {
		return granularityDay
	}
	p := f.Options.Formatting.Date
	switch {
	case strings.ContainsAny(p, "Dd"):
		return granularityDay
	case strings.Contains(p, "M"):
		return granularityMonth
	case strings.ContainsAny(p, "Yy"):
		return granularityYear
	}
	return granularityDay
}

// pgDatePattern is a sortable TO_CHAR pattern at the field's precision.
func pgDatePattern(f *schema.Field) string {
	switch granularityOf(f) {
	case granularityYear:
		return "YYYY"
	case granularityMonth:
		return "YYYY-MM"
	}
	return "YYYY-MM-DD"
}

func sqliteDatePattern(f *schema.Field) string {
	switch granularityOf(f) {
	case granularityYear:
		return "%Y"
	case granularityMonth:
		return "%Y-%m"
	}
	return "%Y-%m-%d"
}

// offsetReference is the instant at which sqlite timezone offsets are taken.
// sqlite has no zone database, so the offset is fixed per compilation and
// DST transitions are not followed.
var offsetReference = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// sqliteOffsetModifier returns a strftime modifier shifting UTC into tz,
// or "" for UTC and unknown zones.
func sqliteOffsetModifier(tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return ""
	}
	_, offset := offsetReference.In(loc).Zone()
	if offset == 0 {
		return ""
	}
	return fmt.Sprintf("%+d minutes", offset/60)
}

// dayValue trims a filter value to its YYYY-MM-DD prefix.
func dayValue(v string) string {
	if len(v) >= 10 {
		return v[:10]
	}
	return v
}
