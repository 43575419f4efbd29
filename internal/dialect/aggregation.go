package dialect

import (
	"fmt"

	"github.com/atlekbai/record_query/internal/schema"
)

// Statistic is a summary function over one field.
type Statistic string

const (
	StatCount            Statistic = "count"
	StatEmpty            Statistic = "empty"
	StatFilled           Statistic = "filled"
	StatUnique           Statistic = "unique"
	StatMax              Statistic = "max"
	StatMin              Statistic = "min"
	StatSum              Statistic = "sum"
	StatAverage          Statistic = "average"
	StatChecked          Statistic = "checked"
	StatUnChecked        Statistic = "unChecked"
	StatPercentEmpty     Statistic = "percentEmpty"
	StatPercentFilled    Statistic = "percentFilled"
	StatPercentUnique    Statistic = "percentUnique"
	StatPercentChecked   Statistic = "percentChecked"
	StatPercentUnChecked Statistic = "percentUnChecked"
	StatEarliestDate     Statistic = "earliestDate"
	StatLatestDate       Statistic = "latestDate"
	StatDateRangeOfDays  Statistic = "dateRangeOfDays"
)

var generalStats = []Statistic{
	StatCount, StatEmpty, StatFilled, StatUnique,
	StatPercentEmpty, StatPercentFilled, StatPercentUnique,
}

// StatisticsFor lists the statistics valid for a field.
func StatisticsFor(f *schema.Field) []Statistic {
	c := schema.Classify(f)
	stats := append([]Statistic(nil), generalStats...)
	if c.Multiple {
		return stats
	}
	switch c.Value {
	case schema.ValueNumber:
		stats = append(stats, StatMax, StatMin, StatSum, StatAverage)
	case schema.ValueDateTime:
		stats = append(stats, StatEarliestDate, StatLatestDate, StatDateRangeOfDays)
	case schema.ValueBoolean:
		stats = append(stats, StatChecked, StatUnChecked, StatPercentChecked, StatPercentUnChecked)
	}
	return stats
}

// ValidStatistic reports whether fn applies to f.
func ValidStatistic(f *schema.Field, fn Statistic) bool {
	for _, s := range StatisticsFor(f) {
		if s == fn {
			return true
		}
	}
	return false
}

type aggregationOps interface {
	number(expr string) string
	timestamp(expr string) string
	distinctKey(expr string) string
	dayRange(max, min string) string
	groupKey(c schema.Class, expr string) string
}

type aggregator struct {
	ops    aggregationOps
	filter FilterAdapter
}

func (a aggregator) Statistic(f *schema.Field, expr string, fn Statistic) (string, error) {
	if !ValidStatistic(f, fn) {
		return "", fmt.Errorf("statistic %s is not valid for field %s", fn, f.ID)
	}

	empty := a.filter.Empty(f, expr)
	checked := expr + " = TRUE"
	percent := func(count string) string {
		return fmt.Sprintf("(%s * 100.0 / NULLIF(COUNT(*), 0))", count)
	}
	countWhen := func(pred string) string {
		return fmt.Sprintf("COUNT(CASE WHEN %s THEN 1 END)", pred)
	}
	unique := fmt.Sprintf("COUNT(DISTINCT %s)", a.ops.distinctKey(expr))

	switch fn {
	case StatCount:
		return "COUNT(*)", nil
	case StatEmpty:
		return countWhen(empty), nil
	case StatFilled:
		return countWhen("NOT " + empty), nil
	case StatUnique:
		return unique, nil
	case StatPercentEmpty:
		return percent(countWhen(empty)), nil
	case StatPercentFilled:
		return percent(countWhen("NOT " + empty)), nil
	case StatPercentUnique:
		return percent(unique), nil
	case StatMax:
		return fmt.Sprintf("MAX(%s)", a.ops.number(expr)), nil
	case StatMin:
		return fmt.Sprintf("MIN(%s)", a.ops.number(expr)), nil
	case StatSum:
		return fmt.Sprintf("COALESCE(SUM(%s), 0)", a.ops.number(expr)), nil
	case StatAverage:
		return fmt.Sprintf("AVG(%s)", a.ops.number(expr)), nil
	case StatChecked:
		return countWhen(checked), nil
	case StatUnChecked:
		return countWhen("NOT COALESCE(" + checked + ", FALSE)"), nil
	case StatPercentChecked:
		return percent(countWhen(checked)), nil
	case StatPercentUnChecked:
		return percent(countWhen("NOT COALESCE(" + checked + ", FALSE)")), nil
	case StatEarliestDate:
		return fmt.Sprintf("MIN(%s)", a.ops.timestamp(expr)), nil
	case StatLatestDate:
		return fmt.Sprintf("MAX(%s)", a.ops.timestamp(expr)), nil
	case StatDateRangeOfDays:
		return a.ops.dayRange(
			fmt.Sprintf("MAX(%s)", a.ops.timestamp(expr)),
			fmt.Sprintf("MIN(%s)", a.ops.timestamp(expr)),
		), nil
	}
	return "", fmt.Errorf("unknown statistic %s", fn)
}

func (a aggregator) GroupKey(f *schema.Field, expr string) string {
	return a.ops.groupKey(schema.Classify(f), expr)
}
