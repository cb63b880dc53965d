package api

import (
	"fmt"
	"strings"

	"gpusched-backend/pkg/api"
)

// Filter matches tasks against a parsed list query.
type Filter interface {
	Matches(task api.Task) bool
}

type AndFilter struct {
	filters []Filter
}

func (f *AndFilter) Matches(task api.Task) bool {
	for _, filter := range f.filters {
		if !filter.Matches(task) {
			return false
		}
	}
	return true
}

type OrFilter struct {
	filters []Filter
}

func (f *OrFilter) Matches(task api.Task) bool {
	for _, filter := range f.filters {
		if filter.Matches(task) {
			return true
		}
	}
	return false
}

type NotFilter struct {
	filter Filter
}

func (f *NotFilter) Matches(task api.Task) bool {
	return !f.filter.Matches(task)
}

// stringField resolves the queryable string fields of a task. Unknown
// fields are rejected at parse time, not here.
func stringField(task api.Task, field string) string {
	switch field {
	case "status":
		return task.Status
	case "category":
		return task.Category
	case "model":
		return task.ModelId
	case "variant":
		return task.VariantId
	case "cause":
		return task.FailureCause
	default:
		return ""
	}
}

func numericField(task api.Task, field string) float64 {
	switch field {
	case "priority":
		return task.DynamicPriority
	case "base_priority":
		return task.BasePriority
	case "intensity":
		return task.ResourceIntensity
	case "progress":
		return task.Progress
	default:
		return 0
	}
}

var (
	stringFields  = map[string]bool{"status": true, "category": true, "model": true, "variant": true, "cause": true}
	numericFields = map[string]bool{"priority": true, "base_priority": true, "intensity": true, "progress": true}
)

func validateField(field string, numeric bool) error {
	if numeric {
		if !numericFields[field] {
			return fmt.Errorf("unknown numeric field '%s'", field)
		}
		return nil
	}
	if !stringFields[field] {
		return fmt.Errorf("unknown string field '%s'", field)
	}
	return nil
}

type SubstringFilter struct {
	field  string
	substr string
}

func (f *SubstringFilter) Matches(task api.Task) bool {
	return strings.Contains(stringField(task, f.field), f.substr)
}

type StringEqFilter struct {
	field string
	value string
}

func (f *StringEqFilter) Matches(task api.Task) bool {
	return stringField(task, f.field) == f.value
}

type NumericFilter struct {
	field string
	op    string
	value float64
}

func (f *NumericFilter) Matches(task api.Task) bool {
	v := numericField(task, f.field)
	switch f.op {
	case "<":
		return v < f.value
	case ">":
		return v > f.value
	case "=":
		return v == f.value
	default:
		return false
	}
}
