package audit

import (
	"encoding/json"
	"strings"

	"booking-core/internal/models"
)

// HumanField is one labelled, normalized value of a snapshot.
type HumanField struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Humanize renders a full snapshot as ordered label/value pairs, using the
// same normalization as Diff. Empty values are left out.
func Humanize(snapshot json.RawMessage, entity models.EntityType) ([]HumanField, error) {
	snap, err := decodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	currency := currencyOf(entity, snap)

	fields := make([]HumanField, 0, len(snap))
	for _, fs := range fieldsFor(entity, snap) {
		if fs.kind == kindHidden {
			continue
		}
		v, ok := snap[fs.key]
		if !ok {
			continue
		}
		fs = resolveKind(fs, v)

		var value string
		switch fs.kind {
		case kindKeyedList:
			value = humanizeKeyedList(fs, v)
		case kindAppendList:
			value = humanizeAppendList(fs, v)
		default:
			value = formatValue(fs, v, currency)
		}
		if value == "" {
			continue
		}
		fields = append(fields, HumanField{Field: fs.key, Label: fs.label, Value: value})
	}
	return fields, nil
}

func humanizeKeyedList(fs fieldSpec, v interface{}) string {
	l, ok := indexKeyedList(fs, v)
	if !ok {
		return formatAuto(v)
	}
	parts := make([]string, 0, len(l.order))
	for _, k := range l.order {
		it := l.items[k]
		parts = append(parts, it.name+" x"+it.qty)
	}
	return strings.Join(parts, ", ")
}

func humanizeAppendList(fs fieldSpec, v interface{}) string {
	items, ok := v.([]interface{})
	if !ok {
		return formatAuto(v)
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			parts = append(parts, formatAuto(it))
			continue
		}
		text := formatAuto(m[fs.itemText])
		if name := formatAuto(m[fs.itemName]); name != "" {
			text = name + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "; ")
}
