package audit

import (
	"encoding/json"

	"booking-core/internal/models"
)

// ChangeKind classifies one field change.
type ChangeKind string

const (
	ChangeModified ChangeKind = "changed"
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
)

// FieldChange is one field-level difference between two snapshots. Name is
// set for list items and identifies the item.
type FieldChange struct {
	Field  string     `json:"field"`
	Label  string     `json:"label"`
	Name   string     `json:"name,omitempty"`
	Kind   ChangeKind `json:"kind"`
	Before string     `json:"before,omitempty"`
	After  string     `json:"after,omitempty"`
}

// Diff compares two snapshots of the same entity and returns the changed
// fields in display order. Either snapshot may be empty.
func Diff(before, after json.RawMessage, entity models.EntityType) ([]FieldChange, error) {
	b, err := decodeSnapshot(before)
	if err != nil {
		return nil, err
	}
	a, err := decodeSnapshot(after)
	if err != nil {
		return nil, err
	}
	return diffMaps(b, a, entity), nil
}

func diffMaps(b, a map[string]interface{}, entity models.EntityType) []FieldChange {
	bCur, aCur := currencyOf(entity, b), currencyOf(entity, a)

	changes := make([]FieldChange, 0)
	for _, fs := range fieldsFor(entity, b, a) {
		if fs.kind == kindHidden {
			continue
		}
		bv, inB := b[fs.key]
		av, inA := a[fs.key]
		if !inB && !inA {
			continue
		}
		fs = resolveKind(fs, bv, av)

		switch fs.kind {
		case kindKeyedList:
			if c, ok := diffKeyedList(fs, bv, av); ok {
				changes = append(changes, c...)
				continue
			}
		case kindAppendList:
			if c, ok := diffAppendList(fs, bv, av); ok {
				changes = append(changes, c...)
				continue
			}
		}

		bs, as := formatValue(fs, bv, bCur), formatValue(fs, av, aCur)
		if bs != as {
			changes = append(changes, FieldChange{
				Field:  fs.key,
				Label:  fs.label,
				Kind:   ChangeModified,
				Before: bs,
				After:  as,
			})
		}
	}
	return changes
}

// resolveKind picks a list strategy for fields the schema does not know.
func resolveKind(fs fieldSpec, values ...interface{}) fieldSpec {
	if fs.kind != kindAuto {
		return fs
	}
	key, qty, ok := detectKeyedList(values...)
	if !ok {
		return fs
	}
	fs.kind = kindKeyedList
	fs.itemKey, fs.itemQty = key, qty
	return fs
}

var (
	itemKeyCandidates = []string{"id", "room_type_id", "key"}
	itemQtyCandidates = []string{"qty", "quantity"}
)

func detectKeyedList(values ...interface{}) (key, qty string, ok bool) {
	var first map[string]interface{}
	for _, v := range values {
		if v == nil {
			continue
		}
		items, isList := v.([]interface{})
		if !isList {
			return "", "", false
		}
		for _, it := range items {
			m, isObj := it.(map[string]interface{})
			if !isObj {
				return "", "", false
			}
			if first == nil {
				first = m
			}
		}
	}
	if first == nil {
		return "", "", false
	}
	for _, k := range itemKeyCandidates {
		if _, has := first[k]; has {
			key = k
			break
		}
	}
	for _, q := range itemQtyCandidates {
		if _, has := first[q]; has {
			qty = q
			break
		}
	}
	return key, qty, key != "" && qty != ""
}

type listItem struct {
	name string
	qty  string
}

type indexedList struct {
	order []string
	items map[string]listItem
}

func indexKeyedList(fs fieldSpec, v interface{}) (indexedList, bool) {
	out := indexedList{items: map[string]listItem{}}
	if v == nil {
		return out, true
	}
	raw, ok := v.([]interface{})
	if !ok {
		return out, false
	}
	for _, it := range raw {
		m, ok := it.(map[string]interface{})
		if !ok {
			return out, false
		}
		kv, ok := m[fs.itemKey]
		if !ok {
			return out, false
		}
		key := formatAuto(kv)
		name := key
		if fs.itemName != "" {
			if n := formatAuto(m[fs.itemName]); n != "" {
				name = n
			}
		}
		if _, dup := out.items[key]; !dup {
			out.order = append(out.order, key)
		}
		out.items[key] = listItem{name: name, qty: formatAuto(m[fs.itemQty])}
	}
	return out, true
}

// diffKeyedList reconciles list items by key: quantity changes for items in
// both, additions for items only after, removals for items only before.
func diffKeyedList(fs fieldSpec, bv, av interface{}) ([]FieldChange, bool) {
	bl, ok := indexKeyedList(fs, bv)
	if !ok {
		return nil, false
	}
	al, ok := indexKeyedList(fs, av)
	if !ok {
		return nil, false
	}

	var changes []FieldChange
	for _, k := range al.order {
		ai := al.items[k]
		bi, existed := bl.items[k]
		switch {
		case !existed:
			changes = append(changes, FieldChange{Field: fs.key, Label: fs.label, Name: ai.name, Kind: ChangeAdded, After: ai.qty})
		case bi.qty != ai.qty:
			changes = append(changes, FieldChange{Field: fs.key, Label: fs.label, Name: ai.name, Kind: ChangeModified, Before: bi.qty, After: ai.qty})
		}
	}
	for _, k := range bl.order {
		if _, still := al.items[k]; !still {
			bi := bl.items[k]
			changes = append(changes, FieldChange{Field: fs.key, Label: fs.label, Name: bi.name, Kind: ChangeRemoved, Before: bi.qty})
		}
	}
	return changes, true
}

// diffAppendList reports items past the end of the earlier list as added.
func diffAppendList(fs fieldSpec, bv, av interface{}) ([]FieldChange, bool) {
	toList := func(v interface{}) ([]interface{}, bool) {
		if v == nil {
			return nil, true
		}
		l, ok := v.([]interface{})
		return l, ok
	}
	bl, ok := toList(bv)
	if !ok {
		return nil, false
	}
	al, ok := toList(av)
	if !ok {
		return nil, false
	}

	item := func(v interface{}) (name, text string) {
		m, ok := v.(map[string]interface{})
		if !ok {
			return "", formatAuto(v)
		}
		return formatAuto(m[fs.itemName]), formatAuto(m[fs.itemText])
	}

	var changes []FieldChange
	for i := len(bl); i < len(al); i++ {
		name, text := item(al[i])
		changes = append(changes, FieldChange{Field: fs.key, Label: fs.label, Name: name, Kind: ChangeAdded, After: text})
	}
	for i := len(al); i < len(bl); i++ {
		name, text := item(bl[i])
		changes = append(changes, FieldChange{Field: fs.key, Label: fs.label, Name: name, Kind: ChangeRemoved, Before: text})
	}
	return changes, true
}
