package diff

import (
	coursechange "github.com/jacobmichels/Course-Change-Notifier"
)

// Diff is the outcome of comparing the stored attributes of a section with freshly fetched ones
type Diff struct {
	Changes []coursechange.ChangeRecord
	// Updated is the attribute set to persist: the stored set with every changed or repaired field replaced
	Updated coursechange.Attributes
	// Repaired lists fields that were absent from the stored set; they are filled in without a change record
	Repaired []coursechange.Field
}

// Modified reports whether the section needs to be written back
func (d Diff) Modified() bool {
	return len(d.Changes) > 0 || len(d.Repaired) > 0
}

// Compare checks every required field using exact string equality.
// No semantic comparison is done: "MWF/TTh/" and "TTh/MWF/" are different values.
func Compare(id coursechange.SectionID, stored, fetched coursechange.Attributes) Diff {
	d := Diff{Updated: stored.Clone()}

	for _, field := range coursechange.Fields {
		newValue := fetched[field]

		oldValue, ok := stored[field]
		if !ok {
			d.Updated[field] = newValue
			d.Repaired = append(d.Repaired, field)
			continue
		}

		if oldValue == newValue {
			continue
		}

		d.Changes = append(d.Changes, coursechange.ChangeRecord{
			SectionID: id,
			Field:     field,
			OldValue:  oldValue,
			NewValue:  newValue,
		})
		d.Updated[field] = newValue
	}

	return d
}
