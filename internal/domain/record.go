package domain

// IDField is the body field the front-end uses to carry a record's key.
const IDField = "id"

// Record is a member or line item body. Fields are owned by the front-end and
// are never interpreted here, except for IDField on update and delete.
type Record map[string]any

// ID returns the key carried in the record body, if it is a non-empty string.
func (r Record) ID() (RecordKey, bool) {
	v, ok := r[IDField].(string)
	if !ok || v == "" {
		return "", false
	}
	return RecordKey(v), true
}

// Clone returns a shallow copy of r. Nested values are shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WithID returns a shallow copy of r with IDField set to key.
// The key always wins over an id already present in the body.
func (r Record) WithID(key RecordKey) Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[IDField] = string(key)
	return out
}
