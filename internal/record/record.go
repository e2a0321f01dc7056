// Package record implements the collection-oriented operations facade and
// the cascading soft-delete orchestrator that every domain entity in
// WeldVault goes through. Records are flat documents in named collections;
// parent/child relations are foreign-key fields on the child, never nesting.
package record

import "time"

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Actor is the authenticated identity attributed to a mutation. It is passed
// explicitly into every operation; there is no ambient session state.
type Actor struct {
	ID   string
	Name string
	Role string
}

// Stamp is the timestamp/actor pair attached to a mutation. All records
// marked within one cascade call share a single stamp.
type Stamp struct {
	At time.Time
	By string
}

// Record is a flat document in a collection. Fields holds the domain payload
// including foreign keys; everything else is audit metadata owned by the
// facade, never writable through a caller-supplied patch.
type Record struct {
	ID     string
	Status Status
	Fields map[string]any

	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string

	DeletedAt  *time.Time
	DeletedBy  string
	ArchivedAt *time.Time
	ArchivedBy string
	RestoredAt *time.Time
	RestoredBy string
}

// Field returns a payload field, or nil when absent.
func (r Record) Field(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// StringField returns a payload field coerced to string.
func (r Record) StringField(name string) string {
	v, _ := r.Field(name).(string)
	return v
}

// Clone returns a deep copy so shared live-list views cannot mutate the
// backing record.
func (r Record) Clone() Record {
	out := r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// reservedFields are audit keys the facade owns. They are stripped from
// caller payloads and forced last on every write.
var reservedFields = map[string]struct{}{
	"id":         {},
	"status":     {},
	"createdAt":  {},
	"createdBy":  {},
	"updatedAt":  {},
	"updatedBy":  {},
	"deletedAt":  {},
	"deletedBy":  {},
	"archivedAt": {},
	"archivedBy": {},
	"restoredAt": {},
	"restoredBy": {},
}

func stripReserved(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, reserved := reservedFields[k]; reserved {
			continue
		}
		out[k] = v
	}
	return out
}
