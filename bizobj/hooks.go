package bizobj

import (
	"github.com/dabodev/dabo/cursor"
)

// Record gives validation hooks access to a row that is not necessarily the
// current row.
type Record struct {
	c *cursor.Cursor
	r *cursor.Row
}

// Value returns the value of field, nil if there is no such field.
func (r Record) Value(field string) any {
	v, _ := r.c.RowValue(r.r, field)
	return v
}

func (r Record) IsNew() bool { return r.r.IsNew() }
func (r Record) Key() any { return r.c.RowKey(r.r) }

// Hooks are optional interfaces implemented by Config.Hooks. A non-empty
// message returned by a validator or before hook aborts the operation with a
// BusinessRuleError.
type (
	RecordValidator interface {
		ValidateRecord(b *Bizobj, rec Record) string
	}
	FieldValidator interface {
		ValidateField(b *Bizobj, field string, value any) string
	}
	BeforeNewer interface {
		BeforeNew(b *Bizobj) string
	}
	AfterNewer interface {
		AfterNew(b *Bizobj)
	}
	BeforeDeleter interface {
		BeforeDelete(b *Bizobj) string
	}
	AfterDeleter interface {
		AfterDelete(b *Bizobj)
	}
	BeforeSaver interface {
		BeforeSave(b *Bizobj) string
	}
	AfterSaver interface {
		AfterSave(b *Bizobj)
	}
	BeforeCanceler interface {
		BeforeCancel(b *Bizobj) string
	}
	AfterCanceler interface {
		AfterCancel(b *Bizobj)
	}
	BeforeRequerier interface {
		BeforeRequery(b *Bizobj) string
	}
	AfterRequerier interface {
		AfterRequery(b *Bizobj)
	}
)

// refused returns a BusinessRuleError for a non-empty message.
func refused(msg string) error {
	if msg != "" {
		return &BusinessRuleError{msg}
	}
	return nil
}

// ValidateField checks a proposed value for field with the FieldValidator
// hook. It returns the message of a violated rule, empty if the value is
// acceptable.
func (b *Bizobj) ValidateField(field string, value any) string {
	if h, ok := b.cfg.Hooks.(FieldValidator); ok {
		return h.ValidateField(b, field, value)
	}
	return ""
}
