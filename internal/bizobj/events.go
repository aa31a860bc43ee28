package bizobj

import (
	"github.com/roach88/bizcursor/internal/dberr"
)

// Event names a hookable operation.
type Event int

const (
	EventNew Event = iota
	EventDelete
	EventDeleteAll
	EventFirst
	EventPrior
	EventNext
	EventLast
	EventSave
	EventSaveAll
	EventCancel
	EventCancelAll
	EventRequery
	EventRowNumberChange
	EventChildRequery
	EventSetCurrentParent
)

var eventNames = [...]string{
	EventNew:              "New",
	EventDelete:           "Delete",
	EventDeleteAll:        "DeleteAll",
	EventFirst:            "First",
	EventPrior:            "Prior",
	EventNext:             "Next",
	EventLast:             "Last",
	EventSave:             "Save",
	EventSaveAll:          "SaveAll",
	EventCancel:           "Cancel",
	EventCancelAll:        "CancelAll",
	EventRequery:          "Requery",
	EventRowNumberChange:  "RowNumberChange",
	EventChildRequery:     "ChildRequery",
	EventSetCurrentParent: "SetCurrentParent",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "Event(?)"
}

// BeforeHook runs before an operation. A non-empty return vetoes it and
// becomes the message of the BUSINESS_RULE_VIOLATION error.
type BeforeHook func(bo *BizObj) string

// AfterHook runs after an operation succeeded.
type AfterHook func(bo *BizObj)

// FieldValidator checks a value before SetFieldValue stores it. A non-empty
// return rejects the value.
type FieldValidator func(bo *BizObj, field string, value any) string

// RecordValidator checks the current row before it is saved.
type RecordValidator func(bo *BizObj) string

// OnBefore registers fn to run before ev.
func (bo *BizObj) OnBefore(ev Event, fn BeforeHook) {
	bo.before[ev] = append(bo.before[ev], fn)
}

// OnAfter registers fn to run after ev.
func (bo *BizObj) OnAfter(ev Event, fn AfterHook) {
	bo.after[ev] = append(bo.after[ev], fn)
}

// OnNew registers fn to run on each new row after defaults are assigned.
// Values it sets are part of the blank row and do not make it dirty.
func (bo *BizObj) OnNew(fn func(*BizObj)) {
	bo.onNew = append(bo.onNew, fn)
}

// ValidateField registers a field validator.
func (bo *BizObj) ValidateField(fn FieldValidator) {
	bo.fieldRules = append(bo.fieldRules, fn)
}

// ValidateRecord registers a record validator.
func (bo *BizObj) ValidateRecord(fn RecordValidator) {
	bo.rowRules = append(bo.rowRules, fn)
}

func (bo *BizObj) fireBefore(ev Event) error {
	for _, fn := range bo.before[ev] {
		if msg := fn(bo); msg != "" {
			bo.logger.Debug("operation vetoed", "event", ev, "reason", msg)
			return dberr.BusinessRule(msg)
		}
	}
	return nil
}

func (bo *BizObj) fireAfter(ev Event) {
	for _, fn := range bo.after[ev] {
		fn(bo)
	}
}

func (bo *BizObj) validateRecord() error {
	for _, fn := range bo.rowRules {
		if msg := fn(bo); msg != "" {
			e := dberr.BusinessRule(msg)
			e.Row = bo.RowNumber()
			return e
		}
	}
	return nil
}

func (bo *BizObj) validateField(field string, v any) error {
	for _, fn := range bo.fieldRules {
		if msg := fn(bo, field, v); msg != "" {
			e := dberr.BusinessRule(msg)
			e.Field = field
			e.Row = bo.RowNumber()
			return e
		}
	}
	return nil
}
