package core

// OutcomeKind names the four ways a row can end.
type OutcomeKind string

const (
	KindSuccess  OutcomeKind = "success"
	KindNotFound OutcomeKind = "not_found"
	KindError    OutcomeKind = "error"
	KindSkipped  OutcomeKind = "skipped"
)

// Outcome is the classified result of one row. The set of implementations
// is closed: Success, NotFound, Error and Skipped.
//
// Callers switch on the concrete type:
//
//	switch o := out.(type) {
//	case Success:
//	case NotFound:
//	case Error:
//	case Skipped:
//	}
type Outcome interface {
	Kind() OutcomeKind
	isOutcome()
}

// Success is a query the resolver matched.
type Success struct {
	Query string
	Code  string
	Name  string
}

// NotFound is a query the resolver confirmed it does not know.
type NotFound struct {
	Query  string
	Reason string
}

// Error is a query whose resolution failed for a reason other than a
// confirmed miss: network failure, bad response, panic.
type Error struct {
	Query  string
	Reason string
}

// Skipped is a row whose query cell was blank. The resolver is never called.
type Skipped struct {
	Reason string
}

func (Success) Kind() OutcomeKind  { return KindSuccess }
func (NotFound) Kind() OutcomeKind { return KindNotFound }
func (Error) Kind() OutcomeKind    { return KindError }
func (Skipped) Kind() OutcomeKind  { return KindSkipped }

func (Success) isOutcome()  {}
func (NotFound) isOutcome() {}
func (Error) isOutcome()    {}
func (Skipped) isOutcome()  {}

// SkipReasonEmpty is the reason recorded for blank query cells.
const SkipReasonEmpty = "empty value"

// OutcomeView is a flat, serializable form of an Outcome used by the API
// and export layers.
type OutcomeView struct {
	Row    int         `json:"row"`
	Query  string      `json:"query"`
	Code   string      `json:"code,omitempty"`
	Name   string      `json:"name,omitempty"`
	Status OutcomeKind `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// View flattens an outcome. row is the 1-based data row position.
func View(row int, o Outcome) OutcomeView {
	v := OutcomeView{Row: row}
	switch o := o.(type) {
	case Success:
		v.Query, v.Code, v.Name = o.Query, o.Code, o.Name
	case NotFound:
		v.Query, v.Error = o.Query, o.Reason
	case Error:
		v.Query, v.Error = o.Query, o.Reason
	case Skipped:
		v.Error = o.Reason
	}
	if o != nil {
		v.Status = o.Kind()
	}
	return v
}

// Views flattens outcomes in order.
func Views(outcomes []Outcome) []OutcomeView {
	out := make([]OutcomeView, len(outcomes))
	for i, o := range outcomes {
		out[i] = View(i+1, o)
	}
	return out
}
