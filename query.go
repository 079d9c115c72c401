package queryz

import "fmt"

// Status is the position of a Query in the pipeline state machine.
type Status uint8

// Status values. The zero value is StatusContinue.
const (
	StatusContinue Status = iota
	StatusDone
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "continue"
	case StatusDone:
		return "done"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether s stops the current phase.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Verdict is the caller-visible result of a pipeline run.
type Verdict string

// Verdicts reported for a finished run.
const (
	VerdictSuccess Verdict = "SUCCESS"
	VerdictDone    Verdict = "DONE"
	VerdictError   Verdict = "ERROR"
	VerdictUnknown Verdict = "UNKNOWN"
)

// Response is a response buffer owned by exactly one module.
// A released Response reports no data.
type Response struct {
	data     []byte
	owner    Name
	released bool
}

func newResponse(owner Name, payload string) *Response {
	return &Response{owner: owner, data: []byte(payload)}
}

// Owner returns the name of the module that installed the buffer.
func (r *Response) Owner() Name {
	return r.owner
}

// String returns a copy of the buffer contents.
func (r *Response) String() string {
	return string(r.data)
}

// Released reports whether the buffer has been released.
func (r *Response) Released() bool {
	return r.released
}

func (r *Response) release() {
	r.data = nil
	r.released = true
}

// Query is the mutable record threaded through one pipeline run.
// The text is borrowed from the caller and never modified.
type Query struct {
	text     string
	response *Response
	status   Status
}

// NewQuery returns a Query in StatusContinue with no response.
func NewQuery(text string) *Query {
	return &Query{text: text}
}

// Text returns the query text.
func (q *Query) Text() string {
	return q.text
}

// Status returns the current status.
func (q *Query) Status() Status {
	return q.status
}

// SetStatus moves the query to s.
func (q *Query) SetStatus(s Status) {
	q.status = s
}

// Response returns the current response and whether one is installed.
func (q *Query) Response() (string, bool) {
	if q.response == nil {
		return "", false
	}
	return q.response.String(), true
}

// Owner returns the module owning the current response, or "" if none.
func (q *Query) Owner() Name {
	if q.response == nil {
		return ""
	}
	return q.response.owner
}

// Replace releases the current response, if any, and installs a fresh
// buffer holding payload owned by owner. It returns the released buffer.
func (q *Query) Replace(owner Name, payload string) *Response {
	prev := q.take()
	q.response = newResponse(owner, payload)
	return prev
}

// Release drops the current response. It is safe to call more than once.
func (q *Query) Release() {
	q.take()
}

func (q *Query) take() *Response {
	prev := q.response
	if prev != nil {
		prev.release()
		q.response = nil
	}
	return prev
}
