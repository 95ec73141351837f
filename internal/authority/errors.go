package authority

import "fmt"

// Rejection is a request the authority refuses, carrying the HTTP status the
// envelope is written with.
type Rejection struct {
	Status  int
	Message string
}

func (r *Rejection) Error() string { return r.Message }

func reject(status int, format string, args ...any) error {
	return &Rejection{Status: status, Message: fmt.Sprintf(format, args...)}
}
