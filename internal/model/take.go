package model

import "time"

// TakeStatus reflects what the dispenser reported for a scheduled dose.
type TakeStatus int

const (
	TakeWait TakeStatus = iota // take window not closed yet
	TakeLost                   // connection lost, no data
	TakeOK                     // valid data, taken or skipped
)

// Take is one adherence record from the course statistics endpoint.
// Date arrives without a zone suffix, so it is kept as a string.
type Take struct {
	Date   string     `json:"date"`
	Taken  bool       `json:"taken"`
	Status TakeStatus `json:"status"`
}

// When parses the take instant in the given location.
func (t Take) When(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02T15:04:05", t.Date, loc)
}
