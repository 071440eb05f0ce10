package model

// Backend wire formats for calendar dates and dose times.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Course is a medication regimen bound to a dispenser. Both dates are
// inclusive calendar days; Timetable holds unique zero-padded "HH:mm" values.
type Course struct {
	ID              int64    `json:"id,omitempty"`
	Medicine        string   `json:"medicine"`
	Spc             string   `json:"spcSerialNumber"`
	DateStarted     string   `json:"dateStarted"`
	DateFinished    string   `json:"dateFinished"`
	Timetable       []string `json:"timetable"`
	TakeDurationSec int      `json:"takeDurationSec"`
}
