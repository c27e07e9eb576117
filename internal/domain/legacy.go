package domain

import "time"

// LegacyReport is an unstructured monthly report that predates Report.
type LegacyReport struct {
	ID                    string
	SubjectID             string
	Year                  int
	Month                 int
	Body                  string
	ResubmissionRequested bool
	LinkedReportID        string
	Superseded            bool
	LinkedAt              *time.Time
}
