package types

const (
	ReportStatusPending       = "pending"
	ReportStatusInvestigating = "investigating"
	ReportStatusResolved      = "resolved"
)

// ReportReasons lists the reasons a participant can pick from.
var ReportReasons = []string{
	"I don't like it",
	"Child abuse",
	"Violence",
	"Illegal goods and services",
	"Illegal adult content",
	"Personal data",
	"Scam or fraud",
	"Copyright",
	"Spam",
	"Other",
}

// Report is filed by a participant against a message or a whole room. MessageContent is a snapshot taken at report
// time, it survives the trimming of the room log.
type Report struct {
	Id               string `json:"id" gorm:"primaryKey" hash:"ignore"`
	ReporterId       string `json:"reporterId"`
	ReporterName     string `json:"reporterName" hash:"ignore"`
	ReportedUserId   string `json:"reportedUserId,omitempty" hash:"ignore"`
	ReportedUserName string `json:"reportedUserName,omitempty" hash:"ignore"`
	MessageId        string `json:"messageId,omitempty"`
	MessageContent   string `json:"messageContent,omitempty" hash:"ignore"`
	RoomId           string `json:"roomId" gorm:"index"`
	Reason           string `json:"reason"`
	Timestamp        int64  `json:"timestamp" hash:"ignore"`
	Status           string `json:"status" hash:"ignore"`
	Fingerprint      string `json:"fingerprint,omitempty" gorm:"index" hash:"ignore"`
}

// ValidReportStatus reports whether status is one of pending, investigating or resolved.
func ValidReportStatus(status string) bool {
	switch status {
	case ReportStatusPending, ReportStatusInvestigating, ReportStatusResolved:
		return true
	}
	return false
}
