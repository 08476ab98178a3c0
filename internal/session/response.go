package session

import (
	json "github.com/goccy/go-json"

	"github.com/sentinel/core/internal/biometrics"
)

// Error codes sent in failure frames.
const (
	ErrCodeInvalidJSON = "invalid_json"
	ErrCodeClosed      = "session_closed"
)

// Response is the frame sent back for each inbound message.
type Response struct {
	OK         bool
	Error      string
	TrustScore int
	// Report is set only when OK.
	Report     *Report
}

// Report carries the per-batch analysis.
type Report struct {
	RiskScore    float64
	Adjustment   int
	IsBot        bool
	Features     biometrics.Extras
	Reason       Reason
	FocusLevel   string
	Activity     string
	Summary      string
	DetectedApps []string
}

type okFrame struct {
	OK                   bool              `json:"ok"`
	CurrentActivity      string            `json:"currentActivity"`
	FocusLevel           string            `json:"focusLevel"`
	RiskScore            float64           `json:"riskScore"`
	TrustScore           int               `json:"trustScore"`
	TrustScoreAdjustment int               `json:"trustScoreAdjustment"`
	Summary              string            `json:"summary"`
	IsBotDetected        bool              `json:"isBotDetected"`
	DetectedApps         []string          `json:"detectedApps"`
	Features             biometrics.Extras `json:"features"`
}

type errorFrame struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error"`
	TrustScore int    `json:"trustScore"`
}

// MarshalJSON writes the success or the error frame shape.
func (r Response) MarshalJSON() ([]byte, error) {
	if !r.OK || r.Report == nil {
		return json.Marshal(errorFrame{OK: false, Error: r.Error, TrustScore: r.TrustScore})
	}
	apps := r.Report.DetectedApps
	if apps == nil {
		apps = []string{}
	}
	return json.Marshal(okFrame{
		OK:                   true,
		CurrentActivity:      r.Report.Activity,
		FocusLevel:           r.Report.FocusLevel,
		RiskScore:            r.Report.RiskScore,
		TrustScore:           r.TrustScore,
		TrustScoreAdjustment: r.Report.Adjustment,
		Summary:              r.Report.Summary,
		IsBotDetected:        r.Report.IsBot,
		DetectedApps:         apps,
		Features:             r.Report.Features,
	})
}
