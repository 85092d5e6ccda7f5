package domain

import "github.com/google/uuid"

// idNamespace scopes the name-based UUIDs the engine derives.
var idNamespace = uuid.MustParse("6f1c2a9e-4b7d-5e3f-9a0c-2d8e1f4b6c71")

// AssessmentID derives the assessment ID from the transaction ID, so that
// re-analysing the same transaction overwrites instead of duplicating.
func AssessmentID(transactionID string) string {
	return uuid.NewSHA1(idNamespace, []byte("assessment/"+transactionID)).String()
}

// AlertID derives the alert ID raised for an assessment.
func AlertID(assessmentID string) string {
	return uuid.NewSHA1(idNamespace, []byte("alert/"+assessmentID)).String()
}

// FollowUpAlertID derives the ID of the higher-priority alert re-emitted for parentID.
func FollowUpAlertID(parentID string) string {
	return uuid.NewSHA1(idNamespace, []byte("alert/"+parentID+"/flagged")).String()
}
