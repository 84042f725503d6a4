package workflow

import "github.com/qms-platform/signoff/internal/db/models"

// DeriveStatus computes a document's status from its sign requests.
// A single rejection vetoes the document, completion needs every request
// resolved without a rejection, and a document nobody has acted on yet is
// a draft.
func DeriveStatus(requests []models.SignRequest) models.DocumentStatus {
	resolved := 0
	for _, sr := range requests {
		switch sr.Status {
		case models.RequestRejected:
			return models.StatusRejected
		case models.RequestSigned, models.RequestSkipped:
			resolved++
		}
	}
	switch {
	case len(requests) > 0 && resolved == len(requests):
		return models.StatusComplete
	case resolved > 0:
		return models.StatusInProgress
	default:
		return models.StatusDraft
	}
}

func IsTerminal(s models.DocumentStatus) bool {
	return s == models.StatusComplete || s == models.StatusRejected
}
