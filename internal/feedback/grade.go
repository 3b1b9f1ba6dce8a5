package feedback

import "github.com/openmodqueue/openmodqueue/internal/models"

// Grade thresholds on the views-to-audience ratio.
const (
	gradeSRatio = 0.10
	gradeARatio = 0.05
	gradeBRatio = 0.02
)

// GradeFor maps a publication's view performance to a letter grade. An
// unknown or zero audience cannot produce a meaningful ratio and grades C.
func GradeFor(views, audience int64) string {
	if audience <= 0 {
		return models.GradeC
	}
	ratio := float64(views) / float64(audience)
	switch {
	case ratio >= gradeSRatio:
		return models.GradeS
	case ratio >= gradeARatio:
		return models.GradeA
	case ratio >= gradeBRatio:
		return models.GradeB
	default:
		return models.GradeC
	}
}
