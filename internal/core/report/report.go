package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"alttext/internal/core/classify"
	"alttext/internal/core/generate"
)

// Finding is one image's complete audit record: classification plus the
// generation outcome, if any. Copied by value into the report.
type Finding struct {
	PageURL        string                  `json:"page_url"`
	SourceURL      string                  `json:"source_url"`
	CanonicalURL   string                  `json:"canonical_url"`
	Alt            *string                 `json:"existing_alt,omitempty"`
	Decorative     bool                    `json:"decorative,omitempty"`
	Classification classify.Classification `json:"classification"`
	GeneratedAlt   *string                 `json:"generated_alt,omitempty"`
	ModelUsed      *string                 `json:"model_used,omitempty"`
	CarbonCostMg   *float64                `json:"carbon_cost_mg,omitempty"`
	Outcome        generate.Outcome        `json:"outcome,omitempty"`
}

// CrawledPage exists only during a job's execution; it is folded into the
// report and the job's aggregate counters, never persisted on its own.
type CrawledPage struct {
	URL      string
	Status   int
	Depth    int
	Findings []Finding
	Links    []string
}

// ComplianceReport is the job's final data product. Derived deterministically
// from a completed job's findings; immutable once created.
type ComplianceReport struct {
	TargetURL         string    `json:"target_url"`
	TotalImages       int       `json:"total_images"`
	ImagesWithAlt     int       `json:"images_with_alt"`
	ImagesWithoutAlt  int       `json:"images_without_alt"`
	ImagesWithPoorAlt int       `json:"images_with_poor_alt"`
	ComplianceScore   int       `json:"compliance_score"`
	WCAGLevel         string    `json:"wcag_level"`
	Summary           string    `json:"summary"`
	Recommendations   []string  `json:"recommendations"`
	CarbonTotalMg     float64   `json:"carbon_total_mg"`
	CreatedAt         time.Time `json:"created_at"`
	Findings          []Finding `json:"findings"`
}

// merged is the per-canonical-URL rollup used while deduplicating.
type merged struct {
	finding    Finding
	acceptable bool
	remediated bool
	poor       bool
	missing    bool
	carbon     float64
}

// Reduce aggregates per-page findings into the site-level report. An image
// embedded on N pages counts once, keyed by canonical URL. The aggregation
// is order-independent: per-image statuses merge by precedence
// (acceptable > remediated > poor > missing) regardless of page order.
func Reduce(targetURL, wcagLevel string, pages []CrawledPage) *ComplianceReport {
	byCanonical := make(map[string]*merged)

	for _, page := range pages {
		for _, f := range page.Findings {
			m, ok := byCanonical[f.CanonicalURL]
			if !ok {
				m = &merged{finding: f}
				byCanonical[f.CanonicalURL] = m
			}
			switch f.Classification {
			case classify.Acceptable, classify.EmptyDecorative:
				m.acceptable = true
			case classify.Poor:
				m.poor = true
			case classify.Missing:
				m.missing = true
			}
			if f.Outcome == generate.OutcomeGenerated {
				m.remediated = true
				m.finding = f
			}
			if f.CarbonCostMg != nil && m.carbon == 0 {
				m.carbon = *f.CarbonCostMg
			}
		}
	}

	rep := &ComplianceReport{
		TargetURL: targetURL,
		WCAGLevel: wcagLevel,
		CreatedAt: time.Now().UTC(),
	}

	for _, m := range byCanonical {
		rep.TotalImages++
		rep.CarbonTotalMg += m.carbon
		rep.Findings = append(rep.Findings, m.finding)
		switch {
		case m.acceptable, m.remediated:
			rep.ImagesWithAlt++
		case m.poor:
			rep.ImagesWithPoorAlt++
		default:
			rep.ImagesWithoutAlt++
		}
	}

	// Map iteration order would otherwise leak into the stored report.
	sort.Slice(rep.Findings, func(i, j int) bool {
		return rep.Findings[i].CanonicalURL < rep.Findings[j].CanonicalURL
	})

	rep.ComplianceScore = Score(rep.ImagesWithAlt, rep.TotalImages)
	rep.Summary = summary(rep)
	rep.Recommendations = recommendations(rep)
	return rep
}

// Score is the compliance percentage: images with acceptable or remediated
// alt text over all distinct images. A site with no images has nothing to
// fail and scores 100.
func Score(withAlt, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(100 * float64(withAlt) / float64(total)))
}

// Band returns the severity band used verbatim in summaries.
func Band(score int) string {
	switch {
	case score >= 90:
		return "strong compliance"
	case score >= 70:
		return "moderate gaps"
	default:
		return "significant gaps"
	}
}

func summary(r *ComplianceReport) string {
	return fmt.Sprintf("%d of %d images have acceptable alternative text (%d%%, %s). %d missing, %d with poor alt text.",
		r.ImagesWithAlt, r.TotalImages, r.ComplianceScore, Band(r.ComplianceScore),
		r.ImagesWithoutAlt, r.ImagesWithPoorAlt)
}

func recommendations(r *ComplianceReport) []string {
	var recs []string
	if r.ImagesWithoutAlt > 0 {
		recs = append(recs, fmt.Sprintf("Fix %d images missing alt attributes first - these are WCAG Level A failures", r.ImagesWithoutAlt))
	}
	if r.ImagesWithPoorAlt > 0 {
		recs = append(recs, fmt.Sprintf("Rewrite %d generic or filename-like alt texts with meaningful descriptions", r.ImagesWithPoorAlt))
	}
	if r.ComplianceScore < 50 {
		recs = append(recs, "Consider a full accessibility audit - significant compliance gaps detected")
	}
	if r.ComplianceScore >= 90 {
		recs = append(recs, "Strong accessibility foundation - focus on minor refinements")
	}
	return recs
}

// UnremediatedCount reports how many distinct images still lack acceptable
// alt text. Feeds the job's images_missing_alt counter.
func UnremediatedCount(pages []CrawledPage) int {
	rep := Reduce("", "", pages)
	return rep.ImagesWithoutAlt + rep.ImagesWithPoorAlt
}
