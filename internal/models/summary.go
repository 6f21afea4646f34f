package models

import "time"

// Summary aggregates progress across all projects.
type Summary struct {
	TotalProjects          int        `json:"total_projects"`
	TotalSites             int        `json:"total_sites"`
	AverageCreationSeconds float64    `json:"average_creation_seconds"`
	AIModel                string     `json:"ai_model"`
	LastSiteAt             *time.Time `json:"last_site_at"`
}

// Summarize computes the dashboard summary. Average creation time is the mean pipeline
// duration of all recorded sites.
func Summarize(projects []Project, model string) Summary {
	s := Summary{TotalProjects: len(projects), AIModel: model}
	var totalMs int64
	for _, p := range projects {
		for i := range p.Progress {
			e := &p.Progress[i]
			s.TotalSites++
			totalMs += e.DurationMs
			if !e.CreatedAt.IsZero() && (s.LastSiteAt == nil || e.CreatedAt.After(*s.LastSiteAt)) {
				at := e.CreatedAt
				s.LastSiteAt = &at
			}
		}
	}
	if s.TotalSites > 0 {
		avg := float64(totalMs) / float64(s.TotalSites) / 1000
		s.AverageCreationSeconds = float64(int64(avg*100+0.5)) / 100
	}
	return s
}
