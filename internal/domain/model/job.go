package model

import "time"

// Job is a scraped job listing, the producer side of the application queue.
// Scrape workers insert jobs; EnqueueForUser turns them into queue items.
type Job struct {
	ID        string
	SiteID    string
	URL       string
	Title     string
	Company   string
	CreatedAt time.Time
}

func NewJob(id, siteID, url, title, company string) *Job {
	return &Job{
		ID:        id,
		SiteID:    siteID,
		URL:       url,
		Title:     title,
		Company:   company,
		CreatedAt: time.Now(),
	}
}
