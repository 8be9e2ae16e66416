// Package scraper retrieves the support site's page text through an external
// content-retrieval service and extracts category-tagged FAQ records from it.
package scraper

// DefaultSupportURL is the single support page this system scrapes.
const DefaultSupportURL = "https://www.aven.com/support"

// Stats summarises one extraction pass.
type Stats struct {
	TotalSections   int `json:"total_sections"`
	SkippedSections int `json:"skipped_sections"`
	TotalPairs      int `json:"total_pairs"`
	AcceptedPairs   int `json:"accepted_pairs"`
}

// fetchRequest is the content-retrieval service's request body.
type fetchRequest struct {
	URLs []string `json:"urls"`
	Text bool     `json:"text"`
}

// fetchResponse is the content-retrieval service's response body.
type fetchResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}
