package api

import "github.com/codeready-toolchain/crawlwatch/pkg/models"

// StartCrawlRequest is the body of POST /api/v1/crawl.
type StartCrawlRequest struct {
	URL     string              `json:"url" binding:"required"`
	Options models.CrawlOptions `json:"options"`
}
