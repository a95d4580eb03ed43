package models

import "slices"

// ChangeStrategy selects how the engine detects changed content between crawls.
type ChangeStrategy string

const (
	ChangeStrategyContentHash ChangeStrategy = "content_hash"
	ChangeStrategyStructural  ChangeStrategy = "structural"
)

// CrawlOptions are the per-run knobs forwarded to the engine with a start request.
// Zero values mean "engine default".
type CrawlOptions struct {
	MaxDepth              int            `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`
	StayOnDomain          *bool          `json:"stay_on_domain,omitempty" yaml:"stay_on_domain,omitempty"`
	FollowSubdomains      *bool          `json:"follow_subdomains,omitempty" yaml:"follow_subdomains,omitempty"`
	ParallelDownloads     int            `json:"parallel_downloads,omitempty" yaml:"parallel_downloads,omitempty"`
	AllowedFileTypes      []string       `json:"allowed_file_types,omitempty" yaml:"allowed_file_types,omitempty"`
	SkipDocs              bool           `json:"skip_docs,omitempty" yaml:"skip_docs,omitempty"`
	DownloadFiles         bool           `json:"download_files,omitempty" yaml:"download_files,omitempty"`
	EnableChangeDetection *bool          `json:"enable_change_detection,omitempty" yaml:"enable_change_detection,omitempty"`
	ChangeStrategy        ChangeStrategy `json:"change_strategy,omitempty" yaml:"change_strategy,omitempty"`
	ForceRefresh          bool           `json:"force_refresh,omitempty" yaml:"force_refresh,omitempty"`
}

// Clone returns a deep copy of o.
func (o CrawlOptions) Clone() CrawlOptions {
	o.AllowedFileTypes = slices.Clone(o.AllowedFileTypes)
	if o.StayOnDomain != nil {
		v := *o.StayOnDomain
		o.StayOnDomain = &v
	}
	if o.FollowSubdomains != nil {
		v := *o.FollowSubdomains
		o.FollowSubdomains = &v
	}
	if o.EnableChangeDetection != nil {
		v := *o.EnableChangeDetection
		o.EnableChangeDetection = &v
	}
	return o
}

// CrawlConfig is the engine-side persisted crawl configuration. The monitor
// passes it through without interpreting it.
type CrawlConfig map[string]any
