package models

import "time"

// Metric is one labelled, display-ready analytics value.
type Metric struct {
	Label string
	Value string
}

// SummaryEntry is a condensed view of one transcript message.
type SummaryEntry struct {
	Role      Role
	Content   string
	Timestamp time.Time
	Truncated bool
}

// Source is a reference shown in the research sources panel.
type Source struct {
	Title     string
	URL       string
	Relevance string
}

// TimelineEntry marks when each message of a topic was committed.
type TimelineEntry struct {
	Role      Role
	Timestamp time.Time
}
