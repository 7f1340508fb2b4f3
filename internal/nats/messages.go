package nats

// SubmissionMessage asks the queue to list one source folder.
type SubmissionMessage struct {
	Folder      string `json:"folder"`
	TemplateID  string `json:"template_id,omitempty"`
	AutoPublish *bool  `json:"auto_publish,omitempty"`
	Price       string `json:"price,omitempty"`
}

// StatusMessage reports a job's state on the status subject.
type StatusMessage struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	Stage     string `json:"stage"`
	ListingID string `json:"listing_id,omitempty"`
	OfferID   string `json:"offer_id,omitempty"`
	Error     string `json:"error,omitempty"`
}
