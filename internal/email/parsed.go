package email

// Parsed is the decoded MIME form of a message: at most one plain-text
// body, at most one HTML body, and any number of attachments.
type Parsed struct {
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Attachment is one file carried by a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
