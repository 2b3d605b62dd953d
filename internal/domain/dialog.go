package domain

// DialogKind selects the buttons a confirmation dialog offers
type DialogKind string

const (
	DialogOK       DialogKind = "ok"
	DialogOKCancel DialogKind = "ok_cancel"
	DialogYesNo    DialogKind = "yes_no"
)

// Block is one piece of dialog body content. Exactly one field is set.
type Block struct {
	Paragraph string `json:"paragraph,omitempty"`
	Command   string `json:"command,omitempty"`
	Link      string `json:"link,omitempty"`
	Href      string `json:"href,omitempty"`
}

// Dialog is a request for a user decision
type Dialog struct {
	Kind     DialogKind           `json:"kind"`
	Title    string               `json:"title"`
	Body     []Block              `json:"body"`
	OnResult func(confirmed bool) `json:"-"`
}

// Resolve delivers the user's answer, if anyone is listening
func (d Dialog) Resolve(confirmed bool) {
	if d.OnResult != nil {
		d.OnResult(confirmed)
	}
}
