package models

// Payload types for a broadcast send.
const (
	PayloadText        = "TEXT"
	PayloadMedia       = "MEDIA"
	PayloadInteractive = "INTERACTIVE"
)

// SendPayload is the prepared per-recipient send request stored on a
// BroadcastMessage and handed to the Graph client at dispatch time.
type SendPayload struct {
	Template        string           `json:"template"`
	Language        string           `json:"language"`
	Type            string           `json:"type"`
	MobileNo        string           `json:"mobileNo"`
	BodyVariables   []string         `json:"bodyVariables,omitempty"`
	HeaderVariables *HeaderVariables `json:"headerVariables,omitempty"`
	ButtonVariables []ButtonVariable `json:"buttonVariables,omitempty"`
}

// HeaderVariables describes the template header: either literal text or a
// previously uploaded media asset.
type HeaderVariables struct {
	Type string     `json:"type"` // text, image, video, document
	Data HeaderData `json:"data"`
}

type HeaderData struct {
	Text     string `json:"text,omitempty"`
	MediaID  string `json:"mediaId,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

type ButtonVariable struct {
	Payload string `json:"payload"`
}
