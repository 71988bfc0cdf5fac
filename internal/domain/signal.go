package domain

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Empty reports whether the description carries no SDP body.
func (p *SDPPayload) Empty() bool {
	return p == nil || p.SDP == ""
}

// OfferEnvelope is the relay's offer-lookup response body.
type OfferEnvelope struct {
	Offer *SDPPayload `json:"offer"`
}

// AnswerEnvelope is the relay's answer-submission request body.
type AnswerEnvelope struct {
	Code   string     `json:"code"`
	Answer SDPPayload `json:"answer"`
}

// CodeEnvelope carries a bare pairing code; used for issuance responses and
// for deletion and lookup requests.
type CodeEnvelope struct {
	Code string `json:"code"`
}
