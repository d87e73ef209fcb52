// Package speech builds SSML documents and calls the provider's synthesis
// endpoint.
package speech

import (
	"bytes"
	"encoding/xml"
	"text/template"

	"speech-relay-backend/models"
)

var ssmlTemplate = template.Must(template.New("ssml").Funcs(template.FuncMap{
	"x": escape,
}).Parse(`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xmlns:mstts='http://www.w3.org/2001/mstts' xml:lang='en-US'>
  <voice name='{{x .Voice}}'>
    <mstts:express-as style='{{x .Style}}' role='{{x .Role}}'>
        <prosody rate='{{x .Rate}}' volume='{{x .Volume}}'>
          {{x .Text}}
        </prosody>
    </mstts:express-as>
  </voice>
</speak>`))

// BuildSSML renders req into the relay's SSML document. Every value is
// XML-escaped, so caller input cannot add or close elements.
func BuildSSML(req models.SynthesisRequest) (string, error) {
	var buf bytes.Buffer
	if err := ssmlTemplate.Execute(&buf, req); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func escape(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
