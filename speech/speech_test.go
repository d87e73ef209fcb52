package speech

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-relay-backend/models"
)

func defaultRequest() models.SynthesisRequest {
	return models.SynthesisRequest{
		Text:   "hello",
		Voice:  "zh-CN-YunxiaNeural",
		Style:  "cheerful",
		Role:   "Boy",
		Rate:   "1",
		Volume: "100",
	}
}

func TestBuildSSML(t *testing.T) {
	doc, err := BuildSSML(defaultRequest())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, "<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis'"))
	assert.Contains(t, doc, "<voice name='zh-CN-YunxiaNeural'>")
	assert.Contains(t, doc, "<mstts:express-as style='cheerful' role='Boy'>")
	assert.Contains(t, doc, "<prosody rate='1' volume='100'>")
	assert.Contains(t, doc, "\n          hello\n")
	assert.True(t, strings.HasSuffix(doc, "</speak>"))
}

func TestBuildSSMLEscapes(t *testing.T) {
	req := defaultRequest()
	req.Text = `</prosody><break time="5s"/> Tom & Jerry`
	req.Voice = `x' onload='y`

	doc, err := BuildSSML(req)
	require.NoError(t, err)

	assert.NotContains(t, doc, "<break")
	assert.Contains(t, doc, "&lt;/prosody&gt;&lt;break time=&#34;5s&#34;/&gt; Tom &amp; Jerry")
	assert.Contains(t, doc, "<voice name='x&#39; onload=&#39;y'>")

	// the document must still be well-formed XML
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}
}

func TestSynthesizeSuccess(t *testing.T) {
	audio := []byte("RIFF\x00\x01\x02fake-wav")
	doc, err := BuildSSML(defaultRequest())
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/eastasia/cognitiveservices/v1", r.URL.Path)
		assert.Equal(t, "application/ssml+xml", r.Header.Get("Content-Type"))
		assert.Equal(t, "riff-48khz-16bit-mono-pcm", r.Header.Get("X-Microsoft-OutputFormat"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, int64(len(doc)), r.ContentLength)

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, doc, string(body))
		w.Write(audio)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{
		Endpoint:  srv.URL + "/{region}/cognitiveservices/v1",
		UserAgent: "test-agent",
		Timeout:   5 * time.Second,
	})

	got, err := c.Synthesize(context.Background(), "tok", "eastasia", doc)
	require.NoError(t, err)
	assert.Equal(t, audio, got)
}

func TestSynthesizeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("token expired"))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL})
	_, err := c.Synthesize(context.Background(), "tok", "r", "<speak/>")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "token expired", se.Body)
	assert.Equal(t, "API error: HTTP status 401", se.Error())
}

func TestSynthesizeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{Endpoint: url})
	_, err := c.Synthesize(context.Background(), "tok", "r", "<speak/>")

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, strings.HasPrefix(te.Error(), "transport error: "))
}

func TestSynthesizeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(ClientConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Synthesize(context.Background(), "tok", "r", "<speak/>")

	var te *TransportError
	assert.True(t, errors.As(err, &te))
}
