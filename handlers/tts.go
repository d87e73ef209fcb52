package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"speech-relay-backend/config"
	"speech-relay-backend/models"
	"speech-relay-backend/speech"
	"speech-relay-backend/utils"
)

const maxFormSize = 1 << 20 // 1MB

// TokenSource resolves provider bearer tokens.
type TokenSource interface {
	GetAccessToken(ctx context.Context, subscriptionKey, region string) (string, error)
}

// Synthesizer sends SSML to the provider and returns audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, token, region, ssml string) ([]byte, error)
}

// EventPublisher receives relay events for monitor clients.
type EventPublisher interface {
	Publish(ev models.Event)
}

// Settings are the parts of the config the relay reads per request.
type Settings struct {
	SubscriptionKey string
	Region          string
	Defaults        config.Defaults
}

// SettingsFromConfig extracts relay settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		SubscriptionKey: cfg.SubscriptionKey,
		Region:          cfg.Region,
		Defaults:        cfg.Defaults,
	}
}

// Relay handles POST text-to-speech requests: it resolves a bearer token,
// sends the SSML to the provider and writes the audio back.
type Relay struct {
	tokens   TokenSource
	synth    Synthesizer
	events   EventPublisher
	settings atomic.Pointer[Settings]
}

// NewRelay creates a relay. events may be nil.
func NewRelay(tokens TokenSource, synth Synthesizer, events EventPublisher, s Settings) *Relay {
	rl := &Relay{tokens: tokens, synth: synth, events: events}
	rl.Update(s)
	return rl
}

// Update swaps in new settings; in-flight requests keep the old ones.
func (rl *Relay) Update(s Settings) {
	rl.settings.Store(&s)
}

// ServeHTTP handles POST /api/tts
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s := rl.settings.Load()
	log := logrus.WithField("request_id", middleware.GetReqID(r.Context()))

	// The guard middleware has already passed this request
	state := models.StateGuardChecked

	if s.SubscriptionKey == "" || s.Region == "" {
		rl.fail(w, log, state, "", errNoCredentials)
		return
	}

	req, err := parseRequest(w, r, s.Defaults)
	if err != nil {
		rl.fail(w, log, state, "", err)
		return
	}
	// "0" is a valid utterance
	if req.Text == "" {
		rl.fail(w, log, state, req.Voice, errTextRequired)
		return
	}

	token, err := rl.tokens.GetAccessToken(r.Context(), s.SubscriptionKey, s.Region)
	if err != nil {
		rl.fail(w, log, state, req.Voice, err)
		return
	}
	state = models.StateTokenResolved

	doc, err := speech.BuildSSML(req)
	if err != nil {
		rl.fail(w, log, state, req.Voice, fmt.Errorf("build ssml: %w", err))
		return
	}

	audio, err := rl.synth.Synthesize(r.Context(), token, s.Region, doc)
	if err != nil {
		rl.fail(w, log, state, req.Voice, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		log.WithError(err).Warnln("client went away while writing audio")
	}
	state = models.StateResponded

	log.WithFields(logrus.Fields{
		"voice":    req.Voice,
		"bytes":    len(audio),
		"duration": time.Since(start).String(),
		"state":    state,
	}).Infoln("synthesis complete")

	rl.publish(models.Event{
		Type:   models.EventSynthesisComplete,
		State:  state,
		Status: http.StatusOK,
		Voice:  req.Voice,
		Bytes:  len(audio),
	})
}

// fail writes the JSON error for err. reached is the last state the request
// got to before failing.
func (rl *Relay) fail(w http.ResponseWriter, log *logrus.Entry, reached models.RequestState, voice string, err error) {
	re := classify(err)

	entry := log.WithFields(logrus.Fields{
		"status":  re.Status,
		"reached": reached,
		"state":   models.StateFailed,
	})
	if re.Status >= http.StatusInternalServerError {
		entry.WithError(err).Errorln(re.Message)
	} else {
		entry.WithError(err).Warnln(re.Message)
	}

	utils.WriteError(w, re.Status, re.Message)

	rl.publish(models.Event{
		Type:    models.EventSynthesisFailed,
		State:   models.StateFailed,
		Status:  re.Status,
		Message: re.Message,
		Voice:   voice,
	})
}

func (rl *Relay) publish(ev models.Event) {
	if rl.events == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now().Unix()
	rl.events.Publish(ev)
}

// parseRequest reads the form body. Fields absent from the form take their
// default; fields present but empty stay empty.
func parseRequest(w http.ResponseWriter, r *http.Request, def config.Defaults) (models.SynthesisRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)

	var err error
	if isMultipart(r) {
		err = r.ParseMultipartForm(maxFormSize)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		status := http.StatusBadRequest
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			status = http.StatusRequestEntityTooLarge
		}
		return models.SynthesisRequest{}, &RelayError{Status: status, Message: "Invalid form body", Err: err}
	}

	field := func(name, fallback string) string {
		if vals, ok := r.PostForm[name]; ok && len(vals) > 0 {
			return vals[0]
		}
		return fallback
	}

	return models.SynthesisRequest{
		Text:   field("text", def.Text),
		Voice:  field("voice", def.Voice),
		Style:  field("style", def.Style),
		Role:   field("role", def.Role),
		Rate:   field("rate", def.Rate),
		Volume: field("volume", def.Volume),
	}, nil
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}
