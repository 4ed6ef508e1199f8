package webhook

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/events"
)

func (s *Server) handleCallEvent(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	ev, err := events.DecodeCallEvent(body)
	if err != nil {
		s.reject(w, err)
		return
	}
	s.dispatch(w, r, ev)
}

func (s *Server) handleRecordingSaved(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	ev, err := events.DecodeRecordingSaved(body)
	if err != nil {
		s.reject(w, err)
		return
	}
	s.dispatch(w, r, ev)
}

func (s *Server) handleTwilioStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.reject(w, err)
		return
	}
	ev, err := events.FromTwilioStatus(r.PostForm)
	if err != nil {
		s.reject(w, err)
		return
	}
	s.dispatch(w, r, ev)
}

func (s *Server) handleTwilioRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.reject(w, err)
		return
	}
	ev, err := events.FromTwilioRecording(r.PostForm)
	if err != nil {
		s.reject(w, err)
		return
	}
	s.dispatch(w, r, ev)
}

// dispatch hands the event to the orchestrator and always acknowledges it;
// providers retry anything that is not a 2xx.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ev events.Event) {
	outcome := s.handler.Handle(r.Context(), ev)
	s.logger.Debug("event_received", "call_id", ev.CallID(), "event", ev.Name(), "outcome", outcome.String())
	writeJSON(w, http.StatusOK, map[string]string{"status": outcome.String()})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.reject(w, err)
		return nil, false
	}
	return body, true
}

func (s *Server) reject(w http.ResponseWriter, err error) {
	s.logger.Warn("webhook_decode_failed", "error", err.Error(), "reason_code", string(errorsx.ReasonWebhookDecode))
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

func (s *Server) requireTwilioSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.validTwilioRequest(r) {
			s.logger.Warn("twilio_invalid_signature", "path", r.URL.Path, "reason_code", string(errorsx.ReasonWebhookInvalidSignature))
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(s.cfg.AuthToken)
	return validator.ValidateBody(s.requestURL(r), body, signature)
}

func (s *Server) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		base := strings.TrimRight(s.cfg.PublicURL, "/")
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			base = "https://" + base
		}
		return base + r.URL.RequestURI()
	}
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
