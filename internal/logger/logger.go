package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the id assigned to each outbound request.
const RequestIDHeader = "X-Request-Id"

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

var _ http.RoundTripper = (*OutboundRequests)(nil)

// OutboundRequests logs every request sent to a remote service.
type OutboundRequests struct {
	logger zerolog.Logger
	next   http.RoundTripper
}

// NewOutboundRequests wraps next, if next is nil http.DefaultTransport is used.
func NewOutboundRequests(logger zerolog.Logger, next http.RoundTripper) *OutboundRequests {
	if next == nil {
		next = http.DefaultTransport
	}
	return &OutboundRequests{logger: logger, next: next}
}

func (o *OutboundRequests) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		requestID = id.String()

		// RoundTrippers must not modify the caller's request
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, requestID)
	}

	ctx := o.logger.With().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Str("request_id", requestID).
		Logger().WithContext(req.Context())

	resp, err := o.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("http request")

		return resp, err
	}

	zerolog.Ctx(ctx).Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("http request")

	return resp, nil
}
