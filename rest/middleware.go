package rest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Key int

const (
	RequestLoggerKey Key = iota
	RequestIDKey
	RequestKey
)

type loggingResponseWriter struct {
	w      http.ResponseWriter
	buf    bytes.Buffer
	header int
}

func (w *loggingResponseWriter) Header() http.Header {
	return w.w.Header()
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	(&w.buf).Write(b)
	return w.w.Write(b)
}

func (w *loggingResponseWriter) WriteHeader(h int) {
	w.header = h
	w.w.WriteHeader(h)
}

func (w *loggingResponseWriter) Content() string {
	return w.buf.String()
}

// RequestLoggerFilter attaches a request scoped logger and request id to the
// request context and logs every finished request.
func RequestLoggerFilter(logger *zap.SugaredLogger) restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		rq := req.Request

		requestID := req.HeaderParameter("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		fields := []any{
			"rqid", requestID,
			"remoteaddr", rq.RemoteAddr,
			"method", rq.Method,
			"uri", rq.URL.RequestURI(),
			"component", componentName(rq.URL.Path),
		}

		debug := isDebug(logger)

		if debug {
			body, _ := httputil.DumpRequest(rq, true)
			fields = append(fields, "body", string(body))
		}

		// this creates a child log with the given fields as a structured context
		requestLogger := logger.With(fields...)

		enrichedContext := context.WithValue(req.Request.Context(), RequestLoggerKey, requestLogger)
		enrichedContext = context.WithValue(enrichedContext, RequestIDKey, requestID)
		req.Request = req.Request.WithContext(enrichedContext)

		t := time.Now()

		writer := &loggingResponseWriter{w: resp.ResponseWriter}
		resp.ResponseWriter = writer

		chain.ProcessFilter(req, resp)

		afterChainFields := []any{"status", resp.StatusCode(), "content-length", resp.ContentLength(), "duration", time.Since(t).String()}

		if debug || resp.StatusCode() >= 400 {
			afterChainFields = append(afterChainFields, "response", writer.Content())
		}

		switch {
		case resp.StatusCode() < 400, resp.StatusCode() == http.StatusServiceUnavailable:
			// an unhealthy component is a regular answer
			requestLogger.Infow("finished handling health request", afterChainFields...)
		default:
			requestLogger.Errorw("finished handling health request", afterChainFields...)
		}
	}
}

func isDebug(log *zap.SugaredLogger) bool {
	return log.Desugar().Core().Enabled(zap.DebugLevel)
}

// GetLoggerFromContext returns the request logger attached by
// RequestLoggerFilter or fallback.
func GetLoggerFromContext(rq *http.Request, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	l, ok := rq.Context().Value(RequestLoggerKey).(*zap.SugaredLogger)
	if ok {
		return l
	}
	return fallback
}

// PutRequestInContext makes rq available to checks invoked with the returned
// context, e.g. to read credentials.
func PutRequestInContext(ctx context.Context, rq *http.Request) context.Context {
	return context.WithValue(ctx, RequestKey, rq)
}

// GetRequestFromContext returns the request stored by PutRequestInContext.
func GetRequestFromContext(ctx context.Context) (*http.Request, bool) {
	rq, ok := ctx.Value(RequestKey).(*http.Request)
	return rq, ok && rq != nil
}

// componentName maps a request path to a component name by stripping all
// leading slashes.
func componentName(path string) string {
	return strings.TrimLeft(path, "/")
}
