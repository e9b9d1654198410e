package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/metal-stack/failover/pkg/healthstatus"
	"go.uber.org/zap"
)

const (
	messageOK           = "OK"
	messageFail         = "FAIL"
	messageError        = "ERROR"
	messageArmed        = "Armed"
	messageUnauthorized = "Invalid credentials"
)

type failoverResource struct {
	log      *zap.SugaredLogger
	registry *Registry
}

// NewFailover returns a container serving every component of the registry
// under /<name>. GET and HEAD run the component's check, POST runs its
// action. All responses are short plain text messages.
func NewFailover(log *zap.SugaredLogger, registry *Registry) *restful.Container {
	h := &failoverResource{
		log:      log,
		registry: registry,
	}

	container := restful.NewContainer()
	container.Filter(RequestLoggerFilter(log))
	container.HandleWithFilter("/", h)

	return container
}

func (h *failoverResource) ServeHTTP(w http.ResponseWriter, rq *http.Request) {
	var (
		name = componentName(rq.URL.Path)
		log  = GetLoggerFromContext(rq, h.log)
		ctx  = PutRequestInContext(rq.Context(), rq)
	)

	switch rq.Method {
	case http.MethodGet, http.MethodHead:
		h.check(ctx, log, w, rq, name)
	case http.MethodPost:
		h.post(ctx, log, w, rq, name)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		respond(log, w, rq, http.StatusMethodNotAllowed, messageError)
	}
}

func (h *failoverResource) check(ctx context.Context, log *zap.SugaredLogger, w http.ResponseWriter, rq *http.Request, name string) {
	hc, err := h.registry.Check(name)
	if err != nil {
		log.Errorw("unknown component", "name", name)
		respond(log, w, rq, http.StatusNotFound, messageError)
		return
	}

	log.Debugw("invoking health check", "name", name)
	status, err := invokeCheck(ctx, hc)
	if err != nil {
		log.Errorw("health check raised an error", "name", name, "error", err)
		respond(log, w, rq, http.StatusInternalServerError, messageError)
		return
	}

	if status.Healthy() {
		log.Debugw("health check passed", "name", name)
		respond(log, w, rq, http.StatusOK, messageOK)
		return
	}
	log.Infow("health check failed", "name", name)
	respond(log, w, rq, http.StatusServiceUnavailable, messageFail)
}

func (h *failoverResource) post(ctx context.Context, log *zap.SugaredLogger, w http.ResponseWriter, rq *http.Request, name string) {
	action, err := h.registry.Action(name)
	if err != nil {
		log.Errorw("no action for component", "name", name)
		respond(log, w, rq, http.StatusNotFound, messageError)
		return
	}

	granted, err := invokeAction(ctx, action)
	if err != nil {
		log.Errorw("action raised an error", "name", name, "error", err)
		respond(log, w, rq, http.StatusInternalServerError, messageError)
		return
	}

	if !granted {
		log.Infow("action denied", "name", name)
		w.Header().Set("WWW-Authenticate", `Basic realm="failover"`)
		respond(log, w, rq, http.StatusUnauthorized, messageUnauthorized)
		return
	}
	log.Infow("action granted", "name", name)
	respond(log, w, rq, http.StatusOK, messageArmed)
}

func invokeCheck(ctx context.Context, hc healthstatus.HealthCheck) (status healthstatus.HealthStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return hc.Check(ctx)
}

func invokeAction(ctx context.Context, action Action) (granted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return action(ctx)
}

func respond(log *zap.SugaredLogger, w http.ResponseWriter, rq *http.Request, code int, message string) {
	body := []byte(message)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Connection", "close")
	w.WriteHeader(code)

	if rq.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		log.Errorw("error writing response", "error", err)
	}
}
