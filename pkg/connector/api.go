// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"
)

// maxRequestBodySize is the maximum accepted request body (1 MB).
const maxRequestBodySize = 1 << 20

// API serves the relay's HTTP surface.
type API struct {
	client     *WhatsAppClient
	contacts   *ContactDirectory
	groups     *GroupDirectory
	userServer string
	log        zerolog.Logger
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type sendGroupRequest struct {
	GroupID string `json:"groupId"`
	Message string `json:"message"`
}

func NewAPI(client *WhatsAppClient, contacts *ContactDirectory, groups *GroupDirectory, userServer string, log zerolog.Logger) *API {
	return &API{
		client:     client,
		contacts:   contacts,
		groups:     groups,
		userServer: userServer,
		log:        log.With().Str("component", "api").Logger(),
	}
}

// Router builds the HTTP routes.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(
		hlog.NewHandler(a.log),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(a.logAccess),
		a.recoverPanics,
	)

	r.HandleFunc("/send-message", a.HandleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/connect", a.HandleConnect).Methods(http.MethodGet)
	r.HandleFunc("/notifications", a.HandleNotifications).Methods(http.MethodGet)
	r.HandleFunc("/send", a.HandleSend).Methods(http.MethodPost)
	r.HandleFunc("/disconnect", a.HandleDisconnect).Methods(http.MethodPost)
	r.HandleFunc("/groups", a.HandleGroups).Methods(http.MethodGet)
	r.HandleFunc("/send-group", a.HandleSendGroup).Methods(http.MethodPost)
	r.HandleFunc("/status", a.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/qr", a.HandleQR).Methods(http.MethodGet)
	return r
}

func (a *API) logAccess(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("Request handled")
}

func (a *API) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				hlog.FromRequest(r).Error().Interface("panic", rec).Msg("Panic while handling request")
				writeError(w, KindInternal, "Internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

func writeError(w http.ResponseWriter, kind ErrorKind, text string) {
	w.Header().Set(ErrorKindHeader, string(kind))
	writeText(w, kind.HTTPStatus(), text)
}

// decodeBody reads a JSON request body into out.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

// HandleSendMessage handles POST /send-message. The message is sent through
// the gateway; failures are queued and still answered with 200.
func (a *API) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, KindInvalidRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.To) == "" || req.Message == "" {
		writeError(w, KindInvalidRequest, "Recipient number and message are required")
		return
	}

	// MakeUserJID trims the number and accepts an already qualified JID
	// instead of appending the server suffix a second time.
	delivery := a.client.SendWithRetry(r.Context(), MakeUserJID(req.To, a.userServer), req.Message)
	if delivery.Queued {
		hlog.FromRequest(r).Info().
			Int("queue_depth", delivery.QueueDepth).
			Msg("Send accepted and queued")
	}
	writeText(w, http.StatusOK, "Message sent successfully")
}

// HandleConnect handles GET /connect.
func (a *API) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if a.client.IsLoggedIn() {
		writeText(w, http.StatusOK, "WhatsApp is connected")
		return
	}
	writeText(w, http.StatusOK, "QR code needed to connect")
}

// HandleNotifications handles GET /notifications.
func (a *API) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, a.contacts.List())
}

// HandleSend handles POST /send. Unlike /send-message, failures are reported
// to the caller and nothing is queued.
func (a *API) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, KindInvalidRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.To) == "" || req.Message == "" {
		writeError(w, KindInvalidRequest, "Recipient number and message are required")
		return
	}

	// Same recipient normalisation as /send-message.
	if err := a.client.SendDirect(r.Context(), MakeUserJID(req.To, a.userServer), req.Message); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to send message")
		writeError(w, KindSendFailed, "Failed to send message")
		return
	}
	writeText(w, http.StatusOK, "Message sent successfully")
}

// HandleDisconnect handles POST /disconnect by logging out of WhatsApp.
func (a *API) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	err := a.client.Logout(r.Context())
	switch {
	case errors.Is(err, ErrNoSession):
		writeError(w, KindNoSession, "No active connection to disconnect")
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to disconnect")
		writeError(w, KindInternal, "Failed to disconnect")
	default:
		writeText(w, http.StatusOK, "Disconnected from WhatsApp")
	}
}

// HandleGroups handles GET /groups. Every call refreshes the group allowlist.
func (a *API) HandleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.groups.Refresh(r.Context(), a.client)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to list groups")
		writeError(w, KindInternal, "Failed to list groups")
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, groups)
}

// HandleSendGroup handles POST /send-group. Only groups returned by the last
// GET /groups are accepted.
func (a *API) HandleSendGroup(w http.ResponseWriter, r *http.Request) {
	var req sendGroupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, KindInvalidRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.GroupID) == "" || req.Message == "" {
		writeError(w, KindInvalidRequest, "Group ID and message are required")
		return
	}
	if !a.groups.IsKnown(req.GroupID) {
		hlog.FromRequest(r).Debug().Err(ErrUnknownGroup).Str("group_id", req.GroupID).Msg("Rejected group send")
		writeError(w, KindUnknownGroup, "Invalid group ID")
		return
	}

	if err := a.client.SendDirect(r.Context(), req.GroupID, req.Message); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("group_id", req.GroupID).Msg("Failed to send group message")
		writeError(w, KindSendFailed, "Failed to send message")
		return
	}
	writeText(w, http.StatusOK, "Message sent successfully")
}

// HandleStatus handles GET /status.
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, a.client.Status())
}

// HandleQR handles GET /qr, serving the pending pairing code as a PNG.
func (a *API) HandleQR(w http.ResponseWriter, r *http.Request) {
	code := a.client.PairingCode()
	if code == "" {
		writeText(w, http.StatusNotFound, "No pairing in progress")
		return
	}
	png, err := RenderQRPNG(code)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to render QR code")
		writeError(w, KindInternal, "Failed to render QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
