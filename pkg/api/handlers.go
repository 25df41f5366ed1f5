package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/bridge"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/upstream"
)

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "pong")
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	token, exp, err := s.auth.IssueToken()
	if err != nil {
		writeError(w, apperr.Internal("failed to issue token", err))
		return
	}
	writeOK(w, tokenResponse{Token: token, ExpiresAt: exp.UnixMilli()})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	chats, err := s.svc.ListChats(r.Context(), bridge.ListChatsParams{Limit: page.limit, Offset: page.offset})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, chats)
}

type queryChatsRequest struct {
	Query  string `json:"query"`
	Limit  *int   `json:"limit"`
	Offset int    `json:"offset"`
}

func (s *Server) handleQueryChats(w http.ResponseWriter, r *http.Request) {
	var req queryChatsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	limit := bridge.DefaultPageLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	chats, err := s.svc.QueryChats(r.Context(), bridge.QueryChatsParams{Query: req.Query, Limit: limit, Offset: req.Offset})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, chats)
}

type createChatRequest struct {
	Addresses []string `json:"addresses"`
	Service   string   `json:"service"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	chat, err := s.svc.CreateChat(r.Context(), bridge.CreateChatParams{Addresses: req.Addresses, Service: req.Service})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, chat)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.svc.GetChat(r.Context(), pathParam(r, "guid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, chat)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	before, err := parseMillis(r, "before")
	if err != nil {
		writeError(w, err)
		return
	}
	after, err := parseMillis(r, "after")
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.svc.ListMessages(r.Context(), bridge.ListMessagesParams{
		ChatGUID: pathParam(r, "guid"),
		Limit:    page.limit,
		Offset:   page.offset,
		Before:   before,
		After:    after,
		Sort:     r.URL.Query().Get("sort"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, msgs)
}

func (s *Server) handleTyping(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guid := pathParam(r, "guid")
		var err error
		if start {
			err = s.svc.StartTyping(r.Context(), guid)
		} else {
			err = s.svc.StopTyping(r.Context(), guid)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, nil)
	}
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.MarkRead(r.Context(), pathParam(r, "guid")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

type sendTextRequest struct {
	ChatGUID        string   `json:"chatGuid"`
	TempGUID        string   `json:"tempGuid"`
	Message         string   `json:"message"`
	AttachmentPaths []string `json:"attachmentPaths"`
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req sendTextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := s.svc.SendText(r.Context(), bridge.SendTextParams{
		ChatGUID:        req.ChatGUID,
		TempGUID:        req.TempGUID,
		Message:         req.Message,
		AttachmentPaths: req.AttachmentPaths,
	})
	s.writeSendResult(w, msg, err)
}

// writeSendResult echoes the failed message so clients can mark the bubble.
func (s *Server) writeSendResult(w http.ResponseWriter, msg model.Message, err error) {
	if err != nil {
		if msg.Error != 0 {
			writeErrorData(w, err, msg)
			return
		}
		writeError(w, err)
		return
	}
	writeOK(w, msg)
}

func (s *Server) handleSendAttachment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, apperr.BadRequest("expected a multipart form"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("attachment")
	if err != nil {
		writeError(w, apperr.BadRequest("attachment file is required"))
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	msg, err := s.svc.SendAttachment(r.Context(), bridge.SendAttachmentParams{
		ChatGUID: r.FormValue("chatGuid"),
		TempGUID: r.FormValue("tempGuid"),
		Name:     name,
		Message:  r.FormValue("message"),
		Data:     file,
	})
	s.writeSendResult(w, msg, err)
}

func (s *Server) handleUploadStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.uploads.Start()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, model.UploadSession{UploadID: id})
}

type chunkResponse struct {
	UploadID string `json:"uploadId"`
	Index    int    `json:"index"`
	Size     int64  `json:"size"`
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	index, err := strconv.Atoi(pathParam(r, "index"))
	if err != nil {
		writeError(w, apperr.BadRequest("chunk index must be an integer"))
		return
	}
	n, err := s.uploads.PutChunk(id, index, r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, chunkResponse{UploadID: id, Index: index, Size: n})
}

type finishUploadRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleUploadFinish(w http.ResponseWriter, r *http.Request) {
	var req finishUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	staged, err := s.uploads.Finish(pathParam(r, "id"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, staged)
}

func (s *Server) handleUploadAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.uploads.Abort(pathParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Attachment(r.Context(), pathParam(r, "guid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, a)
}

// passthroughHeaders are copied from the daemon's attachment response.
var passthroughHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Content-Disposition",
	"ETag",
	"Last-Modified",
}

func (s *Server) handleAttachmentDownload(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.AttachmentData(r.Context(), pathParam(r, "guid"), r.Header.Get("Range"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer resp.Body.Close()

	for _, h := range passthroughHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.log.Debug().Err(err).Str("request_id", requestIDFromContext(r.Context())).Msg("attachment stream interrupted")
	}
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	contacts, err := s.svc.ListContacts(r.Context(), bridge.ListContactsParams{
		Limit:           page.limit,
		Offset:          page.offset,
		ExtraProperties: listParam(r, "extraProperties"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, contacts)
}

func (s *Server) handleExportVCard(w http.ResponseWriter, r *http.Request) {
	data, err := s.svc.ExportVCard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="contacts.vcf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type queryContactsRequest struct {
	Addresses []string `json:"addresses"`
}

func (s *Server) handleQueryContacts(w http.ResponseWriter, r *http.Request) {
	var req queryContactsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	contacts, err := s.svc.QueryContacts(r.Context(), req.Addresses)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, contacts)
}

type ingestResponse struct {
	Broadcast  int `json:"broadcast"`
	Duplicates int `json:"duplicates"`
}

// handleUpstreamEvents accepts daemon pushes. Delivery runs on a detached
// context so a daemon that hangs up early does not cut a broadcast short.
func (s *Server) handleUpstreamEvents(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSONNumbers(r, &raw); err != nil {
		writeError(w, err)
		return
	}
	if raw == nil {
		writeError(w, apperr.BadRequest("event body is required"))
		return
	}
	u, err := upstream.ParseUpdates(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 10*time.Second)
	defer cancel()
	res := s.svc.Ingest(ctx, u)
	writeOK(w, ingestResponse{Broadcast: res.Broadcast, Duplicates: res.Duplicates})
}
