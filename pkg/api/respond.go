package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/bridge"
	"github.com/mahaj/msgbridge/pkg/model"
	"github.com/mahaj/msgbridge/pkg/timecodec"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, model.Success(data))
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorData(w, err, nil)
}

func writeErrorData(w http.ResponseWriter, err error, data any) {
	env := model.ErrorEnvelope(err, data)
	writeJSON(w, env.Status, env)
}

// writeEnvelopeStatus answers with a bare status for router-level failures
// that have no apperr kind.
func writeEnvelopeStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.Failure(status, "request_error", msg, nil))
}

func notFound(r *http.Request) error {
	return apperr.NotFound("no route for "+r.Method+" "+r.URL.Path, nil)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.BadRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// decodeJSONNumbers keeps numbers as json.Number so daemon timestamps keep
// their precision.
func decodeJSONNumbers(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.BadRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// pathParam returns a decoded route parameter. Chat guids carry ';' and
// '+', which clients usually percent-encode.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

type pageQuery struct {
	limit  int
	offset int
}

// parsePage reads limit and offset. Range checks are left to the bridge.
func parsePage(r *http.Request) (pageQuery, error) {
	q := r.URL.Query()
	p := pageQuery{limit: bridge.DefaultPageLimit}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, apperr.BadRequest("limit must be an integer")
		}
		p.limit = n
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, apperr.BadRequest("offset must be an integer")
		}
		p.offset = n
	}
	return p, nil
}

func parseMillis(r *http.Request, key string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	ms, ok := timecodec.ParseClientMillis(raw)
	if !ok {
		return nil, apperr.BadRequest(key + " must be a timestamp in milliseconds")
	}
	return &ms, nil
}

// listParam accepts repeated and comma separated values.
func listParam(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
