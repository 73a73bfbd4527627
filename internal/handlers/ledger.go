package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/xelth-com/reportsync/internal/ledger"
	"go.uber.org/zap"
)

func queryInt(req *http.Request, name string) (int, bool) {
	raw := req.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func pathID(req *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// listStatements handles GET /api/statements?status=&kind=&document=&limit=&offset=
func (r *Router) listStatements(w http.ResponseWriter, req *http.Request) {
	limit, okLimit := queryInt(req, "limit")
	offset, okOffset := queryInt(req, "offset")
	if !okLimit || !okOffset {
		respondError(w, http.StatusBadRequest, "limit and offset must be non-negative integers")
		return
	}

	q := req.URL.Query()
	stmts, err := r.ledger.ListStatements(req.Context(), ledger.StatementFilter{
		Status:     q.Get("status"),
		Kind:       q.Get("kind"),
		DocumentID: q.Get("document"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		r.log.Error("list statements failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, stmts)
}

// getStatement handles GET /api/statements/{id}
func (r *Router) getStatement(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid statement id")
		return
	}

	stmt, err := r.ledger.GetStatement(req.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Statement not found")
		return
	}
	if err != nil {
		r.log.Error("get statement failed", zap.Uint("statement_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, stmt)
}

// listExecutions handles GET /api/statements/{id}/executions
func (r *Router) listExecutions(w http.ResponseWriter, req *http.Request) {
	id, ok := pathID(req)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid statement id")
		return
	}
	limit, ok := queryInt(req, "limit")
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	if _, err := r.ledger.GetStatement(req.Context(), id); errors.Is(err, ledger.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Statement not found")
		return
	}
	recs, err := r.ledger.Executions(req.Context(), id, limit)
	if err != nil {
		r.log.Error("list executions failed", zap.Uint("statement_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

// listDocuments handles GET /api/documents?processed=true|false&limit=
func (r *Router) listDocuments(w http.ResponseWriter, req *http.Request) {
	var processed *bool
	if raw := req.URL.Query().Get("processed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "processed must be true or false")
			return
		}
		processed = &v
	}
	limit, ok := queryInt(req, "limit")
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	docs, err := r.ledger.ListDocuments(req.Context(), processed, limit)
	if err != nil {
		r.log.Error("list documents failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, docs)
}

// listPasses handles GET /api/passes?limit=
func (r *Router) listPasses(w http.ResponseWriter, req *http.Request) {
	limit, ok := queryInt(req, "limit")
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	passes, err := r.ledger.RecentPasses(req.Context(), limit)
	if err != nil {
		r.log.Error("list passes failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, passes)
}
