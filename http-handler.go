package main

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"k8s.io/klog/v2"

	"github.com/deuspy/deuspy/docstore"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// maxRequestBodyBytes bounds request bodies this server will parse as
// JSON; anything larger is rejected before an Unmarshal is attempted.
const maxRequestBodyBytes = 1 << 20

// NewHandler builds the fasthttp request handler implementing the five
// routes over store: GET/POST on "/" and GET/POST/DELETE on "/{uid}".
func NewHandler(store *docstore.Store) fasthttp.RequestHandler {
	return func(c *fasthttp.RequestCtx) {
		startedAt := time.Now()
		method := string(c.Method())
		route := "/"
		code := http.StatusOK
		defer func() {
			observeRequest(method, route, code, time.Since(startedAt).Seconds())
			klog.V(2).Infof("%s %s -> %d in %s", method, c.Path(), code, time.Since(startedAt))
		}()

		if c.Request.Header.ContentLength() > maxRequestBodyBytes {
			code = http.StatusRequestEntityTooLarge
			replyError(c, code, "request entity too large")
			return
		}

		path := strings.TrimPrefix(string(c.Path()), "/")
		if path == "" {
			switch {
			case c.IsGet():
				code = handleQuery(c, store)
			case c.IsPost():
				code = handleCreate(c, store)
			default:
				code = http.StatusMethodNotAllowed
				replyError(c, code, "method not allowed")
			}
			return
		}

		route = "/{uid}"
		uid, err := strconv.ParseInt(path, 10, 64)
		if err != nil {
			code = http.StatusBadRequest
			replyError(c, code, "uid must be an integer")
			return
		}

		switch {
		case c.IsGet():
			code = handleRead(c, store, uid)
		case c.IsPost():
			code = handleUpdate(c, store, uid)
		case string(c.Method()) == fasthttp.MethodDelete:
			code = handleDelete(c, store, uid)
		default:
			code = http.StatusMethodNotAllowed
			replyError(c, code, "method not allowed")
		}
	}
}

// handleQuery serves GET /: an optional JSON object body supplies
// equality filters; the response is {uid_string: doc} for every match.
func handleQuery(c *fasthttp.RequestCtx, store *docstore.Store) int {
	var filter docstore.Filter
	body := c.Request.Body()
	if len(body) > 0 {
		var raw map[string]interface{}
		if err := jsonAPI.Unmarshal(body, &raw); err != nil {
			replyError(c, http.StatusBadRequest, "malformed JSON filter")
			return http.StatusBadRequest
		}
		for name, value := range raw {
			filter = append(filter, docstore.Predicate{Name: name, Value: value})
		}
	}

	cursor, err := store.Query(filter)
	if err != nil {
		return replyStorageErr(c, err)
	}
	defer cursor.Close()

	results := make(map[string]docstore.Document)
	for {
		uid, err := cursor.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return replyStorageErr(c, err)
		}
		doc, err := store.Read(uid)
		if err != nil {
			return replyStorageErr(c, err)
		}
		if doc != nil {
			results[strconv.FormatInt(uid, 10)] = doc
		}
	}
	replyJSON(c, http.StatusOK, results)
	return http.StatusOK
}

// handleCreate serves POST /: body is the new document, response is its
// freshly allocated uid.
func handleCreate(c *fasthttp.RequestCtx, store *docstore.Store) int {
	var doc docstore.Document
	if err := jsonAPI.Unmarshal(c.Request.Body(), &doc); err != nil {
		replyError(c, http.StatusBadRequest, "malformed JSON document")
		return http.StatusBadRequest
	}

	uid, err := store.Create(doc)
	if err != nil {
		return replyStorageErr(c, err)
	}
	metricsDocumentCount.Inc()
	replyJSON(c, http.StatusOK, uid)
	return http.StatusOK
}

// handleRead serves GET /{uid}.
func handleRead(c *fasthttp.RequestCtx, store *docstore.Store, uid int64) int {
	doc, err := store.Read(uid)
	if err != nil {
		return replyStorageErr(c, err)
	}
	if doc == nil {
		replyError(c, http.StatusNotFound, "no such document")
		return http.StatusNotFound
	}
	replyJSON(c, http.StatusOK, doc)
	return http.StatusOK
}

// handleUpdate serves POST /{uid}: body must be a JSON object, which
// replaces the document at uid (creating it if uid was unknown).
func handleUpdate(c *fasthttp.RequestCtx, store *docstore.Store, uid int64) int {
	var doc docstore.Document
	if err := jsonAPI.Unmarshal(c.Request.Body(), &doc); err != nil || doc == nil {
		replyError(c, http.StatusBadRequest, "malformed JSON document")
		return http.StatusBadRequest
	}

	if err := store.Update(uid, doc); err != nil {
		return replyStorageErr(c, err)
	}
	replyJSON(c, http.StatusOK, struct{}{})
	return http.StatusOK
}

// handleDelete serves DELETE /{uid}, answering 404 when there was no
// document to delete.
func handleDelete(c *fasthttp.RequestCtx, store *docstore.Store, uid int64) int {
	deleted, err := store.Delete(uid)
	if err != nil {
		return replyStorageErr(c, err)
	}
	if !deleted {
		replyError(c, http.StatusNotFound, "no such document")
		return http.StatusNotFound
	}
	metricsDocumentCount.Dec()
	replyJSON(c, http.StatusOK, struct{}{})
	return http.StatusOK
}

func replyStorageErr(c *fasthttp.RequestCtx, err error) int {
	klog.Errorf("storage error: %v", err)
	replyError(c, http.StatusInternalServerError, "internal error")
	return http.StatusInternalServerError
}

func replyJSON(ctx *fasthttp.RequestCtx, code int, v interface{}) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(code)
	if err := jsonAPI.NewEncoder(ctx).Encode(v); err != nil {
		klog.Errorf("failed to marshal response: %v", err)
	}
}

func replyError(ctx *fasthttp.RequestCtx, code int, message string) {
	replyJSON(ctx, code, map[string]string{"error": message})
}
