package boundary

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nexuslabs/nexus/internal/logger"
	"github.com/nexuslabs/nexus/pkg/abac"
	"github.com/nexuslabs/nexus/pkg/entity"
)

// Handlers is the set of core operations a transport mounts behind HTTP.
// NewRouter wires chi routes to these methods; it never calls into the
// tuple store, authz checker, or any other core package directly, keeping
// the route table the only thing this package commits to. A concrete
// Handlers implementation (constructed from an *App, say) supplies the
// rest.
type Handlers interface {
	CheckPermission(r *http.Request, subject entity.Entity, permission string, object entity.Entity, zoneID string, abacCtx abac.Context) (bool, error)
	CreateUpload(r *http.Request, targetPath string, uploadLength int64, metadata map[string]string, zoneID, userID, checksumAlgorithm string) (any, error)
	UploadChunk(r *http.Request, uploadID string, offset int64, data []byte, checksumHeader string) (any, error)
	UploadStatus(r *http.Request, uploadID string) (any, error)
	CreateShareLink(r *http.Request, path string, opCtx OperationContext) (any, string, error)
	ResolveShareLink(r *http.Request, token, password string, opCtx OperationContext) (any, error)
}

// checkRequest/checkResponse are the JSON shapes the permission-check route
// reads and writes.
type checkRequest struct {
	SubjectType string       `json:"subject_type"`
	SubjectID   string       `json:"subject_id"`
	Permission  string       `json:"permission"`
	ObjectType  string       `json:"object_type"`
	ObjectID    string       `json:"object_id"`
	ZoneID      string       `json:"zone_id"`
	Context     abac.Context `json:"context,omitempty"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

// NewRouter builds the chi route table for the Nexus core's permission,
// upload, and share-link operations. Nothing here runs net/http.Serve —
// that decision, and the port/TLS/middleware a production deployment
// wants around it, belongs to whatever embeds this router.
//
// Routes:
//   - GET  /health                        - liveness probe
//   - POST /api/v1/check                  - permission check
//   - POST /api/v1/uploads                - start a resumable upload session
//   - PATCH /api/v1/uploads/{id}           - append a chunk
//   - GET  /api/v1/uploads/{id}            - session status
//   - POST /api/v1/share-links            - create a share link
//   - POST /api/v1/share-links/resolve    - resolve a token into a grant
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/check", handleCheck(h))

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", handleCreateUpload(h))
			r.Patch("/{uploadID}", handleUploadChunk(h))
			r.Get("/{uploadID}", handleUploadStatus(h))
		})

		r.Route("/share-links", func(r chi.Router) {
			r.Post("/", handleCreateShareLink(h))
			r.Post("/resolve", handleResolveShareLink(h))
		})
	})

	return r
}

func handleCheck(h Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, NewValidation("malformed request body"))
			return
		}

		allowed, err := h.CheckPermission(r,
			entity.New(entity.Type(req.SubjectType), req.SubjectID),
			req.Permission,
			entity.New(entity.Type(req.ObjectType), req.ObjectID),
			req.ZoneID,
			req.Context,
		)
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, checkResponse{Allowed: allowed})
	}
}

func handleCreateUpload(h Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TargetPath        string            `json:"target_path"`
			UploadLength       int64             `json:"upload_length"`
			Metadata          map[string]string `json:"metadata"`
			ZoneID            string            `json:"zone_id"`
			UserID            string            `json:"user_id"`
			ChecksumAlgorithm string            `json:"checksum_algorithm"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, NewValidation("malformed request body"))
			return
		}
		session, err := h.CreateUpload(r, req.TargetPath, req.UploadLength, req.Metadata, req.ZoneID, req.UserID, req.ChecksumAlgorithm)
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	}
}

func handleUploadChunk(h Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID := chi.URLParam(r, "uploadID")
		offset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
		if err != nil {
			WriteError(w, NewValidation("missing or invalid Upload-Offset header"))
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, NewValidation("failed to read chunk body"))
			return
		}
		session, err := h.UploadChunk(r, uploadID, offset, data, r.Header.Get("Upload-Checksum"))
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func handleUploadStatus(h Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := h.UploadStatus(r, chi.URLParam(r, "uploadID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func handleCreateShareLink(h Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, NewValidation("malformed request body"))
			return
		}
		link, token, err := h.CreateShareLink(r, req.Path, opContextFromRequest(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			Link  any    `json:"link"`
			Token string `json:"token"`
		}{link, token})
	}
}

func handleResolveShareLink(h Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token    string `json:"token"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, NewValidation("malformed request body"))
			return
		}
		result, err := h.ResolveShareLink(r, req.Token, req.Password, opContextFromRequest(r))
		if err != nil {
			WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// opContextFromRequest builds an OperationContext from whatever the
// transport's authentication middleware has already attached to the
// request; that middleware is a transport concern and lives outside this
// package, so this only fills RequestedAt.
func opContextFromRequest(r *http.Request) OperationContext {
	return OperationContext{RequestedAt: time.Now()}
}

// statusFor maps the boundary error taxonomy onto HTTP status codes.
func statusFor(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied, CodeShareLinkRevoked, CodeSharePasswordRequired, CodeSharePasswordInvalid:
		return http.StatusForbidden
	case CodeValidationError, CodeUploadOffsetMismatch, CodeUploadChecksumMismatch:
		return http.StatusBadRequest
	case CodeZoneIsolation:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeUploadExpired, CodeShareLinkExpired:
		return http.StatusGone
	case CodeTooManyConcurrentUploads, CodeGraphLimitExceeded:
		return http.StatusTooManyRequests
	case CodeBackendError, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteError maps err onto an HTTP status and writes it as JSON. Errors
// that aren't a *boundary.Error become CodeInternal, same as any
// unexpected panic the Recoverer middleware catches.
func WriteError(w http.ResponseWriter, err error) {
	be, ok := err.(*Error)
	if !ok {
		be = NewInternal(err)
	}
	writeJSON(w, statusFor(be.Code), struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{be.Code.String(), be.Message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLogger mirrors the teacher's custom chi middleware: log once, when
// the request completes, using the package logger instead of chi's own
// stdlib-logger default.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("boundary request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
