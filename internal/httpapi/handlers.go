package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/shelf/internal/engine"
	"github.com/mesh-intelligence/shelf/internal/syntax"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// maxBody bounds a request body.
const maxBody = 8 << 20

// Reserved query parameters of a record read.
const (
	paramRelationship = "_relationship"
	paramLimit        = "_limit"
	paramOffset       = "_offset"
	paramSort         = "_sort"
)

// spaceDeclaration is the body of PUT on a space.
type spaceDeclaration struct {
	Kind   types.SpaceKind          `json:"kind"`
	Fields []types.FieldDeclaration `json:"fields"`
}

func (s *Server) listSpaces(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	spaces, err := s.engine.ListSpaces(r.Context(), tr)
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	writeJSON(w, http.StatusOK, spaces)
}

func (s *Server) getSpace(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	space, err := s.engine.GetSpace(r.Context(), tr)
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	writeJSON(w, http.StatusOK, space)
}

func (s *Server) declareSpace(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	var decl spaceDeclaration
	if err := decodeBody(r, &decl); err != nil {
		s.fail(w, tr, err)
		return
	}
	space, err := s.engine.DeclareSpace(r.Context(), tr, decl.Fields, decl.Kind, headerFlag(r, HeaderMutateStructure))
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	writeJSON(w, http.StatusOK, space)
}

func (s *Server) deleteSpace(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	if err := s.engine.DeleteSpace(r.Context(), tr); err != nil {
		s.fail(w, tr, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeField(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	space, err := s.engine.RemoveField(r.Context(), tr, chi.URLParam(r, "field"))
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	writeJSON(w, http.StatusOK, space)
}

func (s *Server) exportSpace(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	if _, err := s.engine.GetSpace(r.Context(), tr); err != nil {
		s.fail(w, tr, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := s.engine.ExportSpace(r.Context(), tr, w); err != nil {
		// The status line is already sent.
		s.logger.Warn("export aborted", append(tr.Fields(), zap.Error(err))...)
	}
}

func (s *Server) importSpace(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	res, err := s.engine.ImportSpace(r.Context(), tr, http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"space":     res.Space,
		"imported":  res.Imported,
		"skipped":   res.Skipped,
		"malformed": res.Malformed,
	})
}

func (s *Server) addRecord(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	body, wo, err := writeRequest(r)
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	d, err := s.engine.AddRecord(r.Context(), tr, body, wo)
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	writeJSON(w, http.StatusCreated, d.Flat())
}

func (s *Server) updateRecord(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	body, wo, err := writeRequest(r)
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	d, err := s.engine.UpdateRecordByID(r.Context(), tr, chi.URLParam(r, "id"), body, wo)
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Flat())
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	raw, ro, err := readRequest(r)
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	ds, err := s.engine.GetRecords(r.Context(), tr, raw, ro)
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	writeJSON(w, http.StatusOK, flatten(ds))
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	d, err := s.engine.GetRecordByID(r.Context(), tr, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, tr, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Flat())
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	if err := s.engine.DeleteRecordByID(r.Context(), tr, chi.URLParam(r, "id")); err != nil {
		s.fail(w, tr, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearRecords(w http.ResponseWriter, r *http.Request) {
	tr := s.trace(r)
	if _, err := s.engine.ClearRecords(r.Context(), tr); err != nil {
		s.fail(w, tr, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeRequest decodes the body and structure headers of a write.
func writeRequest(r *http.Request) (map[string]any, engine.WriteOptions, error) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		return nil, engine.WriteOptions{}, err
	}
	if body == nil {
		return nil, engine.WriteOptions{}, fmt.Errorf("%w: body must be a JSON object", types.ErrInvalidDocument)
	}
	wo := engine.WriteOptions{
		MutateStructure: headerFlag(r, HeaderMutateStructure),
		ClearRecords:    headerFlag(r, HeaderClearRecords),
	}
	if h := r.Header.Get(HeaderStructure); h != "" {
		if err := json.Unmarshal([]byte(h), &wo.Structure); err != nil {
			return nil, wo, fmt.Errorf("%w: %s header: %v", types.ErrInvalidStructure, HeaderStructure, err)
		}
		if wo.Structure == nil {
			wo.Structure = []types.FieldDeclaration{}
		}
	}
	return body, wo, nil
}

// readRequest splits the query string into predicates and read options.
// A parameter given once is a string; repeated, it is a list.
func readRequest(r *http.Request) (map[string]any, engine.ReadOptions, error) {
	var (
		ro   engine.ReadOptions
		errs types.Errors
	)
	raw := make(map[string]any)
	for key, values := range r.URL.Query() {
		switch key {
		case paramRelationship:
			rel, err := syntax.ParseRelationship(values[0])
			errs.Append(err)
			ro.Relationship = rel
		case paramLimit:
			ro.Limit, errs = intParam(key, values[0], errs)
		case paramOffset:
			ro.Offset, errs = intParam(key, values[0], errs)
		case paramSort:
			ro.Sort = strings.Join(values, ",")
		default:
			if len(values) == 1 {
				raw[key] = values[0]
				continue
			}
			list := make([]any, len(values))
			for i, v := range values {
				list[i] = v
			}
			raw[key] = list
		}
	}
	return raw, ro, errs.Err()
}

func intParam(key, value string, errs types.Errors) (int, types.Errors) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		errs.Append(fmt.Errorf("%w: %s must be a non-negative integer, got %q", types.ErrInvalidQuery, key, value))
		return 0, errs
	}
	return n, errs
}

func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", types.ErrInvalidDocument, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidDocument, err)
	}
	return nil
}

func headerFlag(r *http.Request, name string) bool {
	ok, _ := strconv.ParseBool(r.Header.Get(name))
	return ok
}
