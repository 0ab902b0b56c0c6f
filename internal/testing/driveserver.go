package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveServer is an in-memory Drive v3 backend served over httptest.
// It understands the subset of the API the tool uses: list with simple
// q expressions and paging, get/download, copy, create, multipart upload,
// delete and trash.
type DriveServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string]*drive.File
	content  map[string][]byte
	order    []string
	nextID   int
	failures []*failure
	Requests []string
}

type failure struct {
	method string
	path   string
	status int
	reason string
	times  int
}

// NewDriveServer starts a server that is closed when the test ends
func NewDriveServer(t *testing.T) *DriveServer {
	t.Helper()
	s := &DriveServer{
		files:   make(map[string]*drive.File),
		content: make(map[string][]byte),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Service returns a Drive client pointed at the server
func (s *DriveServer) Service(t *testing.T) *drive.Service {
	t.Helper()
	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(s.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(s.Client()),
	)
	if err != nil {
		t.Fatalf("drive.NewService: %v", err)
	}
	return svc
}

// Add stores a file with optional content. CreatedTime is filled in insertion order.
func (s *DriveServer) Add(f *drive.File, content []byte) *drive.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(f, content)
}

func (s *DriveServer) addLocked(f *drive.File, content []byte) *drive.File {
	if f.Id == "" {
		s.nextID++
		f.Id = fmt.Sprintf("gen-%d", s.nextID)
	}
	if f.CreatedTime == "" {
		f.CreatedTime = time.Date(2024, 1, 1, 0, 0, len(s.order), 0, time.UTC).Format(time.RFC3339)
	}
	if content != nil {
		s.content[f.Id] = content
		f.Size = int64(len(content))
	}
	if _, exists := s.files[f.Id]; !exists {
		s.order = append(s.order, f.Id)
	}
	s.files[f.Id] = f
	return f
}

// File returns a stored file, or nil
func (s *DriveServer) File(id string) *drive.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[id]
}

// Content returns stored file bytes
func (s *DriveServer) Content(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content[id]
}

// Children returns the names of non-trashed files under parent, in insertion order
func (s *DriveServer) Children(parent string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, id := range s.order {
		f, ok := s.files[id]
		if ok && !f.Trashed && hasParent(f, parent) {
			names = append(names, f.Name)
		}
	}
	return names
}

// FailNext makes the next `times` requests matching method and path prefix
// fail with status. reason becomes the googleapi error reason.
func (s *DriveServer) FailNext(method, pathPrefix string, status int, reason string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{method: method, path: pathPrefix, status: status, reason: reason, times: times})
}

func (s *DriveServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, r.Method+" "+r.URL.Path)

	for _, f := range s.failures {
		if f.times > 0 && f.method == r.Method && strings.HasPrefix(r.URL.Path, f.path) {
			f.times--
			_, _ = io.Copy(io.Discard, r.Body)
			writeError(w, f.status, f.reason)
			return
		}
	}

	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/upload/") && strings.HasSuffix(path, "/files") && r.Method == http.MethodPost:
		s.handleUpload(w, r)
	case path == "/files" && r.Method == http.MethodGet:
		s.handleList(w, r)
	case path == "/files" && r.Method == http.MethodPost:
		s.handleCreate(w, r)
	case strings.HasPrefix(path, "/files/") && strings.HasSuffix(path, "/copy") && r.Method == http.MethodPost:
		s.handleCopy(w, r, strings.TrimSuffix(strings.TrimPrefix(path, "/files/"), "/copy"))
	case strings.HasPrefix(path, "/files/"):
		id := strings.TrimPrefix(path, "/files/")
		switch r.Method {
		case http.MethodGet:
			s.handleGet(w, r, id)
		case http.MethodDelete:
			s.handleDelete(w, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "badRequest")
		}
	default:
		writeError(w, http.StatusNotFound, "notFound")
	}
}

func (s *DriveServer) handleList(w http.ResponseWriter, r *http.Request) {
	match, err := compileQuery(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidQuery")
		return
	}

	var matched []*drive.File
	for _, id := range s.order {
		if f := s.files[id]; f != nil && match(f) {
			matched = append(matched, f)
		}
	}
	if strings.HasPrefix(r.URL.Query().Get("orderBy"), "createdTime") {
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedTime < matched[j].CreatedTime })
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize <= 0 {
		pageSize = 100
	}
	end := offset + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	if offset > len(matched) {
		offset = len(matched)
	}

	list := &drive.FileList{Files: matched[offset:end]}
	if end < len(matched) {
		list.NextPageToken = strconv.Itoa(end)
	}
	writeJSON(w, list)
}

func (s *DriveServer) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	f, ok := s.files[id]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}
	if r.URL.Query().Get("alt") == "media" {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(s.content[id])
		return
	}
	writeJSON(w, f)
}

func (s *DriveServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var meta drive.File
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, "parseError")
		return
	}
	meta.Id = ""
	writeJSON(w, s.addLocked(&meta, nil))
}

func (s *DriveServer) handleCopy(w http.ResponseWriter, r *http.Request, id string) {
	src, ok := s.files[id]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}
	var meta drive.File
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, "parseError")
		return
	}
	cp := &drive.File{
		Name:     src.Name,
		MimeType: src.MimeType,
		Parents:  src.Parents,
	}
	if meta.Name != "" {
		cp.Name = meta.Name
	}
	if len(meta.Parents) > 0 {
		cp.Parents = meta.Parents
	}
	var body []byte
	if c, ok := s.content[id]; ok {
		body = append([]byte(nil), c...)
	}
	writeJSON(w, s.addLocked(cp, body))
}

func (s *DriveServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		writeError(w, http.StatusBadRequest, "badContent")
		return
	}
	reader := multipart.NewReader(r.Body, params["boundary"])

	var meta drive.File
	part, err := reader.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, "badContent")
		return
	}
	if err := json.NewDecoder(part).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, "parseError")
		return
	}
	part, err = reader.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, "badContent")
		return
	}
	body, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "badContent")
		return
	}
	if meta.MimeType == "" {
		meta.MimeType = part.Header.Get("Content-Type")
	}
	meta.Id = ""
	writeJSON(w, s.addLocked(&meta, body))
}

func (s *DriveServer) handleDelete(w http.ResponseWriter, id string) {
	if _, ok := s.files[id]; !ok {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}
	delete(s.files, id)
	delete(s.content, id)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": http.StatusText(status),
			"errors": []map[string]string{
				{"reason": reason, "message": http.StatusText(status)},
			},
		},
	})
}

func hasParent(f *drive.File, parent string) bool {
	for _, p := range f.Parents {
		if p == parent {
			return true
		}
	}
	return false
}

var (
	inParentsClause = regexp.MustCompile(`^'((?:[^'\\]|\\.)*)'\s+in\s+parents$`)
	fieldClause     = regexp.MustCompile(`^(name|mimeType)\s*=\s*'((?:[^'\\]|\\.)*)'$`)
	trashedClause   = regexp.MustCompile(`^trashed\s*=\s*(true|false)$`)
	unescaper       = strings.NewReplacer(`\'`, `'`, `\\`, `\`)
)

// compileQuery turns a conjunction of simple Drive q clauses into a predicate
func compileQuery(q string) (func(*drive.File) bool, error) {
	var preds []func(*drive.File) bool
	for _, clause := range splitAnd(q) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		switch {
		case inParentsClause.MatchString(clause):
			parent := unescaper.Replace(inParentsClause.FindStringSubmatch(clause)[1])
			preds = append(preds, func(f *drive.File) bool { return hasParent(f, parent) })
		case fieldClause.MatchString(clause):
			m := fieldClause.FindStringSubmatch(clause)
			field, value := m[1], unescaper.Replace(m[2])
			preds = append(preds, func(f *drive.File) bool {
				if field == "name" {
					return f.Name == value
				}
				return f.MimeType == value
			})
		case trashedClause.MatchString(clause):
			want := trashedClause.FindStringSubmatch(clause)[1] == "true"
			preds = append(preds, func(f *drive.File) bool { return f.Trashed == want })
		default:
			return nil, fmt.Errorf("unsupported clause %q", clause)
		}
	}
	return func(f *drive.File) bool {
		for _, p := range preds {
			if !p(f) {
				return false
			}
		}
		return true
	}, nil
}

// splitAnd splits on " and " outside single-quoted literals
func splitAnd(q string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		if inQuote && c == '\\' && i+1 < len(q) {
			cur.WriteByte(c)
			cur.WriteByte(q[i+1])
			i++
			continue
		}
		if c == '\'' {
			inQuote = !inQuote
		}
		if !inQuote && strings.HasPrefix(q[i:], " and ") {
			parts = append(parts, cur.String())
			cur.Reset()
			i += len(" and ") - 1
			continue
		}
		cur.WriteByte(c)
	}
	parts = append(parts, cur.String())
	return parts
}

