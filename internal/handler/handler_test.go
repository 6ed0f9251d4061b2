package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/nammalwarsai/skill3-cie/internal/gateway"
	"github.com/nammalwarsai/skill3-cie/internal/handler"
	"github.com/nammalwarsai/skill3-cie/internal/model"
	"github.com/nammalwarsai/skill3-cie/internal/repository"
	"github.com/nammalwarsai/skill3-cie/internal/router"
	"github.com/nammalwarsai/skill3-cie/internal/store/memstore"
)

const jwtSecret = "handler-test-secret"

type memTokens struct {
	mu   sync.Mutex
	live map[string]repository.Session
}

func (m *memTokens) StoreRefresh(_ context.Context, s repository.Session, hash string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[hash] = s
	return nil
}

func (m *memTokens) ConsumeRefresh(_ context.Context, hash string) (repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live[hash]
	if !ok {
		return repository.Session{}, repository.ErrTokenNotFound
	}
	delete(m.live, hash)
	return s, nil
}

func (m *memTokens) RevokeByHash(ctx context.Context, hash string) error {
	_, err := m.ConsumeRefresh(ctx, hash)
	return err
}

func (m *memTokens) RevokeAllForUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, s := range m.live {
		if s.Username == username {
			delete(m.live, h)
		}
	}
	return nil
}

type server struct {
	e       *echo.Echo
	gw      *gateway.Gateway
	records *memstore.Records
	blobs   *memstore.Blobs
	tokens  *memTokens
}

func newServer(t *testing.T, maxUpload int64) *server {
	t.Helper()
	s := &server{
		records: memstore.NewRecords(),
		blobs:   memstore.NewBlobs("http://example.test/v1/blobs", []byte("blob-secret")),
		tokens:  &memTokens{live: map[string]repository.Session{}},
	}
	s.gw = gateway.New(s.records, s.blobs,
		gateway.WithBcryptCost(bcrypt.MinCost),
		gateway.WithRetry(2, time.Millisecond),
		gateway.WithMaxUploadBytes(maxUpload),
	)
	s.e = echo.New()
	passthrough := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	cfg := handler.TokenConfig{JWTSecret: jwtSecret, AccessTTL: time.Minute, RefreshTTL: time.Hour}
	router.RegisterRoutes(s.e)
	router.RegisterAuth(s.e, handler.NewAuthHandler(cfg, s.gw, s.tokens), jwtSecret, passthrough)
	router.RegisterFiles(s.e, handler.NewFileHandler(s.gw, maxUpload), jwtSecret)
	router.RegisterDoctor(s.e, handler.NewDoctorHandler(s.gw), jwtSecret)
	router.RegisterBlobs(s.e, &handler.BlobHandler{Blobs: s.blobs})
	return s
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *server) upload(t *testing.T, token, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(content)
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/files", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

type authBody struct {
	User   model.Profile `json:"user"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh *struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, rec)["error"]
}

func (s *server) registerAndLogin(t *testing.T, username, password string) authBody {
	t.Helper()
	if rec := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"username": username, "password": password}); rec.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", username, rec.Code, rec.Body.String())
	}
	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": username, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, rec.Code, rec.Body.String())
	}
	return decode[authBody](t, rec)
}

func (s *server) doctorToken(t *testing.T) string {
	t.Helper()
	_, err := s.gw.CreateDoctor(context.Background(), gateway.DoctorInput{Username: "house", Password: "vicodin", DoctorID: "D-1"})
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	rec := s.do(t, http.MethodPost, "/v1/auth/doctor/login", "", map[string]string{"name": "house", "password": "vicodin", "doctor_id": "D-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("doctor login: %d %s", rec.Code, rec.Body.String())
	}
	return decode[authBody](t, rec).Access.Token
}

func TestHealth(t *testing.T) {
	s := newServer(t, 1<<20)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := newServer(t, 1<<20)
	rec := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"username": "alice", "password": "pw", "email": "A@X.io"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("register response leaks password data: %s", rec.Body.String())
	}
	got := decode[struct{ User model.Profile }](t, rec).User
	if got.Username != "alice" || got.Role != model.RolePatient || got.Email != "a@x.io" {
		t.Fatalf("profile %+v", got)
	}

	rec = s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"username": "alice", "password": "other"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"username": "", "password": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid username: %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	body := decode[authBody](t, rec)
	if body.Access.Token == "" || body.Refresh == nil || body.Refresh.Token == "" {
		t.Fatalf("missing tokens: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/v1/me", body.Access.Token, nil)
	me := decode[map[string]string](t, rec)
	if rec.Code != http.StatusOK || me["username"] != "alice" || me["role"] != model.RolePatient {
		t.Fatalf("me: %d %v", rec.Code, me)
	}
}

func TestRegister_CaseVariantCannotShareFolder(t *testing.T) {
	s := newServer(t, 1<<20)
	alice := s.registerAndLogin(t, "alice", "pw")
	if rec := s.upload(t, alice.Access.Token, "report.pdf", []byte("%PDF")); rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"username": "Alice", "password": "pw"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("register Alice: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "Alice", "password": "pw"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login Alice: %d %s", rec.Code, rec.Body.String())
	}
}

func TestLogin_FailuresLookTheSame(t *testing.T) {
	s := newServer(t, 1<<20)
	s.registerAndLogin(t, "alice", "pw")

	wrong := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": "nope"})
	unknown := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "mallory", "password": "nope"})
	if wrong.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("codes %d %d", wrong.Code, unknown.Code)
	}
	if wrong.Body.String() != unknown.Body.String() {
		t.Fatalf("bodies differ: %q vs %q", wrong.Body.String(), unknown.Body.String())
	}
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	s := newServer(t, 1<<20)
	login := s.registerAndLogin(t, "alice", "pw")
	old := login.Refresh.Token

	rec := s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": old})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body.String())
	}
	next := decode[authBody](t, rec)
	if next.User.Username != "alice" || next.Refresh == nil || next.Refresh.Token == old {
		t.Fatalf("refresh did not rotate: %s", rec.Body.String())
	}
	if rec := s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": old}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: %d", rec.Code)
	}

	if rec := s.do(t, http.MethodPost, "/v1/auth/logout", "", map[string]string{"refresh_token": next.Refresh.Token}); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": next.Refresh.Token}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/v1/auth/logout", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty logout: %d", rec.Code)
	}
}

func TestLogoutWithBearerRevokesAll(t *testing.T) {
	s := newServer(t, 1<<20)
	first := s.registerAndLogin(t, "alice", "pw")
	second := decode[authBody](t, s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": "pw"}))

	if rec := s.do(t, http.MethodPost, "/v1/auth/logout", second.Access.Token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d %s", rec.Code, rec.Body.String())
	}
	for _, tok := range []string{first.Refresh.Token, second.Refresh.Token} {
		if rec := s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": tok}); rec.Code != http.StatusUnauthorized {
			t.Fatalf("token survived logout: %d", rec.Code)
		}
	}
}

func TestUploadListAndDownload(t *testing.T) {
	s := newServer(t, 1<<20)
	alice := s.registerAndLogin(t, "alice", "pw").Access.Token

	rec := s.upload(t, alice, "report.pdf", []byte("%PDF-1.4 hello"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	obj := decode[model.FileObject](t, rec)
	if !strings.HasPrefix(obj.Key, "users/alice/") || !strings.HasSuffix(obj.Key, "_report.pdf") || obj.Size != 14 {
		t.Fatalf("object %+v", obj)
	}

	rec = s.do(t, http.MethodGet, "/v1/files", alice, nil)
	files := decode[struct{ Files []model.FileObject }](t, rec).Files
	if rec.Code != http.StatusOK || len(files) != 1 || files[0].Key != obj.Key || files[0].Name != "report.pdf" {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/v1/files/link", alice, map[string]string{"key": obj.Key})
	if rec.Code != http.StatusOK {
		t.Fatalf("link: %d %s", rec.Code, rec.Body.String())
	}
	link := decode[model.DownloadLink](t, rec)
	u, err := url.Parse(link.URL)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	rec = s.do(t, http.MethodGet, u.Path+"?"+u.RawQuery, "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "%PDF-1.4 hello" {
		t.Fatalf("download: %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "report.pdf") {
		t.Fatalf("content disposition %q", rec.Header().Get(echo.HeaderContentDisposition))
	}

	q := u.Query()
	q.Set("key", "users/bob/1_x.txt")
	if rec := s.do(t, http.MethodGet, u.Path+"?"+q.Encode(), "", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("tampered link: %d", rec.Code)
	}
}

func TestUpload_Rejections(t *testing.T) {
	s := newServer(t, 16)
	alice := s.registerAndLogin(t, "alice", "pw").Access.Token

	if rec := s.upload(t, alice, "big.bin", bytes.Repeat([]byte("x"), 17)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("too large: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.upload(t, alice, "empty.txt", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.upload(t, "", "a.txt", []byte("x")); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/files", strings.NewReader("{}"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+alice)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file field: %d", rec.Code)
	}
}

func TestLink_Authorization(t *testing.T) {
	s := newServer(t, 1<<20)
	alice := s.registerAndLogin(t, "alice", "pw").Access.Token
	bob := s.registerAndLogin(t, "bob", "pw").Access.Token
	key := decode[model.FileObject](t, s.upload(t, alice, "a.txt", []byte("secret"))).Key

	rec := s.do(t, http.MethodPost, "/v1/files/link", bob, map[string]string{"key": key})
	if rec.Code != http.StatusForbidden || strings.Contains(rec.Body.String(), "http") {
		t.Fatalf("bob got alice's link: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodPost, "/v1/files/link", alice, map[string]string{"key": "users/alice/1_missing.txt"}); rec.Code != http.StatusNotFound {
		t.Fatalf("missing object: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/v1/files/link", alice, map[string]string{"key": "../etc/passwd"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed key: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/v1/files/link", alice, map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty key: %d", rec.Code)
	}
}

func TestDoctorViews(t *testing.T) {
	s := newServer(t, 1<<20)
	alice := s.registerAndLogin(t, "alice", "pw").Access.Token
	s.registerAndLogin(t, "bob", "pw")
	key := decode[model.FileObject](t, s.upload(t, alice, "scan.png", []byte("png"))).Key
	doc := s.doctorToken(t)

	rec := s.do(t, http.MethodGet, "/v1/doctor/patients", doc, nil)
	patients := decode[struct{ Patients []model.Profile }](t, rec).Patients
	if rec.Code != http.StatusOK || len(patients) != 2 || patients[0].Username != "alice" || patients[1].Username != "bob" {
		t.Fatalf("patients: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/v1/doctor/patients/alice/files", doc, nil)
	files := decode[struct{ Files []model.FileObject }](t, rec).Files
	if rec.Code != http.StatusOK || len(files) != 1 || files[0].Key != key {
		t.Fatalf("patient files: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodPost, "/v1/files/link", doc, map[string]string{"key": key}); rec.Code != http.StatusOK {
		t.Fatalf("doctor link: %d %s", rec.Code, rec.Body.String())
	}

	if rec := s.do(t, http.MethodGet, "/v1/doctor/patients", alice, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("patient on doctor route: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/v1/files", doc, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("doctor upload: %d", rec.Code)
	}
}

func TestDoctorLogin_Rejections(t *testing.T) {
	s := newServer(t, 1<<20)
	s.doctorToken(t)
	s.registerAndLogin(t, "alice", "pw")

	cases := []map[string]string{
		{"name": "house", "password": "vicodin", "doctor_id": "D-2"},
		{"name": "house", "password": "wrong", "doctor_id": "D-1"},
		{"name": "alice", "password": "pw", "doctor_id": "D-1"},
	}
	for _, body := range cases {
		if rec := s.do(t, http.MethodPost, "/v1/auth/doctor/login", "", body); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%v: %d", body, rec.Code)
		}
	}
	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "house", "password": "vicodin"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("doctor via patient login: %d", rec.Code)
	}
}

func TestStoreUnavailableMapsTo503(t *testing.T) {
	s := newServer(t, 1<<20)
	alice := s.registerAndLogin(t, "alice", "pw").Access.Token
	boom := io.ErrUnexpectedEOF
	s.blobs.FailWith(boom, boom)

	rec := s.do(t, http.MethodGet, "/v1/files", alice, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
	if msg := errorOf(t, rec); msg != gateway.ErrStoreUnavailable.Error() {
		t.Fatalf("message %q leaks detail", msg)
	}
}

func TestRefreshUnavailableWithoutStore(t *testing.T) {
	s := newServer(t, 1<<20)
	e := echo.New()
	cfg := handler.TokenConfig{JWTSecret: jwtSecret, AccessTTL: time.Minute, RefreshTTL: time.Hour}
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, s.gw, nil), jwtSecret, func(next echo.HandlerFunc) echo.HandlerFunc { return next })
	s.e = e

	s.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{"username": "alice", "password": "pw"})
	rec := s.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": "pw"})
	body := decode[authBody](t, rec)
	if rec.Code != http.StatusOK || body.Access.Token == "" || body.Refresh != nil {
		t.Fatalf("login without refresh store: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": "x"}); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("refresh: %d", rec.Code)
	}
}
