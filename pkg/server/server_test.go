package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/entrhq/reimburse/pkg/extract"
	"github.com/entrhq/reimburse/pkg/progress"
	"github.com/entrhq/reimburse/pkg/scratch"
	"github.com/entrhq/reimburse/pkg/service"
	"github.com/entrhq/reimburse/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var pngReceipt = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

type fakeBackend struct {
	mu sync.Mutex

	loginErr  error
	statusErr error
	submitErr error
	result    *types.BatchResult

	items    []service.Item
	batchCtx context.Context
	taskID   string
}

func (b *fakeBackend) Login(_ context.Context, email, _ string) (*service.LoginResult, error) {
	if b.loginErr != nil {
		return nil, b.loginErr
	}
	return &service.LoginResult{SessionID: "s-1", Message: service.MsgLoginRequired, Action: service.ActionLoginRequired}, nil
}

func (b *fakeBackend) LoginStatus(_ context.Context, sessionID string) (*service.Status, error) {
	if b.statusErr != nil {
		return nil, b.statusErr
	}
	return &service.Status{SessionID: sessionID, LoggedIn: true, BrowserOpen: true, Message: service.MsgAlreadyLoggedIn}, nil
}

func (b *fakeBackend) StoredStatus(_ context.Context, sessionID, chatID string) (*service.Status, error) {
	if sessionID == "" && chatID == "" {
		return nil, fmt.Errorf("%w: sessionId or telegramChatId is required", service.ErrInvalidInput)
	}
	if chatID == "unknown" {
		return nil, types.ErrSessionNotFound
	}
	return &service.Status{SessionID: "s-1", CookiesCount: 2, LoggedIn: true}, nil
}

func (b *fakeBackend) Logout(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId is required", service.ErrInvalidInput)
	}
	return nil
}

func (b *fakeBackend) InitLogin(_ context.Context, chatID, email string) (*service.InitLoginResult, error) {
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email format", service.ErrInvalidInput)
	}
	return &service.InitLoginResult{SessionID: "s-2", LoginToken: "tok", LoginURL: "http://bot/login/tok"}, nil
}

func (b *fakeBackend) ValidateToken(_ context.Context, token string) (*service.TokenInfo, error) {
	if token != "tok" {
		return nil, types.ErrInvalidToken
	}
	return &service.TokenInfo{Valid: true, SessionID: "s-2", Email: "a@b.co"}, nil
}

func (b *fakeBackend) Extract(_ context.Context, data []byte, _ string) (*service.Extraction, error) {
	return &service.Extraction{
		Fields:  extract.Fields{Date: "2024-03-09", Amount: decimal.RequireFromString("42"), Merchant: "Uber", Category: "Travel"},
		Mapping: types.CategoryMapping{CategoryValue: "cat-1", ExpenseTypeValue: "type-1"},
	}, nil
}

func (b *fakeBackend) Submit(ctx context.Context, sessionID, taskID string, item service.Item) (*types.BatchResult, error) {
	return b.SubmitBatch(ctx, sessionID, taskID, []service.Item{item})
}

func (b *fakeBackend) SubmitBatch(ctx context.Context, _, taskID string, items []service.Item) (*types.BatchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = items
	b.batchCtx = ctx
	b.taskID = taskID
	if b.result != nil {
		return b.result, b.submitErr
	}
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	res := &types.BatchResult{TaskID: "task-x"}
	for i := range items {
		res.Results = append(res.Results, types.RecordResult{Index: i, Success: true, Attempted: true})
	}
	res.Tally()
	return res, nil
}

func (b *fakeBackend) Progress(taskID string) progress.Update {
	return progress.Update{Percentage: 60, Message: "Saving expense 2/3..."}
}

func newTestServer(t *testing.T) (*Server, *fakeBackend, *scratch.Dir) {
	t.Helper()
	dir, err := scratch.Open(t.TempDir(), nil)
	require.NoError(t, err)
	b := &fakeBackend{}
	return New(b, dir), b, dir
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type part struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, target string, fields map[string]string, files ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestLoginRoutes(t *testing.T) {
	srv, b, _ := newTestServer(t)

	rec, body := do(t, srv, jsonRequest(http.MethodPost, "/api/login", `{"email":"a@b.co"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s-1", body["sessionId"])
	assert.Equal(t, service.ActionLoginRequired, body["action"])

	rec, _ = do(t, srv, jsonRequest(http.MethodPost, "/api/login", `not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	b.loginErr = types.NewFatal("launch browser", types.ErrBrowserUnavailable)
	rec, body = do(t, srv, jsonRequest(http.MethodPost, "/api/login", `{"email":"a@b.co"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["message"], "cannot obtain browser")

	rec, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/login?sessionId=s-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["loggedIn"])
	assert.Equal(t, true, body["browserOpen"])

	rec, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/login", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	b.statusErr = types.ErrSessionNotFound
	rec, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/login?sessionId=gone", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["loggedIn"])

	rec, _ = do(t, srv, jsonRequest(http.MethodPost, "/api/logout", `{"sessionId":"s-1"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, srv, jsonRequest(http.MethodPost, "/api/logout", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoredStatusRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/login/status?telegramChatId=42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["cookiesCount"])

	rec, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/login/status", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/login/status?telegramChatId=unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInitLoginAndValidateRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := do(t, srv, jsonRequest(http.MethodPost, "/api/telegram/init-login", `{"telegramChatId":"42","email":"a@b.co"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://bot/login/tok", body["loginUrl"])

	rec, _ = do(t, srv, jsonRequest(http.MethodPost, "/api/telegram/init-login", `{"telegramChatId":"42","email":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/login/validate?token=tok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])

	rec, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/login/validate?token=bad", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, body["valid"])
}

func TestOCRRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := do(t, srv, multipartRequest(t, "/api/ocr", nil, part{"file", "r.png", pngReceipt}))
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Uber", data["merchant"])
	assert.Equal(t, "cat-1", data["categoryValue"])

	rec, _ = do(t, srv, multipartRequest(t, "/api/ocr", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func submitFields() map[string]string {
	return map[string]string{
		"sessionId":        "s-1",
		"date":             "2024-03-09",
		"amount":           "249.50",
		"merchant":         " Swiggy ",
		"description":      "lunch",
		"categoryValue":    "cat-1",
		"expenseTypeValue": "type-1",
	}
}

func TestSubmitRoute(t *testing.T) {
	srv, b, _ := newTestServer(t)

	rec, body := do(t, srv, multipartRequest(t, "/api/submit", submitFields(), part{"file", "r.png", pngReceipt}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "task-x", body["taskId"])
	require.Len(t, b.items, 1)
	assert.Equal(t, "Swiggy", b.items[0].Record.Merchant)
	assert.True(t, b.items[0].Record.Amount.Equal(decimal.RequireFromString("249.5")))
	assert.Equal(t, "r.png", b.items[0].Receipt.Name)

	fields := submitFields()
	fields["amount"] = "lots"
	rec, _ = do(t, srv, multipartRequest(t, "/api/submit", fields, part{"file", "r.png", pngReceipt}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv, multipartRequest(t, "/api/submit", submitFields()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	b.result = &types.BatchResult{TaskID: "t", Results: []types.RecordResult{{Index: 0, Attempted: true, Error: "save: could not find Save button"}}}
	b.result.Tally()
	rec, body = do(t, srv, multipartRequest(t, "/api/submit", submitFields(), part{"file", "r.png", pngReceipt}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["message"], "Save button")
}

func TestBulkSubmitRoute(t *testing.T) {
	t.Run("runs detached and reports counts", func(t *testing.T) {
		srv, b, _ := newTestServer(t)
		invoices := `[{"date":"2024-03-09","amount":"10","merchant":"A","categoryValue":"c","expenseTypeValue":"e"},
			{"date":"10-03-2024","amount":12.5,"merchant":"B","categoryValue":"c","expenseTypeValue":"e"}]`
		req := multipartRequest(t, "/api/bulk-submit",
			map[string]string{"sessionId": "s-1", "taskId": "t-9", "invoices": invoices},
			part{"file_0", "a.png", pngReceipt}, part{"file_1", "b.png", pngReceipt})
		ctx, cancel := context.WithCancel(req.Context())
		req = req.WithContext(ctx)

		rec, body := do(t, srv, req)
		cancel()
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, float64(2), body["successCount"])
		assert.Equal(t, "t-9", b.taskID)
		assert.NoError(t, b.batchCtx.Err(), "batch context must not follow the request")
		assert.Equal(t, 10, b.items[1].Record.Date.Day())
	})

	t.Run("missing file", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		invoices := `[{"date":"2024-03-09","amount":"10","merchant":"A"},{"date":"2024-03-09","amount":"10","merchant":"B"}]`
		rec, _ := do(t, srv, multipartRequest(t, "/api/bulk-submit",
			map[string]string{"sessionId": "s-1", "invoices": invoices},
			part{"file_0", "a.png", pngReceipt}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad invoices", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		for _, raw := range []string{"", "{", "[]"} {
			rec, _ := do(t, srv, multipartRequest(t, "/api/bulk-submit", map[string]string{"sessionId": "s-1", "invoices": raw}))
			assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
		}
	})

	t.Run("stopped batch returns partial results", func(t *testing.T) {
		srv, b, _ := newTestServer(t)
		b.submitErr = types.NewFatal("check login", types.ErrNotLoggedIn)
		b.result = &types.BatchResult{TaskID: "t", Results: []types.RecordResult{{Index: 0, Error: "not attempted: not logged in"}}}
		b.result.Tally()

		rec, body := do(t, srv, multipartRequest(t, "/api/bulk-submit",
			map[string]string{"sessionId": "s-1", "invoices": `[{"date":"2024-03-09","amount":"1","merchant":"A"}]`},
			part{"file_0", "a.png", pngReceipt}))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, false, body["success"])
		assert.Len(t, body["results"], 1)
	})

	t.Run("stored uploads are referenced and marked", func(t *testing.T) {
		srv, b, dir := newTestServer(t)
		up, err := dir.StoreUpload("stored.png", "image/png", pngReceipt)
		require.NoError(t, err)

		invoices := fmt.Sprintf(`[{"date":"2024-03-09","amount":"1","merchant":"A","invoiceId":%q}]`, up.ID)
		rec, _ := do(t, srv, multipartRequest(t, "/api/bulk-submit",
			map[string]string{"sessionId": "s-1", "invoices": invoices}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "stored.png", b.items[0].Receipt.Name)

		got, err := dir.LoadUpload(up.ID)
		require.NoError(t, err)
		assert.Equal(t, scratch.StatusSubmitted, got.Status)
	})
}

func TestProgressRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/submit-progress?taskId=t-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(60), body["progress"])

	rec, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/submit-progress", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchUploadRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := do(t, srv, multipartRequest(t, "/api/batch-upload", nil,
		part{"files", "a.png", pngReceipt}, part{"files", "b.pdf", []byte("%PDF-1.4\n")}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["count"])
	ids := body["invoiceIds"].([]any)
	id := ids[0].(string)

	rec, body = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/batch-upload?invoiceId="+id, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a.png", body["invoice"].(map[string]any)["fileName"])

	rec, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/batch-file?invoiceId="+id, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngReceipt, rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="a.png"`)

	rec, _ = do(t, srv, httptest.NewRequest(http.MethodDelete, "/api/batch-upload?invoiceId="+id, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/batch-file?invoiceId="+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/batch-upload", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv, multipartRequest(t, "/api/batch-upload", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv, _, _ := newTestServer(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	http.DefaultClient.CloseIdleConnections()
}
