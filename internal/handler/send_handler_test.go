package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

const (
	testSendID       = "6f1c2a52-3c1e-4b8e-9a53-0c6b1c3d2e11"
	testNewsletterID = "0b0e5d7e-8a57-4b8c-9d61-3c43a2f1b001"
)

type stubReader struct {
	page, pageSize       int
	newsletterID, status string
	failureLimit         int
	calls                int

	sends   []*model.Send
	details *service.SendDetails
	err     error
}

func (s *stubReader) ListSends(_ context.Context, page, pageSize int, newsletterID, status string) ([]*model.Send, map[string]int, error) {
	s.calls++
	s.page, s.pageSize, s.newsletterID, s.status = page, pageSize, newsletterID, status
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.sends, map[string]int{"page": page, "page_size": pageSize, "total_count": len(s.sends), "total_pages": 1}, nil
}

func (s *stubReader) GetSendDetails(_ context.Context, id string, limit int) (*service.SendDetails, error) {
	s.calls++
	s.failureLimit = limit
	return s.details, s.err
}

func newRouter(h *SendHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/sends", h.ListSendsHandler)
	r.Get("/api/sends/{id}", h.GetSendHandler)
	return r
}

func TestListSendsParsesQuery(t *testing.T) {
	stub := &stubReader{sends: []*model.Send{{ID: testSendID, Status: model.SendSent, CreatedAt: time.Now()}}}
	srv := newRouter(NewSendHandler(stub))

	req := httptest.NewRequest(http.MethodGet, "/api/sends?page=2&page_size=5&newsletter_id="+testNewsletterID+"&status=sent", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, stub.page)
	assert.Equal(t, 5, stub.pageSize)
	assert.Equal(t, testNewsletterID, stub.newsletterID)
	assert.Equal(t, "sent", stub.status)

	var body struct {
		Data       []map[string]interface{} `json:"data"`
		Pagination map[string]int           `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, testSendID, body.Data[0]["id"])
	assert.NotContains(t, body.Data[0], "content")
	assert.Equal(t, 2, body.Pagination["page"])
}

func TestListSendsDefaultsAndBadStatus(t *testing.T) {
	stub := &stubReader{}
	srv := newRouter(NewSendHandler(stub))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sends?page=-1&page_size=abc", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, stub.page)
	assert.Equal(t, 20, stub.pageSize)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sends?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSendsStoreError(t *testing.T) {
	srv := newRouter(NewSendHandler(&stubReader{err: errors.New("db down")}))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sends", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetSendReturnsStatsAndFailures(t *testing.T) {
	reason := "422: invalid recipient"
	stub := &stubReader{details: &service.SendDetails{
		Send:  &model.Send{ID: testSendID, Status: model.SendFailed, TotalRecipients: 10, SentCount: 7, FailedCount: 3},
		Stats: model.DeliveryCounts{Total: 10, Sent: 7, Failed: 3},
		Failures: []*model.Delivery{
			{ID: "d-1", Email: "bad@x.com", Status: model.DeliveryFailed, Error: &reason},
		},
	}}
	srv := newRouter(NewSendHandler(stub))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sends/"+testSendID+"?failures=25", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 25, stub.failureLimit)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, testSendID, body["id"])
	assert.Equal(t, "failed", body["status"])
	assert.Len(t, body["failures"], 1)
	assert.Contains(t, body, "stats")
}

func TestGetSendNotFound(t *testing.T) {
	srv := newRouter(NewSendHandler(&stubReader{err: appErrors.NewSendNotFound(testSendID)}))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sends/"+testSendID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMalformedIDsAreBadRequests(t *testing.T) {
	cases := []struct {
		name   string
		target string
	}{
		{"send id", "/api/sends/missing"},
		{"newsletter filter", "/api/sends?newsletter_id=nl-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubReader{err: errors.New("pq: invalid input syntax for type uuid")}
			srv := newRouter(NewSendHandler(stub))

			w := httptest.NewRecorder()
			srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.target, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, stub.calls, "store must not be queried")
		})
	}
}
