package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/krau/tinydata/clip"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeScorer scores image i against topic j as 1 when i%2 == j%2, else 0.
type fakeScorer struct {
	err        error
	gotTopics  []string
	gotFormats []string
}

func (f *fakeScorer) Score(_ context.Context, topics []string, images []clip.RawImage) (*clip.ScoreMatrix, error) {
	f.gotTopics = topics
	for _, img := range images {
		f.gotFormats = append(f.gotFormats, img.Format)
	}
	if f.err != nil {
		return nil, f.err
	}
	unit := func(i int) []float32 {
		if i%2 == 0 {
			return []float32{1, 0}
		}
		return []float32{0, 1}
	}
	var imgRows, txtRows [][]float32
	for i := range images {
		imgRows = append(imgRows, unit(i))
	}
	for j := range topics {
		txtRows = append(txtRows, unit(j))
	}
	imgs, _ := clip.NewEmbeddings(imgRows)
	txts, _ := clip.NewEmbeddings(txtRows)
	return clip.Score(imgs, txts)
}

func multipartBody(t *testing.T, topics []string, files int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, topic := range topics {
		if err := w.WriteField("topic", topic); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < files; i++ {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="img.png"`)
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte{byte(i)})
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func doScore(t *testing.T, s *Server, topics []string, files int, token string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, topics, files)
	req := httptest.NewRequest(http.MethodPost, "/score", body)
	req.Header.Set("Content-Type", ct)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestScoreHandler_Success(t *testing.T) {
	scorer := &fakeScorer{}
	s := New(scorer, Options{})

	w := doScore(t, s, []string{"dogs", "cats"}, 3, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp ScoreResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Scores) != 3 || len(resp.Scores[0]) != 2 {
		t.Fatalf("scores shape = %v", resp.Scores)
	}
	if resp.Scores[1][1] != 1 || resp.Scores[1][0] != 0 {
		t.Errorf("scores[1] = %v", resp.Scores[1])
	}
	if got := resp.Ranking[0]; len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 1 {
		t.Errorf("ranking[0] = %v, want [0 2 1]", got)
	}
	if resp.RequestID == "" || w.Header().Get("X-Request-ID") != resp.RequestID {
		t.Errorf("request id mismatch: body %q header %q", resp.RequestID, w.Header().Get("X-Request-ID"))
	}
	if scorer.gotFormats[0] != "png" {
		t.Errorf("format = %q, want png", scorer.gotFormats[0])
	}
}

func TestScoreHandler_Auth(t *testing.T) {
	s := New(&fakeScorer{}, Options{Token: "secret"})

	if w := doScore(t, s, []string{"dogs"}, 1, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}
	if w := doScore(t, s, []string{"dogs"}, 1, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}
	if w := doScore(t, s, []string{"dogs"}, 1, "secret"); w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", w.Code)
	}
}

func TestScoreHandler_BadRequest(t *testing.T) {
	s := New(&fakeScorer{}, Options{})

	if w := doScore(t, s, nil, 1, ""); w.Code != http.StatusBadRequest {
		t.Errorf("no topic: status = %d, want 400", w.Code)
	}
	if w := doScore(t, s, []string{"dogs"}, 0, ""); w.Code != http.StatusBadRequest {
		t.Errorf("no file: status = %d, want 400", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/score", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("no form: status = %d, want 400", w.Code)
	}
}

func TestScoreHandler_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantIndex int
	}{
		{"decode", &clip.ImageDecodeError{Index: 1, Err: errors.New("bad")}, http.StatusUnprocessableEntity, 1},
		{"too long", &clip.SequenceTooLongError{Index: 0, Length: 90, Max: 77}, http.StatusBadRequest, 0},
		{"internal", errors.New("onnx exploded"), http.StatusInternalServerError, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeScorer{err: tt.err}, Options{})
			w := doScore(t, s, []string{"dogs"}, 2, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantIndex < 0 {
				return
			}
			var body struct {
				Error string `json:"error"`
				Index int    `json:"index"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Index != tt.wantIndex || body.Error == "" {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestHealthHandler_RequestID(t *testing.T) {
	s := New(&fakeScorer{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want abc", got)
	}

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request id")
	}
}

func TestScoreHandler_BodyTooLarge(t *testing.T) {
	s := New(&fakeScorer{}, Options{MaxUpload: 1024})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("topic", "dogs")
	part, err := w.CreateFormFile("file", "big.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(make([]byte, 1<<20))
	w.Close()
	body := buf.Bytes()

	req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewReader(body))
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}

	// Without a declared length the cap is enforced while reading.
	req = httptest.NewRequest(http.MethodPost, "/score", io.NopCloser(bytes.NewReader(body)))
	req.ContentLength = -1
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("streamed: status = %d, want 413", rec.Code)
	}
}
