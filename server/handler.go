package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/krau/tinydata/clip"
	"github.com/krau/tinydata/search"
)

var (
	errUnauthorized = errors.New("unauthorized")
)

func (s *Server) authenticate(c *gin.Context) error {
	if s.token == "" {
		return nil
	}
	auth := c.GetHeader("Authorization")
	providedToken := ""
	if len(auth) > 7 && auth[:7] == "Bearer " {
		providedToken = auth[7:]
	}
	if subtle.ConstantTimeCompare([]byte(providedToken), []byte(s.token)) != 1 {
		return errUnauthorized
	}
	return nil
}

type ScoreResponse struct {
	RequestID string   `json:"request_id"`
	Topics    []string `json:"topics"`
	Files     []string `json:"files"`
	// Scores is indexed [image][topic].
	Scores [][]float32 `json:"scores"`
	// Ranking lists image indices per topic, most relevant first.
	Ranking [][]int `json:"ranking"`
}

// ScoreHandler scores every uploaded file against every topic field.
func (s *Server) ScoreHandler(c *gin.Context) {
	if err := s.authenticate(c); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected a multipart form"})
		return
	}
	var topics []string
	for _, t := range form.Value["topic"] {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no topic given"})
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}

	images := make([]clip.RawImage, 0, len(files))
	names := make([]string, 0, len(files))
	for i, fh := range files {
		img, err := readUpload(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file", "index": i})
			return
		}
		images = append(images, img)
		names = append(names, fh.Filename)
	}

	m, err := s.scorer.Score(c.Request.Context(), topics, images)
	if err != nil {
		s.scoreError(c, err)
		return
	}

	resp := ScoreResponse{
		RequestID: c.GetString(requestIDKey),
		Topics:    topics,
		Files:     names,
		Scores:    make([][]float32, m.Rows()),
		Ranking:   make([][]int, m.Cols()),
	}
	for i := range resp.Scores {
		resp.Scores[i] = m.Row(i)
	}
	for j := range resp.Ranking {
		for _, r := range m.Ranked(j) {
			resp.Ranking[j] = append(resp.Ranking[j], r.Index)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) scoreError(c *gin.Context, err error) {
	var (
		decodeErr *clip.ImageDecodeError
		tooLong   *clip.SequenceTooLongError
		vocabErr  *clip.VocabularyError
	)
	switch {
	case errors.As(err, &decodeErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "cannot decode image", "index": decodeErr.Index})
	case errors.As(err, &tooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": tooLong.Error(), "index": tooLong.Index})
	case errors.As(err, &vocabErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vocabErr.Error()})
	case c.Request.Context().Err() != nil:
		// client went away
		c.Status(499)
	default:
		slog.Error("Scoring failed", slog.String("request_id", c.GetString(requestIDKey)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scoring failed"})
	}
}

func readUpload(fh *multipart.FileHeader) (clip.RawImage, error) {
	f, err := fh.Open()
	if err != nil {
		return clip.RawImage{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return clip.RawImage{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return clip.RawImage{Data: data, Format: search.FormatOf(fh.Header.Get("Content-Type"))}, nil
}

func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
