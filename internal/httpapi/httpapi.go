// Package httpapi exposes the pipeline over HTTP: multipart upload in,
// result location out.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/forPelevin/lipseg/internal/logger"
	"github.com/forPelevin/lipseg/internal/metrics"
	"github.com/forPelevin/lipseg/internal/pipeline"
	"github.com/forPelevin/lipseg/internal/ports"
	"github.com/forPelevin/lipseg/internal/types"
	"github.com/forPelevin/lipseg/internal/usecase"
	"github.com/forPelevin/lipseg/internal/workspace"
)

const maxMemory = 32 << 20

// Runner is satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (usecase.Result, error)
}

type Deps struct {
	Pipeline   Runner
	Media      ports.MediaTool
	Workspaces *workspace.Manager
	// Store is optional; without it results are moved into OutDir.
	Store            ports.ObjectStore
	OutDir           string
	MaxUploadBytes   int64
	MaxInputDuration time.Duration
	Log              *slog.Logger
}

type Server struct {
	d   Deps
	log *slog.Logger
}

func New(d Deps) *Server {
	return &Server{d: d, log: logger.OrDiscard(d.Log)}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/", s.root).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.upload).Methods(http.MethodPost)
	r.HandleFunc("/delete/{key:.+}", s.delete).Methods(http.MethodDelete)
	return r
}

type UploadResponse struct {
	RunID         string   `json:"run_id"`
	VideoURL      string   `json:"video_url,omitempty"`
	AudioURL      string   `json:"audio_url,omitempty"`
	ResultURL     string   `json:"result_url,omitempty"`
	ThumbnailURL  string   `json:"thumbnail_url,omitempty"`
	ResultPath    string   `json:"result_path,omitempty"`
	ThumbnailPath string   `json:"thumbnail_path,omitempty"`
	Segments      int      `json:"segments"`
	Warnings      []string `json:"warnings,omitempty"`
}

type errorResponse struct {
	Detail         string             `json:"detail"`
	FailedSegments []types.JobFailure `json:"failed_segments,omitempty"`
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "active", "message": "Server is running"})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// upload handles POST /upload
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if s.d.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.d.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	video, videoHdr, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Both video and audio files are required")
		return
	}
	defer video.Close()
	audio, audioHdr, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Both video and audio files are required")
		return
	}
	defer audio.Close()

	var segment *int
	if v := strings.TrimSpace(r.FormValue("segment_seconds")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "segment_seconds must be a non-negative integer")
			return
		}
		segment = &n
	}

	ctx := r.Context()
	ws, err := s.d.Workspaces.Acquire()
	if err != nil {
		s.fail(w, "acquire request workspace", err)
		return
	}
	defer func() {
		if err := ws.Close(); err != nil {
			s.log.Error("request workspace teardown", slog.String("error", err.Error()))
		}
	}()
	inDir, err := ws.Dir("upload")
	if err != nil {
		s.fail(w, "prepare upload dir", err)
		return
	}

	videoPath := filepath.Join(inDir, "video"+extOr(videoHdr.Filename, ".mp4"))
	audioPath := filepath.Join(inDir, "audio"+extOr(audioHdr.Filename, ".wav"))
	if err := saveUpload(video, videoPath); err != nil {
		s.fail(w, "save video", err)
		return
	}
	if err := saveUpload(audio, audioPath); err != nil {
		s.fail(w, "save audio", err)
		return
	}

	resp := UploadResponse{}
	if s.d.Store != nil {
		if _, resp.VideoURL, err = s.storeFile(ctx, "video", videoHdr.Filename, videoPath); err != nil {
			s.fail(w, "store video", err)
			return
		}
		if _, resp.AudioURL, err = s.storeFile(ctx, "audio", audioHdr.Filename, audioPath); err != nil {
			s.fail(w, "store audio", err)
			return
		}
	}

	if s.d.MaxInputDuration > 0 {
		for _, in := range []struct{ kind, path string }{{"video", videoPath}, {"audio", audioPath}} {
			d, err := s.d.Media.ProbeDuration(ctx, in.path)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot read %s duration", in.kind))
				return
			}
			if d > s.d.MaxInputDuration {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("%s exceeds %s", in.kind, s.d.MaxInputDuration))
				return
			}
		}
	}

	resultPath := ws.Path("result.mp4")
	res, err := s.d.Pipeline.Run(ctx, pipeline.Request{
		VideoPath:      videoPath,
		AudioPath:      audioPath,
		OutPath:        resultPath,
		SegmentSeconds: segment,
	})
	resp.RunID = res.RunID
	if err != nil {
		var infErr *types.InferenceError
		if errors.As(err, &infErr) {
			s.log.Warn("upload run failed", slog.String("run_id", res.RunID), slog.Any("failed", infErr.Indices()))
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Detail:         err.Error(),
				FailedSegments: infErr.Failures,
			})
			return
		}
		s.fail(w, "run pipeline", err)
		return
	}
	resp.Segments = res.Pairs
	if res.Warning != nil {
		resp.Warnings = append(resp.Warnings, res.Warning.String())
	}

	thumbPath := ws.Path("thumbnail.png")
	if err := s.d.Media.Thumbnail(ctx, videoPath, thumbPath); err != nil {
		s.log.Warn("thumbnail failed", slog.String("run_id", res.RunID), slog.String("error", err.Error()))
		thumbPath = ""
	}

	if s.d.Store != nil {
		if _, resp.ResultURL, err = s.storeFile(ctx, "result", videoHdr.Filename, resultPath); err != nil {
			s.fail(w, "store result", err)
			return
		}
		if thumbPath != "" {
			if _, resp.ThumbnailURL, err = s.storeFile(ctx, "thumbnail", "user-thumbnail.png", thumbPath); err != nil {
				s.fail(w, "store thumbnail", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.ResultPath = filepath.Join(s.d.OutDir, res.RunID+".mp4")
	if err := ws.Handoff(resultPath, resp.ResultPath); err != nil {
		s.fail(w, "move result", err)
		return
	}
	if thumbPath != "" {
		resp.ThumbnailPath = filepath.Join(s.d.OutDir, res.RunID+"-thumbnail.png")
		if err := ws.Handoff(thumbPath, resp.ThumbnailPath); err != nil {
			s.log.Warn("move thumbnail", slog.String("error", err.Error()))
			resp.ThumbnailPath = ""
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// delete handles DELETE /delete/{key}
func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	if s.d.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage is not configured")
		return
	}
	key := mux.Vars(r)["key"]
	if err := s.d.Store.Delete(r.Context(), key); err != nil {
		s.fail(w, "delete object", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted successfully"})
}

func (s *Server) storeFile(ctx context.Context, slug, filename, path string) (string, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	return s.d.Store.Upload(ctx, slug, filename, f)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func saveUpload(src multipart.File, dst string) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// extOr keeps a short alphanumeric extension from the client filename.
func extOr(filename, def string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 6 {
		return def
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return def
		}
	}
	return ext
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
